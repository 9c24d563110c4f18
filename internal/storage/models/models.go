package models

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// Run is one evaluation harness invocation over a test set.
type Run struct {
	ID           string     `json:"id"`
	TestSetPath  string     `json:"test_set_path"`
	OutputPath   string     `json:"output_path"`
	Format       string     `json:"format"`
	Model        string     `json:"model"`
	ResumePolicy string     `json:"resume_policy"`
	Status       RunStatus  `json:"status"`
	Total        int        `json:"total"`
	Processed    int        `json:"processed"`
	Answered     int        `json:"answered"`
	EmptyAnswers int        `json:"empty_answers"`
	Unanswered   int        `json:"unanswered"`
	Failed       int        `json:"failed"`
	Skipped      int        `json:"skipped"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// OutcomeRecord is the audit row for one question of a run. RunID is empty
// for ad-hoc questions asked through the CLI or the API.
type OutcomeRecord struct {
	ID             int       `json:"id"`
	RunID          string    `json:"run_id"`
	QuestionID     string    `json:"question_id"`
	Question       string    `json:"question"`
	Status         string    `json:"status"`
	Query          string    `json:"query"`
	AnswerCount    int       `json:"answer_count"`
	Confidence     *float64  `json:"confidence,omitempty"`
	ExecutionError string    `json:"execution_error,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	LatencyMS      int       `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
