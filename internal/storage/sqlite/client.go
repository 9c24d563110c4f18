package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/storage/models"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

// NewClient opens the database at dbPath, creating its directory when
// missing.
func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		test_set_path TEXT NOT NULL,
		output_path TEXT NOT NULL,
		format TEXT,
		model TEXT,
		resume_policy TEXT,
		status TEXT NOT NULL,
		total INTEGER DEFAULT 0,
		processed INTEGER DEFAULT 0,
		answered INTEGER DEFAULT 0,
		empty_answers INTEGER DEFAULT 0,
		unanswered INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		question_id TEXT NOT NULL,
		question TEXT NOT NULL,
		status TEXT NOT NULL,
		query TEXT,
		answer_count INTEGER DEFAULT 0,
		confidence REAL,
		execution_error TEXT,
		reason TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_question ON outcomes(question_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(status);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateRun(run *models.Run) error {
	query := `
		INSERT INTO runs (id, test_set_path, output_path, format, model, resume_policy, status, total, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		run.ID,
		run.TestSetPath,
		run.OutputPath,
		run.Format,
		run.Model,
		run.ResumePolicy,
		string(run.Status),
		run.Total,
		run.StartedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	logger.Debug("Run recorded", zap.String("run_id", run.ID))
	return nil
}

// UpdateRun writes the counters, status and finish time of run.
func (c *Client) UpdateRun(run *models.Run) error {
	query := `
		UPDATE runs SET
			status = ?, processed = ?, answered = ?, empty_answers = ?,
			unanswered = ?, failed = ?, skipped = ?, finished_at = ?
		WHERE id = ?
	`

	var finishedAt sql.NullInt64
	if run.FinishedAt != nil {
		finishedAt = sql.NullInt64{Int64: run.FinishedAt.Unix(), Valid: true}
	}

	res, err := c.db.Exec(
		query,
		string(run.Status),
		run.Processed,
		run.Answered,
		run.EmptyAnswers,
		run.Unanswered,
		run.Failed,
		run.Skipped,
		finishedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, run.ID)
	}

	return nil
}

const runColumns = `id, test_set_path, output_path, format, model, resume_policy, status,
	total, processed, answered, empty_answers, unanswered, failed, skipped, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var r models.Run
	var status string
	var startedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(
		&r.ID, &r.TestSetPath, &r.OutputPath, &r.Format, &r.Model, &r.ResumePolicy, &status,
		&r.Total, &r.Processed, &r.Answered, &r.EmptyAnswers, &r.Unanswered, &r.Failed, &r.Skipped,
		&startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = models.RunStatus(status)
	r.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		r.FinishedAt = &t
	}
	return &r, nil
}

func (c *Client) GetRun(id string) (*models.Run, error) {
	row := c.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (c *Client) ListRuns(limit int) ([]models.Run, error) {
	rows, err := c.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, *r)
	}

	return runs, rows.Err()
}

func (c *Client) InsertOutcome(o *models.OutcomeRecord) error {
	query := `
		INSERT INTO outcomes (run_id, question_id, question, status, query, answer_count,
			confidence, execution_error, reason, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var runID sql.NullString
	if o.RunID != "" {
		runID = sql.NullString{String: o.RunID, Valid: true}
	}
	var confidence sql.NullFloat64
	if o.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *o.Confidence, Valid: true}
	}

	_, err := c.db.Exec(
		query,
		runID,
		o.QuestionID,
		o.Question,
		o.Status,
		o.Query,
		o.AnswerCount,
		confidence,
		o.ExecutionError,
		o.Reason,
		o.LatencyMS,
		o.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}

	logger.Debug("Outcome recorded",
		zap.String("run_id", o.RunID),
		zap.String("question_id", o.QuestionID),
		zap.String("status", o.Status),
	)

	return nil
}

// ListOutcomes returns a run's outcomes in insertion order. An empty status
// matches every status.
func (c *Client) ListOutcomes(runID, status string, limit int) ([]models.OutcomeRecord, error) {
	query := `
		SELECT id, COALESCE(run_id, ''), question_id, question, status, COALESCE(query, ''), answer_count,
			confidence, COALESCE(execution_error, ''), COALESCE(reason, ''), latency_ms, created_at
		FROM outcomes
		WHERE COALESCE(run_id, '') = ? AND (? = '' OR status = ?)
		ORDER BY id
		LIMIT ?
	`

	rows, err := c.db.Query(query, runID, status, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]models.OutcomeRecord, 0)
	for rows.Next() {
		var o models.OutcomeRecord
		var confidence sql.NullFloat64
		var createdAt int64

		err := rows.Scan(&o.ID, &o.RunID, &o.QuestionID, &o.Question, &o.Status, &o.Query, &o.AnswerCount,
			&confidence, &o.ExecutionError, &o.Reason, &o.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if confidence.Valid {
			v := confidence.Float64
			o.Confidence = &v
		}
		o.CreatedAt = time.Unix(createdAt, 0)
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}
