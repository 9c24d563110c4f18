package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dblp-kgqa/kgqa/internal/api/handlers"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/internal/storage/models"
	"github.com/dblp-kgqa/kgqa/internal/storage/sqlite"
)

type fakeEngine struct {
	questions []qa.Question
	topKs     []int
}

func (f *fakeEngine) Answer(_ context.Context, q qa.Question, topK int) qa.Outcome {
	f.questions = append(f.questions, q)
	f.topKs = append(f.topKs, topK)
	if strings.Contains(q.Text, "unknown") {
		return qa.Unanswered(q.ID, "response carried no query")
	}
	conf := 0.9
	return qa.Answered(q.ID, &qa.AnswerRecord{
		Answer:     qa.ValuesAnswer("Paper A", "Paper B"),
		Query:      "SELECT ?title WHERE {}",
		Confidence: &conf,
		TopK:       topK,
	})
}

type fakeRuns struct {
	runs     []models.Run
	outcomes []models.OutcomeRecord
}

func (f *fakeRuns) ListRuns(limit int) ([]models.Run, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeRuns) GetRun(id string) (*models.Run, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: run %s", sqlite.ErrNotFound, id)
}

func (f *fakeRuns) ListOutcomes(runID, status string, _ int) ([]models.OutcomeRecord, error) {
	var out []models.OutcomeRecord
	for _, o := range f.outcomes {
		if o.RunID == runID && (status == "" || o.Status == status) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeRuns) InsertOutcome(o *models.OutcomeRecord) error {
	f.outcomes = append(f.outcomes, *o)
	return nil
}

func newTestApp(t *testing.T, cfg Config, deps Dependencies) *testApp {
	t.Helper()
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 100
	}
	app, stop := NewApp(cfg, deps)
	t.Cleanup(stop)
	return &testApp{t: t, app: app}
}

type testApp struct {
	t   *testing.T
	app interface {
		Test(req *http.Request, msTimeout ...int) (*http.Response, error)
	}
}

func (a *testApp) do(method, path, body string) (*http.Response, map[string]any) {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(a.t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	var decoded map[string]any
	if len(data) > 0 {
		_ = json.Unmarshal(data, &decoded)
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, Config{}, Dependencies{Engine: &fakeEngine{}})

	resp, body := a.do(http.MethodGet, "/api/v1/health", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	a := newTestApp(t, Config{}, Dependencies{
		Engine: &fakeEngine{},
		Ready:  func() error { return fmt.Errorf("sparql endpoint down") },
	})

	resp, body := a.do(http.MethodGet, "/api/v1/ready", "")

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "sparql endpoint down", body["error"])
}

func TestAnswer(t *testing.T) {
	engine := &fakeEngine{}
	audit := &fakeRuns{}
	a := newTestApp(t, Config{}, Dependencies{Engine: engine, TopK: 5, Audit: audit})

	resp, body := a.do(http.MethodPost, "/api/v1/answer", `{"id": "q1", "question": "  What are the publications\u0000 of Hannah Bast?  "}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "q1", body["id"])
	assert.Equal(t, "answered", body["status"])
	assert.Equal(t, []any{"Paper A", "Paper B"}, body["answer"])
	assert.Equal(t, "SELECT ?title WHERE {}", body["sparql"])

	require.Len(t, engine.questions, 1)
	assert.Equal(t, "What are the publications of Hannah Bast?", engine.questions[0].Text)
	assert.Equal(t, 5, engine.topKs[0])

	require.Len(t, audit.outcomes, 1)
	assert.Equal(t, "", audit.outcomes[0].RunID)
	assert.Equal(t, 2, audit.outcomes[0].AnswerCount)
}

func TestAnswer_GeneratesIDAndHonorsTopK(t *testing.T) {
	engine := &fakeEngine{}
	a := newTestApp(t, Config{}, Dependencies{Engine: engine})

	resp, body := a.do(http.MethodPost, "/api/v1/answer", `{"question": "Who wrote it?", "top_k": 3}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, 3, engine.topKs[0])
}

func TestAnswer_Unanswered(t *testing.T) {
	a := newTestApp(t, Config{}, Dependencies{Engine: &fakeEngine{}})

	resp, body := a.do(http.MethodPost, "/api/v1/answer", `{"question": "an unknown question"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unanswered", body["status"])
	assert.Nil(t, body["answer"])
	assert.Equal(t, "response carried no query", body["reason"])
}

func TestAnswer_Validation(t *testing.T) {
	engine := &fakeEngine{}
	a := newTestApp(t, Config{MaxQuestionLength: 20}, Dependencies{Engine: engine})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing question", `{"id": "q1"}`, http.StatusBadRequest},
		{"blank question", `{"question": " \t "}`, http.StatusBadRequest},
		{"not a string", `{"question": 42}`, http.StatusBadRequest},
		{"too long", `{"question": "` + strings.Repeat("x", 21) + `"}`, http.StatusBadRequest},
		{"script", `{"question": "<script>alert(1)</script>"}`, http.StatusBadRequest},
		{"malformed", `{"question": `, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := a.do(http.MethodPost, "/api/v1/answer", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Empty(t, engine.questions)
}

func TestAnswer_UnsupportedContentType(t *testing.T) {
	a := newTestApp(t, Config{}, Dependencies{Engine: &fakeEngine{}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer", strings.NewReader("question=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestAnswer_RateLimited(t *testing.T) {
	a := newTestApp(t, Config{RequestsPerMinute: 1}, Dependencies{Engine: &fakeEngine{}})

	resp, _ := a.do(http.MethodPost, "/api/v1/answer", `{"question": "first"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = a.do(http.MethodPost, "/api/v1/answer", `{"question": "second"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRuns(t *testing.T) {
	finished := time.Unix(1700000100, 0)
	store := &fakeRuns{
		runs: []models.Run{
			{ID: "run-1", Status: models.RunCompleted, Total: 2, Answered: 1, Failed: 1, StartedAt: time.Unix(1700000000, 0), FinishedAt: &finished},
		},
		outcomes: []models.OutcomeRecord{
			{RunID: "run-1", QuestionID: "q1", Status: "answered"},
			{RunID: "run-1", QuestionID: "q2", Status: "failed"},
		},
	}
	a := newTestApp(t, Config{}, Dependencies{Engine: &fakeEngine{}, Runs: store})

	resp, body := a.do(http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["runs"], 1)

	resp, body = a.do(http.MethodGet, "/api/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(2), body["total"])

	resp, body = a.do(http.MethodGet, "/api/v1/runs/run-1/outcomes?status=failed", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	outcomes, ok := body["outcomes"].([]any)
	require.True(t, ok)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "q2", outcomes[0].(map[string]any)["question_id"])

	resp, _ = a.do(http.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = a.do(http.MethodGet, "/api/v1/runs/missing/outcomes", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRuns_NotMountedWithoutStore(t *testing.T) {
	a := newTestApp(t, Config{}, Dependencies{Engine: &fakeEngine{}})

	resp, _ := a.do(http.MethodGet, "/api/v1/runs", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	a := newTestApp(t, Config{}, Dependencies{Engine: &fakeEngine{}})

	resp, _ := a.do(http.MethodGet, "/ws/answer", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestNewAnswerResponse_Boolean(t *testing.T) {
	out := qa.Answered("q", &qa.AnswerRecord{Answer: qa.BooleanAnswer(true), Query: "ASK {}"})

	resp := handlers.NewAnswerResponse(out, 1500*time.Millisecond)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"answer":true`)
	assert.Contains(t, string(data), `"latency_ms":1500`)
}
