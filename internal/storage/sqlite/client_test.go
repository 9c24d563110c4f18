package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dblp-kgqa/kgqa/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "kgqa.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient_CreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "kgqa.db")

	c, err := NewClient(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.InitSchema())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestNewClient_UnwritableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewClient(filepath.Join(blocker, "kgqa.db"))
	assert.Error(t, err)
}

func TestRuns(t *testing.T) {
	c := newTestClient(t)

	run := &models.Run{
		ID:           "run-1",
		TestSetPath:  "test_data.json",
		OutputPath:   "predictions.json",
		Format:       "ask-dblp",
		Model:        "qwen2.5-coder-32b-instruct",
		ResumePolicy: "skip",
		Status:       models.RunRunning,
		Total:        3,
		StartedAt:    time.Now(),
	}
	require.NoError(t, c.CreateRun(run))

	finished := time.Now()
	run.Status = models.RunCompleted
	run.Processed = 3
	run.Answered = 2
	run.Unanswered = 1
	run.FinishedAt = &finished
	require.NoError(t, c.UpdateRun(run))

	got, err := c.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, 2, got.Answered)
	assert.Equal(t, 1, got.Unanswered)
	require.NotNil(t, got.FinishedAt)

	runs, err := c.ListRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = c.GetRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, c.UpdateRun(&models.Run{ID: "missing"}), ErrNotFound)
}

func TestOutcomes(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.CreateRun(&models.Run{ID: "run-1", Status: models.RunRunning, StartedAt: time.Now()}))

	conf := 0.8
	require.NoError(t, c.InsertOutcome(&models.OutcomeRecord{
		RunID: "run-1", QuestionID: "q1", Question: "Q1", Status: "answered",
		Query: "SELECT 1", AnswerCount: 2, Confidence: &conf, CreatedAt: time.Now(),
	}))
	require.NoError(t, c.InsertOutcome(&models.OutcomeRecord{
		RunID: "run-1", QuestionID: "q2", Question: "Q2", Status: "unanswered",
		Reason: "no query", CreatedAt: time.Now(),
	}))
	require.NoError(t, c.InsertOutcome(&models.OutcomeRecord{
		QuestionID: "adhoc", Question: "Q3", Status: "answered", CreatedAt: time.Now(),
	}))

	all, err := c.ListOutcomes("run-1", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "q1", all[0].QuestionID)
	require.NotNil(t, all[0].Confidence)
	assert.Equal(t, 0.8, *all[0].Confidence)
	assert.Nil(t, all[1].Confidence)

	unanswered, err := c.ListOutcomes("run-1", "unanswered", 10)
	require.NoError(t, err)
	require.Len(t, unanswered, 1)
	assert.Equal(t, "no query", unanswered[0].Reason)

	adhoc, err := c.ListOutcomes("", "", 10)
	require.NoError(t, err)
	require.Len(t, adhoc, 1)
	assert.Equal(t, "adhoc", adhoc[0].QuestionID)
}
