package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dblp-kgqa/kgqa/internal/qa"
)

func record(values ...string) *qa.AnswerRecord {
	conf := 0.75
	return &qa.AnswerRecord{
		Answer:           qa.ValuesAnswer(values...),
		Query:            "SELECT ?title WHERE {}",
		Confidence:       &conf,
		AllEntities:      []qa.LinkedEntity{},
		SelectedEntities: []qa.LinkedEntity{},
		SimilarQuestions: []qa.SimilarExample{},
		TopK:             5,
	}
}

func TestOpen_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "predictions.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 0, s.Len())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.json")

	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Append(qa.Entry{QuestionID: "q1", Record: record("Paper A", "Paper B")}))
	require.NoError(t, s.Append(qa.Entry{QuestionID: "q2"}))
	require.NoError(t, s.Append(qa.Entry{QuestionID: "q3", Record: &qa.AnswerRecord{Answer: qa.BooleanAnswer(true), TopK: 5}}))
	want := s.Entries()
	require.NoError(t, s.Close())

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"q1", "q2", "q3"}, []string{got[0].QuestionID, got[1].QuestionID, got[2].QuestionID})
	assert.Equal(t, want[0].Record.Answer, got[0].Record.Answer)
	assert.Equal(t, *want[0].Record.Confidence, *got[0].Record.Confidence)
	assert.True(t, got[1].Empty())
	assert.True(t, got[2].Record.Answer.IsBoolean())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"q2": {}`)
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "predictions.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(qa.Entry{QuestionID: id, Record: record("x")}))
	}

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.ElementsMatch(t, []string{"predictions.json", "predictions.json.lock"}, names)
}

func TestStore_Upsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(qa.Entry{QuestionID: "q1"}))
	require.NoError(t, s.Append(qa.Entry{QuestionID: "q2", Record: record("y")}))

	assert.True(t, s.Has("q1"))
	assert.False(t, s.HasAnswered("q1"))
	assert.True(t, s.HasAnswered("q2"))

	require.NoError(t, s.Upsert(qa.Entry{QuestionID: "q1", Record: record("x")}))
	require.NoError(t, s.Upsert(qa.Entry{QuestionID: "q3"}))

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "q1", entries[0].QuestionID)
	assert.False(t, entries[0].Empty())
	assert.Equal(t, "q3", entries[2].QuestionID)

	onDisk, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, onDisk, 3)
	assert.True(t, s.HasAnswered("q1"))
}

func TestOpen_Locked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.json")

	s, err := Open(path)
	require.NoError(t, err)

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestLoad_BlankAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	blank := filepath.Join(dir, "blank.json")
	require.NoError(t, os.WriteFile(blank, []byte("  \n"), 0o644))
	entries, err := Load(blank)
	require.NoError(t, err)
	assert.Empty(t, entries)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(`[{"q1": {}`), 0o644))
	_, err = Load(corrupt)
	assert.Error(t, err)
}

func TestLoad_ExistingPredictions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answer_predictions_test.json")
	body := `[
    {"q1": {"answer": ["Paper A"], "sparql": "SELECT 1", "confidence": 0.9, "all_entities": [], "selected_entities": [], "similar_questions": [], "top_k": 5}},
    {"q2": {}}
]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.HasAnswered("q1"))
	assert.True(t, s.Has("q2"))
	assert.False(t, s.HasAnswered("q2"))
}
