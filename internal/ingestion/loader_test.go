package ingestion

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dblp-kgqa/kgqa/internal/qa"
)

const askDBLPFixture = `[
	{
		"id": "A1",
		"formal_question": "What are the publications of Hannah Bast?",
		"sparql": "SELECT ?title WHERE { ?p <https://dblp.org/rdf/schema#authoredBy> <https://dblp.org/pid/b/HannahBast> . ?p <https://dblp.org/rdf/schema#title> ?title }",
		"entities": [{"mention": "Hannah Bast", "uri": "https://dblp.org/pid/b/HannahBast"}],
		"answer": [{"title": "Paper A"}, {"title": "Paper B"}]
	},
	{
		"id": 7,
		"formal_question": "Did Hannah Bast publish at SIGIR?",
		"sparql": "ASK { }",
		"entities": [],
		"answer": []
	}
]`

const dblpQuADFixture = `{
	"questions": [
		{
			"id": "Q0001",
			"question": {"string": "Which papers did Hannah Bast write?"},
			"paraphrased_question": {"string": "What are the publications of Hannah Bast?"},
			"query": {"sparql": "SELECT ?x WHERE { }"}
		},
		{
			"id": "Q0002",
			"question": {"string": "Is SIGIR a venue?"},
			"paraphrased_question": {"string": ""},
			"query": {"sparql": "ASK { }"}
		}
	]
}`

func writeFixture(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("DBLP-QuAD")
	require.NoError(t, err)
	assert.Equal(t, FormatDBLPQuAD, f)

	_, err = ParseFormat("lcquad")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoadQuestions_MissingFileIsEmpty(t *testing.T) {
	for _, format := range []Format{FormatAskDBLP, FormatDBLPQuAD} {
		questions, err := LoadQuestions(filepath.Join(t.TempDir(), "absent.json"), format)
		require.NoError(t, err)
		assert.NotNil(t, questions)
		assert.Empty(t, questions)
	}
}

func TestLoadQuestions_AskDBLP(t *testing.T) {
	path := writeFixture(t, "test.json", askDBLPFixture)

	questions, err := LoadQuestions(path, FormatAskDBLP)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, qa.Question{ID: "A1", Text: "What are the publications of Hannah Bast?"}, questions[0])
	assert.Equal(t, "7", questions[1].ID)
}

func TestLoadQuestions_AskDBLPMissingID(t *testing.T) {
	path := writeFixture(t, "test.json", `[{"formal_question": "x"}]`)

	_, err := LoadQuestions(path, FormatAskDBLP)
	assert.ErrorIs(t, err, qa.ErrNoQuestionID)
}

func TestLoadQuestions_DBLPQuADUsesParaphrase(t *testing.T) {
	path := writeFixture(t, "questions.json", dblpQuADFixture)

	questions, err := LoadQuestions(path, FormatDBLPQuAD)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "What are the publications of Hannah Bast?", questions[0].Text)
	assert.Equal(t, "Which papers did Hannah Bast write?", questions[0].Paraphrase)
	assert.Equal(t, "Is SIGIR a venue?", questions[1].Text)
}

func TestLoadQuestions_InvalidJSON(t *testing.T) {
	path := writeFixture(t, "broken.json", `[{"id": `)

	_, err := LoadQuestions(path, FormatAskDBLP)
	assert.Error(t, err)
}

func TestLoadPool(t *testing.T) {
	askPath := writeFixture(t, "train.json", askDBLPFixture)
	pool, err := LoadPool(askPath)
	require.NoError(t, err)
	require.Len(t, pool, 2)
	assert.Equal(t, "A1", pool[0].ID)
	assert.Equal(t, []qa.ExampleEntity{{Mention: "Hannah Bast", URI: "https://dblp.org/pid/b/HannahBast"}}, pool[0].Entities)
	assert.Equal(t, "ASK { }", pool[1].Query)
	assert.Empty(t, pool[1].Entities)

	quadPath := writeFixture(t, "quad.json", dblpQuADFixture)
	pool, err = LoadPool(quadPath)
	require.NoError(t, err)
	require.Len(t, pool, 2)
	assert.Equal(t, "Which papers did Hannah Bast write?", pool[0].Question)
	assert.Equal(t, "SELECT ?x WHERE { }", pool[0].Query)
}

func TestLoadPool_DropsItemsWithoutQuery(t *testing.T) {
	path := writeFixture(t, "train.json", `[{"id": "1", "formal_question": "x"}, {"id": "2", "formal_question": "y", "sparql": "ASK {}"}]`)

	pool, err := LoadPool(path)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, "2", pool[0].ID)
}

func TestLoadGold_AskDBLP(t *testing.T) {
	path := writeFixture(t, "test.json", askDBLPFixture)

	gold, err := LoadGold(path, FormatAskDBLP)
	require.NoError(t, err)
	assert.Equal(t, []qa.IDAnswer{
		{ID: "A1", Answer: []string{"Paper A", "Paper B"}},
		{ID: "7", Answer: []string{}},
	}, gold)
}

func TestLoadGold_DBLPQuAD(t *testing.T) {
	path := writeFixture(t, "answers.json", `{"answers": [
		{"id": "Q0001", "answer": {"head": {"vars": ["x"]}, "results": {"bindings": [
			{"x": {"type": "uri", "value": "https://dblp.org/rec/a"}},
			{"x": {"type": "uri", "value": "https://dblp.org/rec/b"}}
		]}}},
		{"id": "Q0002", "answer": {"head": {}, "boolean": false}}
	]}`)

	gold, err := LoadGold(path, FormatDBLPQuAD)
	require.NoError(t, err)
	require.Len(t, gold, 2)
	assert.Equal(t, []string{"https://dblp.org/rec/a", "https://dblp.org/rec/b"}, gold[0].Answer)
	assert.Equal(t, []string{"false"}, gold[1].Answer)
}

func TestFlattenAnswer_ScalarList(t *testing.T) {
	assert.Equal(t, []string{"1995", "x"}, FlattenAnswer(gjson.Parse(`[1995, "x"]`)))
	assert.Equal(t, []string{"true"}, FlattenAnswer(gjson.Parse(`true`)))
	assert.Equal(t, []string{}, FlattenAnswer(gjson.Parse(`null`)))
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split", "train.json")

	require.NoError(t, WriteJSON(path, []map[string]string{{"id": "1"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "1", got[0]["id"])
}
