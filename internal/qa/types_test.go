package qa

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinking_Sanitize(t *testing.T) {
	bast := LinkedEntity{Label: "Hannah Bast", Type: "Person", URI: "https://dblp.org/pid/b/HannahBast"}

	t.Run("selected without candidates is dropped", func(t *testing.T) {
		got := Linking{Selected: []LinkedEntity{bast}}.Sanitize()
		assert.Empty(t, got.All)
		assert.Empty(t, got.Selected)
	})

	t.Run("idempotent", func(t *testing.T) {
		once := Linking{Selected: []LinkedEntity{bast}}.Sanitize()
		assert.Equal(t, once, once.Sanitize())
	})

	t.Run("consistent result is kept", func(t *testing.T) {
		in := Linking{All: []LinkedEntity{bast}, Selected: []LinkedEntity{bast}}
		assert.Equal(t, in, in.Sanitize())
	})

	t.Run("nil slices normalised", func(t *testing.T) {
		got := Linking{}.Sanitize()
		assert.NotNil(t, got.All)
		assert.NotNil(t, got.Selected)
	})
}

func TestAnswer_JSON(t *testing.T) {
	data, err := json.Marshal(ValuesAnswer("Paper A", "Paper B"))
	require.NoError(t, err)
	assert.JSONEq(t, `["Paper A","Paper B"]`, string(data))

	data, err = json.Marshal(BooleanAnswer(true))
	require.NoError(t, err)
	assert.Equal(t, "true", string(data))

	data, err = json.Marshal(Answer{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	var a Answer
	require.NoError(t, json.Unmarshal([]byte("false"), &a))
	require.True(t, a.IsBoolean())
	assert.False(t, *a.Boolean)
	assert.Equal(t, []string{"false"}, a.Strings())

	require.NoError(t, json.Unmarshal([]byte(`["x"]`), &a))
	assert.False(t, a.IsBoolean())
	assert.Equal(t, []string{"x"}, a.Values)

	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &a))
	assert.Error(t, json.Unmarshal([]byte(`"x"`), &a))
}

func TestAnswer_UnmarshalRowObjects(t *testing.T) {
	var a Answer
	require.NoError(t, json.Unmarshal([]byte(`[{"title": "Paper A", "year": "2020"}, {"title": "Paper B"}]`), &a))
	assert.Equal(t, []string{"Paper A", "2020", "Paper B"}, a.Values)

	require.NoError(t, json.Unmarshal([]byte(`[{"author": {"type": "uri", "value": "https://dblp.org/pid/b/HannahBast"}}, 42]`), &a))
	assert.Equal(t, []string{"https://dblp.org/pid/b/HannahBast", "42"}, a.Values)

	require.NoError(t, json.Unmarshal([]byte(`[]`), &a))
	assert.Equal(t, []string{}, a.Values)
}

func TestEntry_LoadsRowObjectAnswers(t *testing.T) {
	var entries []Entry
	data := `[{"q1": {"answer": [{"title": "Paper A"}], "sparql": "SELECT ?title WHERE {}"}}, {"q2": {}}]`
	require.NoError(t, json.Unmarshal([]byte(data), &entries))

	require.Len(t, entries, 2)
	require.False(t, entries[0].Empty())
	assert.Equal(t, []string{"Paper A"}, entries[0].Record.Answer.Values)
	assert.True(t, entries[1].Empty())
}

func TestEntry_JSON(t *testing.T) {
	conf := 0.9
	rec := &AnswerRecord{
		Answer:     ValuesAnswer("Paper A"),
		Query:      "SELECT ?title WHERE {}",
		Confidence: &conf,
		TopK:       5,
	}

	data, err := json.Marshal(Entry{QuestionID: "q1", Record: rec})
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "SELECT ?title WHERE {}", decoded["q1"]["sparql"])
	assert.EqualValues(t, 5, decoded["q1"]["top_k"])
	assert.NotContains(t, decoded["q1"], "execution_error")

	data, err = json.Marshal(Entry{QuestionID: "q2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"q2":{}}`, string(data))

	var e Entry
	require.NoError(t, json.Unmarshal([]byte(`{"q2":{}}`), &e))
	assert.Equal(t, "q2", e.QuestionID)
	assert.True(t, e.Empty())

	require.NoError(t, json.Unmarshal([]byte(`{"q3":null}`), &e))
	assert.True(t, e.Empty())

	assert.Error(t, json.Unmarshal([]byte(`{"a":{},"b":{}}`), &e))
}

func TestOutcome_Entry(t *testing.T) {
	rec := &AnswerRecord{Answer: ValuesAnswer()}

	e, ok := Answered("q1", rec).Entry()
	assert.True(t, ok)
	assert.Same(t, rec, e.Record)

	e, ok = Failed("q2", "panic").Entry()
	assert.True(t, ok)
	assert.True(t, e.Empty())

	_, ok = Unanswered("q3", "no query").Entry()
	assert.False(t, ok)
}
