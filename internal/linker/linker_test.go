package linker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dblp-kgqa/kgqa/internal/kg/neo4j"
	"github.com/dblp-kgqa/kgqa/internal/qa"
)

var (
	bast   = qa.LinkedEntity{Label: "Hannah Bast", Type: "Person", URI: "https://dblp.org/pid/b/HannahBast"}
	bast2  = qa.LinkedEntity{Label: "Hannah Bast 0002", Type: "Person", URI: "https://dblp.org/pid/00/0002"}
	sigir  = qa.LinkedEntity{Label: "SIGIR", Type: "Stream", URI: "https://dblp.org/streams/conf/sigir"}
	lowest = qa.LinkedEntity{Label: "Bast", Type: "Person", URI: "https://dblp.org/pid/x/Bast"}
)

func TestSelection_Select(t *testing.T) {
	candidates := []Candidate{
		{Mention: "Hannah Bast", Entity: bast2, Score: 0.6},
		{Mention: "Hannah Bast", Entity: bast, Score: 0.95},
		{Mention: "hannah bast", Entity: lowest, Score: 0.2},
		{Mention: "SIGIR", Entity: sigir, Score: 0.9},
		{Mention: "SIGIR", Entity: bast, Score: 0.1},
	}

	got := Selection{MinScore: 0.5, MaxPerSpan: 1}.Select(candidates)

	assert.Equal(t, []qa.LinkedEntity{bast2, bast, lowest, sigir}, got.All)
	assert.Equal(t, []qa.LinkedEntity{bast, sigir}, got.Selected)

	got = Selection{MinScore: 0.5, MaxPerSpan: 2}.Select(candidates)
	assert.Equal(t, []qa.LinkedEntity{bast, bast2, sigir}, got.Selected)

	got = Selection{MinScore: 0.99}.Select(candidates)
	assert.Empty(t, got.Selected)
	assert.NotNil(t, got.Selected)
}

func TestHTTPLinker_Link(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req linkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "What are the publications of Hannah Bast?", req.Question)

		_, _ = w.Write([]byte(`{"results":[{"mention":"Hannah Bast","candidates":[
			{"label":"Hannah Bast","type":"Person","uri":"https://dblp.org/pid/b/HannahBast","score":0.97},
			{"label":"Hannah Bast 0002","type":"Person","uri":"https://dblp.org/pid/00/0002","score":0.4}
		]}]}`))
	}))
	defer srv.Close()

	l := NewHTTPLinker(srv.URL, time.Second, Selection{MinScore: 0.5, MaxPerSpan: 1})
	got, err := l.Link(context.Background(), "What are the publications of Hannah Bast?")

	require.NoError(t, err)
	assert.Len(t, got.All, 2)
	assert.Equal(t, []qa.LinkedEntity{bast}, got.Selected)
}

func TestHTTPLinker_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad input", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewHTTPLinker(srv.URL, time.Second, Selection{}).Link(context.Background(), "q")
	assert.ErrorIs(t, err, ErrService)
}

type fakeSearcher struct {
	hits  map[string][]neo4j.ScoredEntity
	calls []string
	err   error
}

func (f *fakeSearcher) SearchEntities(_ context.Context, mention string, _ int) ([]neo4j.ScoredEntity, error) {
	f.calls = append(f.calls, mention)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits[mention], nil
}

func TestGraphLinker_QuotedTitle(t *testing.T) {
	paper := neo4j.ScoredEntity{
		Entity: neo4j.Entity{Label: "Dense Passage Retrieval for Open-Domain Question Answering", Type: "Publication", URI: "https://dblp.org/rec/conf/emnlp/KarpukhinOMLWEC20"},
		Score:  7.1,
	}
	searcher := &fakeSearcher{hits: map[string][]neo4j.ScoredEntity{
		"Dense Passage Retrieval for Open-Domain Question Answering": {paper},
	}}

	l := NewGraphLinker(searcher, Selection{MinScore: 0.5, MaxPerSpan: 1})
	got, err := l.Link(context.Background(), `Who wrote "Dense Passage Retrieval for Open-Domain Question Answering"?`)

	require.NoError(t, err)
	require.Len(t, got.Selected, 1)
	assert.Equal(t, paper.URI, got.Selected[0].URI)
	assert.Equal(t, "Dense Passage Retrieval for Open-Domain Question Answering", searcher.calls[0])
}

func TestGraphLinker_SearchError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("neo4j down")}

	_, err := NewGraphLinker(searcher, Selection{}).Link(context.Background(), `Papers in "SIGIR 2020"`)
	assert.Error(t, err)
}

func TestExtractMentions_Quoted(t *testing.T) {
	got, err := ExtractMentions(`Which venue published 'Attention Is All You Need'?`)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "Attention Is All You Need", got[0])
}

func TestExtractMentions_Apostrophe(t *testing.T) {
	got, err := ExtractMentions("What is Hannah Bast's most cited paper and Aidan's latest one?")
	require.NoError(t, err)
	for _, m := range got {
		assert.NotContains(t, m, "most cited paper and")
	}
}

func TestLabelSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, LabelSimilarity("Hannah Bast", "hannah bast"))
	assert.InDelta(t, 2.0/3.0, LabelSimilarity("Hannah Bast", "Hannah Bast 0002"), 1e-9)
	assert.Zero(t, LabelSimilarity("", "Hannah Bast"))
	assert.Zero(t, LabelSimilarity("SIGIR", "Hannah Bast"))
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

type countingLinker struct {
	calls int
}

func (c *countingLinker) Link(context.Context, string) (qa.Linking, error) {
	c.calls++
	return qa.Linking{All: []qa.LinkedEntity{bast}, Selected: []qa.LinkedEntity{bast}}, nil
}

func TestCached_Link(t *testing.T) {
	next := &countingLinker{}
	c := NewCached(next, &memCache{data: map[string][]byte{}}, time.Hour)

	first, err := c.Link(context.Background(), "What are the publications of Hannah Bast?")
	require.NoError(t, err)
	second, err := c.Link(context.Background(), "What are the  publications of Hannah Bast?")
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
}
