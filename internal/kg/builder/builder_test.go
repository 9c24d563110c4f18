package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dblp-kgqa/kgqa/internal/kg/neo4j"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/internal/similarity"
)

type fakeGraph struct {
	indexed  bool
	entities []neo4j.Entity
}

func (f *fakeGraph) EnsureIndex(context.Context) error {
	f.indexed = true
	return nil
}

func (f *fakeGraph) UpsertEntities(_ context.Context, entities []neo4j.Entity) error {
	f.entities = append(f.entities, entities...)
	return nil
}

func (f *fakeGraph) CountEntities(context.Context) (int64, error) {
	return int64(len(f.entities)), nil
}

type fakeCache struct {
	namespaces []string
}

func (f *fakeCache) Invalidate(_ context.Context, ns string) error {
	f.namespaces = append(f.namespaces, ns)
	return nil
}

type failingIndex struct {
	similarity.Index
}

func (failingIndex) Add(context.Context, []qa.SimilarExample) error {
	return errors.New("disk full")
}

func pool() []qa.SimilarExample {
	return []qa.SimilarExample{
		{
			ID:       "1",
			Question: "What are the publications of Hannah Bast?",
			Query:    "SELECT ?t WHERE {}",
			Entities: []qa.ExampleEntity{{Mention: "Hannah Bast", URI: "https://dblp.org/pid/b/HannahBast"}},
		},
		{
			ID:       "2",
			Question: "Did Hannah Bast publish at SIGIR?",
			Query:    "ASK {}",
			Entities: []qa.ExampleEntity{
				{Mention: "H. Bast", URI: "https://dblp.org/pid/b/HannahBast"},
				{Mention: "SIGIR", URI: "https://dblp.org/streams/conf/sigir"},
				{Mention: "", URI: "https://dblp.org/rec/x"},
			},
		},
	}
}

func TestEntitiesFromPool(t *testing.T) {
	got := EntitiesFromPool(pool())

	assert.Equal(t, []neo4j.Entity{
		{URI: "https://dblp.org/pid/b/HannahBast", Label: "Hannah Bast", Type: "Person"},
		{URI: "https://dblp.org/streams/conf/sigir", Label: "SIGIR", Type: "Stream"},
	}, got)
}

func TestEntityType(t *testing.T) {
	assert.Equal(t, "Publication", EntityType("https://dblp.org/rec/conf/sigir/Bast20"))
	assert.Equal(t, "Entity", EntityType("https://example.org/x"))
}

func TestBuildFromPool(t *testing.T) {
	index, err := similarity.NewBleveIndex("")
	require.NoError(t, err)
	defer index.Close()

	graph := &fakeGraph{}
	cache := &fakeCache{}

	report, err := NewBuilder(index, graph, cache).BuildFromPool(context.Background(), pool())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Examples)
	assert.Equal(t, uint64(2), report.IndexSize)
	assert.Equal(t, 2, report.Entities)
	assert.Equal(t, int64(2), report.GraphEntities)
	assert.True(t, graph.indexed)
	assert.Equal(t, CacheNamespaces, cache.namespaces)

	hits, err := index.Search(context.Background(), "Hannah Bast SIGIR", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "2", hits[0].ID)
}

func TestBuildFromPool_IndexOnly(t *testing.T) {
	index, err := similarity.NewBleveIndex("")
	require.NoError(t, err)
	defer index.Close()

	report, err := NewBuilder(index, nil, nil).BuildFromPool(context.Background(), pool())
	require.NoError(t, err)
	assert.Zero(t, report.Entities)
}

func TestBuildFromPool_IndexError(t *testing.T) {
	_, err := NewBuilder(failingIndex{}, &fakeGraph{}, nil).BuildFromPool(context.Background(), pool())
	assert.ErrorContains(t, err, "disk full")
}
