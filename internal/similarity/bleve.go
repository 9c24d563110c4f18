package similarity

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/dblp-kgqa/kgqa/internal/qa"
)

const batchSize = 500

// BleveIndex ranks pool questions by keyword relevance.
type BleveIndex struct {
	index bleve.Index
}

type questionDoc struct {
	Question string `json:"question"`
}

// NewBleveIndex opens the index at path, creating it when missing. An empty
// path builds an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("question", textFieldMapping)
	im.AddDocumentMapping("question", docMapping)
	im.DefaultType = "question"
	im.DefaultMapping = docMapping

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Add indexes examples by id in batches. Re-adding an id replaces it.
func (b *BleveIndex) Add(ctx context.Context, examples []qa.SimilarExample) error {
	batch := b.index.NewBatch()
	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(ex.ID, questionDoc{Question: ex.Question}); err != nil {
			return fmt.Errorf("failed to index %s: %w", ex.ID, err)
		}
		if batch.Size() >= batchSize {
			if err := b.index.Batch(batch); err != nil {
				return fmt.Errorf("failed to write batch: %w", err)
			}
			batch.Reset()
		}
	}
	if batch.Size() > 0 {
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}
	}
	return nil
}

func (b *BleveIndex) Search(ctx context.Context, text string, limit int) ([]Hit, error) {
	q := bleve.NewMatchQuery(text)
	q.SetField("question")
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	hits := make([]Hit, len(results.Hits))
	for i, h := range results.Hits {
		hits[i] = Hit{ID: h.ID, Score: h.Score}
	}
	return hits, nil
}

func (b *BleveIndex) Count() (uint64, error) {
	return b.index.DocCount()
}

func (b *BleveIndex) Close() error {
	return b.index.Close()
}
