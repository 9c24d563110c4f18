// Package ingestion reads the DBLP question collections: test sets, solved
// question pools and gold answers.
package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
	"github.com/dblp-kgqa/kgqa/pkg/utils"
)

type Format string

const (
	// FormatAskDBLP is a top-level array of
	// {id, formal_question, sparql, entities, answer}.
	FormatAskDBLP Format = "ask-dblp"
	// FormatDBLPQuAD is {"questions": [{id, question: {string},
	// paraphrased_question: {string}, query: {sparql}}]}.
	FormatDBLPQuAD Format = "dblp-quad"
)

var ErrUnknownFormat = errors.New("unknown dataset format")

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatAskDBLP, FormatDBLPQuAD:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// readFile returns nil data and no error when path does not exist.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("Dataset file not found; using empty collection", zap.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}
	return data, nil
}

// AskDBLPItem is one record of an ask-dblp collection.
type AskDBLPItem struct {
	ID             ItemID             `json:"id"`
	FormalQuestion string             `json:"formal_question"`
	SPARQL         string             `json:"sparql"`
	Entities       []qa.ExampleEntity `json:"entities"`
	Answer         json.RawMessage    `json:"answer"`
}

// ItemID accepts both string and numeric ids.
type ItemID string

func (id *ItemID) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	switch r.Type {
	case gjson.String, gjson.Number:
		*id = ItemID(r.String())
		return nil
	case gjson.Null:
		*id = ""
		return nil
	default:
		return fmt.Errorf("id must be a string or a number, got %s", r.Type)
	}
}

func LoadAskDBLP(path string) ([]AskDBLPItem, error) {
	data, err := readFile(path)
	if err != nil || data == nil {
		return []AskDBLPItem{}, err
	}

	var items []AskDBLPItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse ask-dblp collection %s: %w", path, err)
	}
	for i := range items {
		if items[i].ID == "" {
			return nil, fmt.Errorf("%s item %d: %w", path, i, qa.ErrNoQuestionID)
		}
	}
	return items, nil
}

// LoadQuestions reads a test set in the given format, preserving its order.
// A missing file yields an empty collection.
func LoadQuestions(path string, format Format) ([]qa.Question, error) {
	switch format {
	case FormatAskDBLP:
		items, err := LoadAskDBLP(path)
		if err != nil {
			return nil, err
		}
		questions := make([]qa.Question, 0, len(items))
		for _, it := range items {
			questions = append(questions, qa.Question{ID: string(it.ID), Text: it.FormalQuestion})
		}
		return questions, nil
	case FormatDBLPQuAD:
		return loadDBLPQuADQuestions(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// DBLP-QuAD ids may be strings or numbers and the question text is nested,
// so the collection is walked with gjson rather than decoded into structs.
func loadDBLPQuADQuestions(path string) ([]qa.Question, error) {
	data, err := readFile(path)
	if err != nil || data == nil {
		return []qa.Question{}, err
	}

	questions := []qa.Question{}
	var walkErr error
	gjson.GetBytes(data, "questions").ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			walkErr = fmt.Errorf("%s question %d: %w", path, len(questions), qa.ErrNoQuestionID)
			return false
		}
		original := item.Get("question.string").String()
		text := item.Get("paraphrased_question.string").String()
		if text == "" {
			text = original
		}
		questions = append(questions, qa.Question{ID: id, Text: text, Paraphrase: original})
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	logger.Info("Test set loaded",
		zap.String("path", path),
		zap.String("format", string(FormatDBLPQuAD)),
		zap.Int("questions", len(questions)),
	)
	return questions, nil
}

// LoadPool reads a collection of solved questions. Both ask-dblp records and
// DBLP-QuAD records are accepted; items without a query are dropped.
func LoadPool(path string) ([]qa.SimilarExample, error) {
	data, err := readFile(path)
	if err != nil || data == nil {
		return []qa.SimilarExample{}, err
	}

	items := gjson.ParseBytes(data)
	if q := items.Get("questions"); q.IsArray() {
		items = q
	}

	pool := []qa.SimilarExample{}
	dropped := 0
	items.ForEach(func(_, item gjson.Result) bool {
		ex := qa.SimilarExample{
			ID:       item.Get("id").String(),
			Question: firstString(item, "formal_question", "question.string", "question", "paraphrased_question.string"),
			Query:    firstString(item, "sparql", "query.sparql", "query"),
			Entities: []qa.ExampleEntity{},
		}
		item.Get("entities").ForEach(func(_, e gjson.Result) bool {
			ex.Entities = append(ex.Entities, qa.ExampleEntity{
				Mention: e.Get("mention").String(),
				URI:     e.Get("uri").String(),
			})
			return true
		})
		if ex.ID == "" || ex.Question == "" || ex.Query == "" {
			dropped++
			return true
		}
		pool = append(pool, ex)
		return true
	})

	logger.Info("Similarity pool loaded",
		zap.String("path", path),
		zap.Int("examples", len(pool)),
		zap.Int("dropped", dropped),
	)
	return pool, nil
}

func firstString(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := item.Get(p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// LoadGold reads the gold answers for a test set as flattened {id, answer}
// pairs. For ask-dblp the path is the test set itself; for DBLP-QuAD it is the
// answers file holding SPARQL JSON results.
func LoadGold(path string, format Format) ([]qa.IDAnswer, error) {
	data, err := readFile(path)
	if err != nil || data == nil {
		return []qa.IDAnswer{}, err
	}

	var items gjson.Result
	switch format {
	case FormatAskDBLP:
		items = gjson.ParseBytes(data)
	case FormatDBLPQuAD:
		items = gjson.GetBytes(data, "answers")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	gold := []qa.IDAnswer{}
	items.ForEach(func(_, item gjson.Result) bool {
		gold = append(gold, qa.IDAnswer{
			ID:     item.Get("id").String(),
			Answer: FlattenAnswer(item.Get("answer")),
		})
		return true
	})
	return gold, nil
}

// FlattenAnswer collects every scalar under a gold answer: the values of a
// list of row objects, the bindings of a SPARQL JSON result, or its boolean.
func FlattenAnswer(answer gjson.Result) []string {
	values := []string{}
	switch {
	case answer.Get("boolean").Exists():
		values = append(values, answer.Get("boolean").String())
	case answer.Get("results.bindings").Exists():
		answer.Get("results.bindings").ForEach(func(_, row gjson.Result) bool {
			row.ForEach(func(_, binding gjson.Result) bool {
				if v := binding.Get("value").String(); v != "" {
					values = append(values, v)
				}
				return true
			})
			return true
		})
	case answer.IsArray():
		answer.ForEach(func(_, row gjson.Result) bool {
			if !row.IsObject() {
				values = append(values, row.String())
				return true
			}
			row.ForEach(func(_, v gjson.Result) bool {
				values = append(values, v.String())
				return true
			})
			return true
		})
	case answer.Type == gjson.True || answer.Type == gjson.False:
		values = append(values, answer.String())
	}
	return values
}

// WriteJSON writes v as indented JSON, replacing path atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return utils.WriteFileAtomic(path, data)
}
