// Package qa holds the records that flow through the question-answering
// pipeline and into the evaluation output store.
package qa

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Question is one item of a test collection.
type Question struct {
	ID   string `json:"id"`
	Text string `json:"question"`
	// Paraphrase is the source text the question was paraphrased from, if any.
	Paraphrase string `json:"paraphrase,omitempty"`
}

type LinkedEntity struct {
	Label string `json:"normalized_label"`
	Type  string `json:"entity_type"`
	URI   string `json:"uri"`
}

// Linking is the entity linker's result for one question.
type Linking struct {
	All      []LinkedEntity `json:"all_entities"`
	Selected []LinkedEntity `json:"selected_entities"`
}

// Sanitize drops a selection that has no candidate set behind it. The
// operation is idempotent.
func (l Linking) Sanitize() Linking {
	if len(l.All) == 0 && len(l.Selected) > 0 {
		return Linking{All: []LinkedEntity{}, Selected: []LinkedEntity{}}
	}
	if l.All == nil {
		l.All = []LinkedEntity{}
	}
	if l.Selected == nil {
		l.Selected = []LinkedEntity{}
	}
	return l
}

// SimilarExample is a previously solved question used as an in-context example.
type SimilarExample struct {
	ID       string          `json:"id"`
	Question string          `json:"question"`
	Score    float64         `json:"score"`
	Query    string          `json:"sparql"`
	Entities []ExampleEntity `json:"entities"`
}

// ExampleEntity is an entity mention recorded alongside a solved question.
type ExampleEntity struct {
	Mention string `json:"mention"`
	URI     string `json:"uri"`
}

// GenerationResult is the synthesizer's answer to one prompt. An empty Query
// means the response carried no usable structured query.
type GenerationResult struct {
	Query      string
	Confidence float64
	Raw        string
}

func (g *GenerationResult) HasQuery() bool {
	return g != nil && g.Query != ""
}

// Answer is either an ordered list of scalar values or the boolean outcome of
// an ASK query.
type Answer struct {
	Values  []string
	Boolean *bool
}

func ValuesAnswer(values ...string) Answer {
	if values == nil {
		values = []string{}
	}
	return Answer{Values: values}
}

func BooleanAnswer(b bool) Answer {
	return Answer{Boolean: &b}
}

func (a Answer) IsBoolean() bool {
	return a.Boolean != nil
}

// Len is the number of values, or 1 for a boolean answer.
func (a Answer) Len() int {
	if a.IsBoolean() {
		return 1
	}
	return len(a.Values)
}

// Strings flattens the answer for scoring; booleans become "true"/"false".
func (a Answer) Strings() []string {
	if a.IsBoolean() {
		return []string{fmt.Sprintf("%t", *a.Boolean)}
	}
	return a.Values
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.IsBoolean() {
		return json.Marshal(*a.Boolean)
	}
	if a.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.Values)
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ValuesAnswer()
		return nil
	}
	if len(data) > 0 && (data[0] == 't' || data[0] == 'f') {
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*a = BooleanAnswer(b)
		return nil
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsArray() {
		return fmt.Errorf("answer must be a boolean or a list, got %s", truncate(data, 40))
	}
	*a = ValuesAnswer(flattenRows(gjson.ParseBytes(data))...)
	return nil
}

// flattenRows reads a list of values or of row objects such as
// [{"title": "..."}] in document order. A row value that is itself a SPARQL
// term contributes its "value".
func flattenRows(list gjson.Result) []string {
	values := []string{}
	list.ForEach(func(_, row gjson.Result) bool {
		if !row.IsObject() {
			values = append(values, row.String())
			return true
		}
		row.ForEach(func(_, v gjson.Result) bool {
			if v.IsObject() {
				v = v.Get("value")
			}
			if v.Exists() {
				values = append(values, v.String())
			}
			return true
		})
		return true
	})
	return values
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}

// AnswerRecord is the persisted outcome of one answered question.
type AnswerRecord struct {
	Answer           Answer           `json:"answer"`
	Query            string           `json:"sparql"`
	Confidence       *float64         `json:"confidence"`
	AllEntities      []LinkedEntity   `json:"all_entities"`
	SelectedEntities []LinkedEntity   `json:"selected_entities"`
	SimilarQuestions []SimilarExample `json:"similar_questions"`
	TopK             int              `json:"top_k"`
	// ExecutionError is set when the query was generated but the endpoint
	// call failed; Answer is then empty.
	ExecutionError string `json:"execution_error,omitempty"`
}

// IDAnswer is a flattened {id, answer} pair used for scoring.
type IDAnswer struct {
	ID     string   `json:"id"`
	Answer []string `json:"answer"`
}
