// Package prompt renders the question-to-SPARQL generation prompt.
package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/tidwall/gjson"

	"github.com/dblp-kgqa/kgqa/internal/qa"
)

//go:embed resources/*
var resources embed.FS

const (
	ExamplesPlain    = "build_sparql"
	ExamplesWithURIs = "build_sparql_with_uri"
)

// Composer holds the parsed template, schema description and few-shot
// examples. It is safe for concurrent use.
type Composer struct {
	tmpl          *template.Template
	schema        string
	plainExamples string
	uriExamples   string
}

type promptData struct {
	Question string
	Schema   string
	Examples string
	Entities string
	Pool     string
}

type poolItem struct {
	Question string             `json:"question"`
	Entities []qa.ExampleEntity `json:"entities"`
	Query    string             `json:"sparql"`
}

// New loads the embedded resources. A non-empty examplesPath replaces the
// embedded few-shot examples file.
func New(examplesPath string) (*Composer, error) {
	raw, err := resources.ReadFile("resources/question_to_sparql.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	tmpl, err := template.New("question_to_sparql").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	schema, err := resources.ReadFile("resources/dblp_schema.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	var examples []byte
	if examplesPath != "" {
		examples, err = os.ReadFile(examplesPath)
	} else {
		examples, err = resources.ReadFile("resources/examples.json")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read examples: %w", err)
	}

	plain, err := renderExamples(examples, ExamplesPlain)
	if err != nil {
		return nil, err
	}
	withURIs, err := renderExamples(examples, ExamplesWithURIs)
	if err != nil {
		return nil, err
	}

	return &Composer{
		tmpl:          tmpl,
		schema:        strings.TrimSpace(string(schema)),
		plainExamples: plain,
		uriExamples:   withURIs,
	}, nil
}

// Compose renders the prompt. The entity-aware examples are used whenever at
// least one entity was selected.
func (c *Composer) Compose(question string, selected []qa.LinkedEntity, pool []qa.SimilarExample) (string, error) {
	data := promptData{
		Question: question,
		Schema:   c.schema,
		Examples: c.plainExamples,
	}

	if len(selected) > 0 {
		data.Examples = c.uriExamples
		data.Entities = FormatEntities(selected)
	}

	if len(pool) > 0 {
		items := make([]poolItem, 0, len(pool))
		for _, ex := range pool {
			entities := ex.Entities
			if entities == nil {
				entities = []qa.ExampleEntity{}
			}
			items = append(items, poolItem{Question: ex.Question, Entities: entities, Query: ex.Query})
		}
		var encoded bytes.Buffer
		enc := json.NewEncoder(&encoded)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(items); err != nil {
			return "", fmt.Errorf("failed to encode similar questions: %w", err)
		}
		data.Pool = strings.TrimSpace(encoded.String())
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}

// FormatEntities renders one "ENTITY_LABEL: .. ; ENTITY_TYPE: .. ; URI: .."
// line per entity.
func FormatEntities(entities []qa.LinkedEntity) string {
	lines := make([]string, 0, len(entities))
	for _, e := range entities {
		lines = append(lines, fmt.Sprintf("ENTITY_LABEL: %s ; ENTITY_TYPE: %s ; URI: %s", e.Label, e.Type, e.URI))
	}
	return strings.Join(lines, "\n  ")
}

// renderExamples flattens the example list under key into "field: value"
// lines, keeping the field order of the file.
func renderExamples(data []byte, key string) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("examples file is not valid JSON")
	}
	list := gjson.GetBytes(data, key)
	if !list.IsArray() {
		return "", fmt.Errorf("examples file has no %q list", key)
	}

	var lines []string
	list.ForEach(func(_, example gjson.Result) bool {
		example.ForEach(func(field, value gjson.Result) bool {
			lines = append(lines, field.String()+": "+value.String())
			return true
		})
		return true
	})
	return strings.Join(lines, "\n"), nil
}
