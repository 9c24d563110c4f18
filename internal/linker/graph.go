package linker

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/kg/neo4j"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

// EntitySearcher is the label index the graph linker queries.
type EntitySearcher interface {
	SearchEntities(ctx context.Context, mention string, limit int) ([]neo4j.ScoredEntity, error)
}

// GraphLinker finds mentions with a part-of-speech tagger and resolves them
// against the full-text label index in Neo4j.
type GraphLinker struct {
	searcher      EntitySearcher
	selection     Selection
	candidatesPer int
}

var quotedSpan = regexp.MustCompile(`(?:^|\s)["“']([^"”']{3,})["”']`)

func NewGraphLinker(searcher EntitySearcher, selection Selection) *GraphLinker {
	return &GraphLinker{
		searcher:      searcher,
		selection:     selection,
		candidatesPer: 5,
	}
}

func (l *GraphLinker) Link(ctx context.Context, question string) (qa.Linking, error) {
	mentions, err := ExtractMentions(question)
	if err != nil {
		return qa.Linking{}, err
	}

	var candidates []Candidate
	for _, mention := range mentions {
		hits, err := l.searcher.SearchEntities(ctx, mention, l.candidatesPer)
		if err != nil {
			return qa.Linking{}, fmt.Errorf("failed to resolve mention %q: %w", mention, err)
		}
		for _, hit := range hits {
			candidates = append(candidates, Candidate{
				Mention: mention,
				Entity:  qa.LinkedEntity{Label: hit.Label, Type: hit.Type, URI: hit.URI},
				Score:   LabelSimilarity(mention, hit.Label),
			})
		}
	}

	linking := l.selection.Select(candidates)

	logger.Debug("Entities linked from graph",
		zap.Strings("mentions", mentions),
		zap.Int("all", len(linking.All)),
		zap.Int("selected", len(linking.Selected)),
	)

	return linking, nil
}

// ExtractMentions returns quoted spans, named entities and runs of proper
// nouns, de-duplicated case-insensitively in order of appearance.
func ExtractMentions(question string) ([]string, error) {
	var mentions []string
	seen := make(map[string]bool)
	add := func(m string) {
		m = strings.Trim(strings.TrimSpace(m), "?.,;:!")
		key := strings.ToLower(m)
		if m == "" || seen[key] {
			return
		}
		seen[key] = true
		mentions = append(mentions, m)
	}

	for _, match := range quotedSpan.FindAllStringSubmatch(question, -1) {
		add(match[1])
	}

	doc, err := prose.NewDocument(question, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("failed to tag question: %w", err)
	}

	for _, ent := range doc.Entities() {
		add(ent.Text)
	}

	var run []string
	flush := func() {
		if len(run) > 0 {
			add(strings.Join(run, " "))
			run = run[:0]
		}
	}
	for _, tok := range doc.Tokens() {
		if tok.Tag == "NNP" || tok.Tag == "NNPS" {
			run = append(run, tok.Text)
			continue
		}
		flush()
	}
	flush()

	return mentions, nil
}

// LabelSimilarity is the Jaccard overlap of the lower-cased word sets of a
// mention and an entity label.
func LabelSimilarity(mention, label string) float64 {
	a := wordSet(mention)
	b := wordSet(label)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		set[w] = true
	}
	return set
}
