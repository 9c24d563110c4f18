// Package linker resolves spans of a question to DBLP entities.
package linker

import (
	"context"
	"sort"
	"strings"

	"github.com/dblp-kgqa/kgqa/internal/qa"
)

type Linker interface {
	Link(ctx context.Context, question string) (qa.Linking, error)
}

// Candidate is one entity proposed for a mention, with a score in [0, 1].
type Candidate struct {
	Mention string
	Entity  qa.LinkedEntity
	Score   float64
}

// Selection controls which candidates become selected entities.
type Selection struct {
	MinScore   float64
	MaxPerSpan int
}

// Select builds a Linking from candidates grouped by mention. All holds every
// distinct candidate in first-seen order; Selected keeps the best MaxPerSpan
// candidates of each mention that reach MinScore.
func (s Selection) Select(candidates []Candidate) qa.Linking {
	maxPerSpan := s.MaxPerSpan
	if maxPerSpan <= 0 {
		maxPerSpan = 1
	}

	all := make([]qa.LinkedEntity, 0, len(candidates))
	seen := make(map[string]bool)
	var mentions []string
	byMention := make(map[string][]Candidate)

	for _, c := range candidates {
		if c.Entity.URI == "" {
			continue
		}
		if !seen[c.Entity.URI] {
			seen[c.Entity.URI] = true
			all = append(all, c.Entity)
		}
		key := strings.ToLower(strings.TrimSpace(c.Mention))
		if _, ok := byMention[key]; !ok {
			mentions = append(mentions, key)
		}
		byMention[key] = append(byMention[key], c)
	}

	selected := make([]qa.LinkedEntity, 0)
	picked := make(map[string]bool)
	for _, m := range mentions {
		group := byMention[m]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Score > group[j].Score })
		taken := 0
		for _, c := range group {
			if taken == maxPerSpan {
				break
			}
			if c.Score < s.MinScore {
				break
			}
			if picked[c.Entity.URI] {
				continue
			}
			picked[c.Entity.URI] = true
			selected = append(selected, c.Entity)
			taken++
		}
	}

	return qa.Linking{All: all, Selected: selected}
}

// Nop links nothing.
type Nop struct{}

func (Nop) Link(context.Context, string) (qa.Linking, error) {
	return qa.Linking{All: []qa.LinkedEntity{}, Selected: []qa.LinkedEntity{}}, nil
}
