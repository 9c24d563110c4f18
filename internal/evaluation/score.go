package evaluation

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

type Report struct {
	TotalQuestions int
	Predicted      int
	ExactMatches   int
	Precision      float64
	Recall         float64
	F1             float64
	ExactMatchRate float64
	Coverage       float64
}

// FlattenPredictions turns store entries into {id, answer} pairs. When an id
// repeats, the last entry wins; empty entries become empty answers.
func FlattenPredictions(entries []qa.Entry) []qa.IDAnswer {
	index := make(map[string]int, len(entries))
	var out []qa.IDAnswer
	for _, e := range entries {
		answer := []string{}
		if e.Record != nil {
			answer = e.Record.Answer.Strings()
		}
		if i, ok := index[e.QuestionID]; ok {
			out[i].Answer = answer
			continue
		}
		index[e.QuestionID] = len(out)
		out = append(out, qa.IDAnswer{ID: e.QuestionID, Answer: answer})
	}
	return out
}

// Score compares predictions against gold answers. Every gold question counts
// toward the totals; a question with no prediction scores zero unless its
// gold answer is empty too. Precision, recall and F1 are macro averages over
// answer sets compared case-insensitively.
func Score(predictions, gold []qa.IDAnswer) *Report {
	predicted := make(map[string][]string, len(predictions))
	for _, p := range predictions {
		predicted[p.ID] = p.Answer
	}

	report := &Report{TotalQuestions: len(gold)}
	if len(gold) == 0 {
		return report
	}

	var sumP, sumR, sumF float64
	for _, g := range gold {
		pred, ok := predicted[g.ID]
		if ok && len(pred) > 0 {
			report.Predicted++
		}

		p, r, f := setScores(normalize(pred), normalize(g.Answer))
		sumP += p
		sumR += r
		sumF += f
		if f == 1 {
			report.ExactMatches++
		}
	}

	n := float64(len(gold))
	report.Precision = sumP / n
	report.Recall = sumR / n
	report.F1 = sumF / n
	report.ExactMatchRate = float64(report.ExactMatches) / n
	report.Coverage = float64(report.Predicted) / n

	logger.Info("Predictions scored",
		zap.Int("questions", report.TotalQuestions),
		zap.Int("exact_matches", report.ExactMatches),
		zap.Float64("f1", report.F1),
	)

	return report
}

func normalize(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func setScores(pred, gold map[string]struct{}) (precision, recall, f1 float64) {
	if len(pred) == 0 && len(gold) == 0 {
		return 1, 1, 1
	}
	if len(pred) == 0 || len(gold) == 0 {
		return 0, 0, 0
	}

	var hits int
	for v := range pred {
		if _, ok := gold[v]; ok {
			hits++
		}
	}
	if hits == 0 {
		return 0, 0, 0
	}

	precision = float64(hits) / float64(len(pred))
	recall = float64(hits) / float64(len(gold))
	f1 = 2 * precision * recall / (precision + recall)
	return precision, recall, f1
}

func GenerateReport(report *Report) string {
	return fmt.Sprintf(`
Evaluation Report
=================

Total Questions: %d
Answered:        %d (%.1f%% coverage)

Exact Match: %d (%.1f%%)

Macro Scores:
- Precision: %.3f
- Recall:    %.3f
- F1:        %.3f
`,
		report.TotalQuestions,
		report.Predicted, report.Coverage*100,
		report.ExactMatches, report.ExactMatchRate*100,
		report.Precision,
		report.Recall,
		report.F1,
	)
}
