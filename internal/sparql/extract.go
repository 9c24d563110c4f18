package sparql

import (
	"sort"

	"github.com/dblp-kgqa/kgqa/internal/qa"
)

// Extract flattens a result into scalar values: rows in order, and within a
// row the variables in head order followed by any other bound names sorted.
// Unbound and empty values are skipped. ASK results yield a boolean answer.
func Extract(result *Result) qa.Answer {
	if result.IsBoolean() {
		return qa.BooleanAnswer(*result.Boolean)
	}

	values := []string{}
	for _, row := range result.Rows() {
		for _, name := range rowOrder(result.Head.Vars, row) {
			term, ok := row[name]
			if !ok || term.Value == "" {
				continue
			}
			values = append(values, term.Value)
		}
	}
	return qa.ValuesAnswer(values...)
}

func rowOrder(vars []string, row Row) []string {
	order := make([]string, 0, len(row))
	seen := make(map[string]struct{}, len(vars))
	for _, v := range vars {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		order = append(order, v)
	}

	var extra []string
	for name := range row {
		if _, ok := seen[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}
