package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ParseQuery pulls the "sparql" field out of a model response. Markdown code
// fences and text around the JSON object are tolerated.
func ParseQuery(content string) string {
	body := stripFences(strings.TrimSpace(content))

	if !gjson.Valid(body) {
		start := strings.Index(body, "{")
		end := strings.LastIndex(body, "}")
		if start < 0 || end <= start {
			return ""
		}
		body = body[start : end+1]
		if !gjson.Valid(body) {
			return ""
		}
	}

	field := gjson.Get(body, "sparql")
	if field.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(field.String())
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
