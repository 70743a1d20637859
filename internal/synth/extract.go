package synth

import "strings"

const fence = "```"

// ExtractSQL returns the SQL inside a model response. If the response
// contains a fenced code block, the body of the first block is returned
// with its language tag removed; otherwise the trimmed response is
// returned as-is.
func ExtractSQL(text string) string {
	text = strings.TrimSpace(text)

	start := strings.Index(text, fence)
	if start < 0 {
		return text
	}
	body := text[start+len(fence):]

	if nl := strings.IndexByte(body, '\n'); nl >= 0 && isTag(body[:nl]) {
		body = body[nl+1:]
	} else if tag, rest, ok := strings.Cut(body, " "); ok && tag != "" && isTag(tag) {
		// One-line block: "```sql SELECT 1```".
		body = rest
	}
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// isTag reports whether s looks like a fence language tag ("sql", "").
func isTag(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	for _, kw := range sqlKeywords {
		if strings.EqualFold(s, kw) {
			return false
		}
	}
	return true
}

// sqlKeywords can open a statement, so they are never taken for a tag.
var sqlKeywords = []string{"select", "with", "from", "values", "table", "describe", "show", "explain", "pivot", "summarize"}
