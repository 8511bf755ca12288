package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/capitalize-ai/toolbot/internal/tools"
)

const (
	defaultBusinessError = "The API reported an error"
	maxErrorSnippet      = 500
)

// classify decides whether a completed HTTP exchange is a success. It returns
// an empty message on success.
func classify(status int, body []byte, rule *tools.ErrorRule) string {
	if status < 200 || status > 299 {
		snippet := truncateText(strings.TrimSpace(string(body)), maxErrorSnippet)
		if snippet == "" {
			return fmt.Sprintf("request failed with status %d", status)
		}
		return fmt.Sprintf("request failed with status %d: %s", status, snippet)
	}

	if rule == nil {
		return ""
	}
	value, err := tools.LookupJSON(body, rule.Field)
	if err != nil || !tools.LooseEqual(value, rule.Value) {
		return ""
	}

	if rule.Message != "" {
		if msg, err := tools.LookupJSON(body, rule.Message); err == nil {
			if s, ok := msg.(string); ok && s != "" {
				return s
			}
		}
	}
	return defaultBusinessError
}

// transform reshapes a successful body according to the tool's response rule.
// Bodies that are not JSON are returned as text.
func transform(body []byte, rule *tools.ResponseTransform) any {
	if !gjson.ValidBytes(body) {
		return string(body)
	}

	switch {
	case rule != nil && len(rule.Fields) > 0:
		out := make(map[string]any, len(rule.Fields))
		for key, path := range rule.Fields {
			out[key] = gjson.GetBytes(body, path).Value()
		}
		return out
	case rule != nil && rule.Path != "":
		if res := gjson.GetBytes(body, rule.Path); res.Exists() {
			return res.Value()
		}
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return string(body)
	}
	return doc
}

// truncateText replaces invalid UTF-8 and cuts s to at most n bytes without
// splitting a character. Audit columns are text and postgres rejects invalid UTF-8.
func truncateText(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
