package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// summaryField receives the whole response text when no structured value can
// be recovered, since free-form prose is usually the summary itself.
const summaryField = "ai_summary"

// ParseResponse extracts the declared fields from a model response. It
// tolerates code fences, prose around the JSON object, and bare key/value
// fragments; anything it cannot recover falls back to the field default.
// It never fails: the worst case is a map of nothing but defaults.
func (t *Template) ParseResponse(raw string) map[string]string {
	result := t.Defaults()
	cleaned := stripFences(raw)
	if cleaned == "" {
		return result
	}

	if fillFromJSON(result, t.Fields, cleaned) {
		return result
	}

	// The object may be embedded in surrounding prose.
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		if fillFromJSON(result, t.Fields, cleaned[start:end+1]) {
			return result
		}
	}

	// Last resort: scrape key/value fragments out of broken JSON.
	for _, field := range t.Fields {
		if v, ok := scrapeField(cleaned, field); ok {
			result[field] = v
		}
	}

	// A fenceless prose response with no object at all is taken as the
	// summary itself.
	if _, declared := result[summaryField]; declared &&
		result[summaryField] == t.DefaultValues[summaryField] &&
		!strings.HasPrefix(strings.TrimSpace(cleaned), "{") &&
		len(cleaned) > 10 {
		result[summaryField] = cleaned
	}

	return result
}

// stripFences removes markdown code fence markers and trims whitespace.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// fillFromJSON decodes s as a JSON object and copies the declared fields
// present in it. Non-string values are rendered with fmt.
func fillFromJSON(result map[string]string, fields []string, s string) bool {
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return false
	}
	for _, field := range fields {
		v, ok := data[field]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				result[field] = val
			}
		default:
			result[field] = fmt.Sprint(val)
		}
	}
	return true
}

func scrapeField(text, field string) (string, bool) {
	quoted := regexp.MustCompile(`"` + regexp.QuoteMeta(field) + `"\s*:\s*"([^"]+)"`)
	if m := quoted.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	loose := regexp.MustCompile(`"` + regexp.QuoteMeta(field) + `"\s*:\s*(.+?)(?:,|\n|\})`)
	if m := loose.FindStringSubmatch(text); m != nil {
		v := strings.Trim(strings.TrimSpace(m[1]), `"'`)
		if v != "" {
			return v, true
		}
	}
	return "", false
}
