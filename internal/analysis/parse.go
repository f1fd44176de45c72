package analysis

import (
	"encoding/json"
	"strings"
)

// RawResponseKey holds the verbatim LLM text when it is not valid JSON.
const RawResponseKey = "raw_response"

// ParseJSON decodes an LLM answer as a JSON object, dropping any code-fence
// lines first. When decoding fails the text is returned under
// RawResponseKey and ok is false; callers treat that as a degraded result.
func ParseJSON(text string) (data map[string]any, ok bool) {
	cleaned := StripFences(text)
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil || data == nil {
		return map[string]any{RawResponseKey: text}, false
	}
	return data, true
}

// StripFences removes Markdown code-fence lines around a response.
func StripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if !strings.HasPrefix(strings.TrimSpace(l), "```") {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}
