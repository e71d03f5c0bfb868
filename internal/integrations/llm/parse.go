package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripFences removes a markdown code fence wrapped around a payload.
// Models add them despite instructions not to.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractJSON cuts the outermost JSON object or array out of s,
// discarding any prose the model wrapped around it.
func extractJSON(s string) (string, error) {
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	start, closer := objStart, "}"
	if objStart < 0 || (arrStart >= 0 && arrStart < objStart) {
		start, closer = arrStart, "]"
	}
	if start < 0 {
		return "", fmt.Errorf("no JSON payload in response")
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return "", fmt.Errorf("unterminated JSON payload in response")
	}
	return s[start : end+1], nil
}

// ParseJSON strips fences, extracts the outermost JSON value and
// unmarshals it into T.
func ParseJSON[T any](response string) (T, error) {
	var out T
	payload, err := extractJSON(StripFences(response))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("parsing JSON response: %w", err)
	}
	return out, nil
}
