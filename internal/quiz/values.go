package quiz

import (
	"encoding/json"
	"strings"
)

// Answered reports whether a stored answer value counts towards completion:
// non-blank after trimming and not an empty JSON array.
func Answered(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return false
	}
	if strings.HasPrefix(v, "[") {
		var items []any
		if err := json.Unmarshal([]byte(v), &items); err == nil && len(items) == 0 {
			return false
		}
	}
	return true
}

// Choices decodes a multi-select value. ok is false when value is not a JSON
// array of strings.
func Choices(value string) (choices []string, ok bool) {
	v := strings.TrimSpace(value)
	if !strings.HasPrefix(v, "[") {
		return nil, false
	}
	if err := json.Unmarshal([]byte(v), &choices); err != nil {
		return nil, false
	}
	return choices, true
}

// Render returns the human readable form of a stored value: multi-select
// arrays are joined with ", ", anything else is returned as is.
func Render(value string) string {
	if choices, ok := Choices(value); ok {
		return strings.Join(choices, ", ")
	}
	return value
}

func encodeChoices(choices []string) (string, error) {
	cleaned := make([]string, 0, len(choices))
	for _, c := range choices {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	b, err := json.Marshal(cleaned)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
