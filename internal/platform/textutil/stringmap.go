// Package textutil cleans caller-supplied free text before it is persisted or rendered.
package textutil

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictOnce.Do(func() { strictPolicy = bluemonday.StrictPolicy() })
	return strictPolicy
}

// PlainText strips every HTML element from value and collapses surrounding whitespace. Entities are
// decoded again so "R&D" stays "R&D".
func PlainText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || !strings.ContainsAny(value, "<>&") {
		return value
	}
	return strings.TrimSpace(html.UnescapeString(policy().Sanitize(value)))
}

// Truncate cuts value to at most limit runes.
func Truncate(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

// NormalizeStringMap trims keys, converts values to plain text and drops entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = PlainText(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
