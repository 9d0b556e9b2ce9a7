// Package detect implements monitoring-keyword detection over free text.
package detect

import "strings"

// Detect returns the subset of keywords present in text, preserving the
// order of the keywords argument. Matching is case-insensitive substring
// containment; each keyword appears at most once in the result. Empty text
// yields an empty result.
func Detect(text string, keywords []string) []string {
	if text == "" || len(keywords) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	seen := make(map[string]struct{}, len(keywords))
	var matched []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, dup := seen[key]; dup {
			continue
		}
		if strings.Contains(lower, key) {
			seen[key] = struct{}{}
			matched = append(matched, kw)
		}
	}
	return matched
}
