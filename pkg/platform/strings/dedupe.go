// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order of first occurrence is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  U1 ", "U2", "U1", "", "  "})
//	// Returns: []string{"U1", "U2"}
func DedupeAndTrim(values []string) []string {
	unique, _ := DedupeAndTrimCount(values)
	return unique
}

// DedupeAndTrimCount is like DedupeAndTrim but also reports how many non-empty
// entries were dropped as duplicates.
func DedupeAndTrimCount(values []string) ([]string, int) {
	if len(values) == 0 {
		return values, 0
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	duplicates := 0

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			duplicates++
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}

	return result, duplicates
}

// DedupeAndTrimLower is like DedupeAndTrim but also lowercases each element.
// Used for case-insensitive values such as access actions.
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}
	lowered := make([]string, len(values))
	for i, v := range values {
		lowered[i] = strings.ToLower(v)
	}
	return DedupeAndTrim(lowered)
}
