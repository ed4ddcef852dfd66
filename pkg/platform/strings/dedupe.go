// Package strings provides string slice utilities for request normalization.
package strings

import (
	"strings"
)

// DedupeAndTrimLower trims, lowercases and deduplicates values, dropping
// empty entries. Order is preserved.
//
// Example:
//
//	DedupeAndTrimLower([]string{" Calendar", "video", "calendar", ""})
//	// Returns: []string{"calendar", "video"}
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// SplitPath splits a slash separated path into its non-empty segments.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
