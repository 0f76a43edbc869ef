// Package answer grades free-text submissions against canonical answers.
package answer

import (
	"strings"

	"github.com/nqdang/qbattle/internal/domain"
)

// Normalize folds a submission for comparison: trimmed and lowercased.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsCorrect reports whether submitted matches the canonical answer or any
// accepted alternate, case- and whitespace-insensitively. Exact match only:
// room and fast modes never do fuzzy or partial matching.
func IsCorrect(submitted, canonical string, accepted []domain.AcceptedAnswer) bool {
	u := Normalize(submitted)
	if u == "" {
		return false
	}

	if u == Normalize(canonical) {
		return true
	}

	for _, a := range accepted {
		if u == Normalize(a.Answer) {
			return true
		}
	}

	return false
}

// IsCorrectLoose additionally accepts substring containment in either
// direction. Only the legacy solo mode uses this; the heuristic is
// inconsistent with the exact matching of the room modes and is kept
// separate so the two can never be mixed up.
func IsCorrectLoose(submitted, canonical string, accepted []domain.AcceptedAnswer) bool {
	if IsCorrect(submitted, canonical, accepted) {
		return true
	}

	u := Normalize(submitted)
	if u == "" {
		return false
	}

	c := Normalize(canonical)
	return strings.Contains(u, c) || strings.Contains(c, u)
}
