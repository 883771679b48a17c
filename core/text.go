package core

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold returns the Unicode case-folded form of s for case-insensitive comparison.
func Fold(s string) string {
	// Casers carry state and must not be shared between goroutines.
	return cases.Fold().String(s)
}

// ContainsFold reports whether needle occurs in haystack ignoring case.
// needle must already be folded.
func ContainsFold(haystack, foldedNeedle string) bool {
	return strings.Contains(Fold(haystack), foldedNeedle)
}
