package core

import (
	"strconv"
	"strings"
)

// Eligibility keys with a fixed meaning across programs.
const (
	EligibilityAgeMin    = "age_min"
	EligibilityAgeMax    = "age_max"
	EligibilityAge       = "age"
	EligibilityIncome    = "income"
	EligibilityResidence = "residence"
)

// AgeRange is an inclusive age bound. Zero on either side means unbounded.
type AgeRange struct {
	Min int
	Max int
}

// Contains reports whether age falls inside the range.
func (r AgeRange) Contains(age int) bool {
	if r.Min > 0 && age < r.Min {
		return false
	}
	if r.Max > 0 && age > r.Max {
		return false
	}
	return true
}

// AgeRangeOf extracts the age bounds from a document's eligibility map.
// The second return is false when the document states no age limits.
func AgeRangeOf(doc *PolicyDocument) (AgeRange, bool) {
	if doc == nil || doc.Eligibility == nil {
		return AgeRange{}, false
	}
	min, hasMin := intValue(doc.Eligibility[EligibilityAgeMin])
	max, hasMax := intValue(doc.Eligibility[EligibilityAgeMax])
	if !hasMin && !hasMax {
		return AgeRange{}, false
	}
	return AgeRange{Min: min, Max: max}, true
}

func intValue(v Value) (int, bool) {
	if n, ok := v.AsNumber(); ok {
		return int(n), true
	}
	if s, ok := v.AsString(); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err == nil {
			return n, true
		}
	}
	return 0, false
}
