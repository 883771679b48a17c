package storage

import (
	"cmp"
	"slices"
	"strings"

	"github.com/poiesic/policyrag/core"
)

var rollingDeadlines = []string{"", "상시", "상시 모집", "상시모집"}

// IsRollingDeadline reports whether a deadline means "always open".
func IsRollingDeadline(deadline string) bool {
	return slices.Contains(rollingDeadlines, strings.TrimSpace(deadline))
}

// SortDocuments orders docs in place according to order.
// Every ordering falls back to ascending ID so results are deterministic.
func SortDocuments(docs []*core.PolicyDocument, order SortOrder) {
	slices.SortStableFunc(docs, func(a, b *core.PolicyDocument) int {
		var c int
		switch order {
		case SortDeadline:
			c = cmp.Compare(a.Deadline, b.Deadline)
		case SortName:
			c = cmp.Compare(a.PolicyName, b.PolicyName)
		case SortCreated:
			c = b.CreatedAt.Compare(a.CreatedAt)
		case SortViews:
			c = cmp.Compare(b.Views, a.Views)
		default:
			ra, rb := IsRollingDeadline(a.Deadline), IsRollingDeadline(b.Deadline)
			switch {
			case ra != rb && ra:
				c = 1
			case ra != rb:
				c = -1
			case ra:
				c = cmp.Compare(a.PolicyName, b.PolicyName)
			default:
				c = b.CreatedAt.Compare(a.CreatedAt)
			}
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// MatchesListOptions reports whether doc passes the List filters.
func MatchesListOptions(doc *core.PolicyDocument, opts ListOptions) bool {
	if doc.Retired {
		return false
	}
	if opts.Category != "" && doc.Category != opts.Category {
		return false
	}
	if opts.Region != "" && doc.Region != opts.Region {
		return false
	}
	return true
}

// Page applies offset and limit to an already sorted slice.
// A non-positive limit returns everything after offset.
func Page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
