package search

import (
	"time"

	"github.com/poiesic/policyrag/core"
)

// Monitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type Monitor interface {
	Start(req *Request)
	// AfterFilter reports the candidate count, or -1 when no filter applied.
	AfterFilter(candidates int)
	AfterEmbedding(elapsed time.Duration, err error)
	AfterVectorSearch(neighbors int, kept int)
	AfterKeywordSearch(scanned int, matched int)
	Finish(matchType core.MatchType, results []*core.SearchResult, err error)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ *Request)                                         {}
func (n *noopMonitor) AfterFilter(_ int)                                        {}
func (n *noopMonitor) AfterEmbedding(_ time.Duration, _ error)                  {}
func (n *noopMonitor) AfterVectorSearch(_ int, _ int)                           {}
func (n *noopMonitor) AfterKeywordSearch(_ int, _ int)                          {}
func (n *noopMonitor) Finish(_ core.MatchType, _ []*core.SearchResult, _ error) {}
