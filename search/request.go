package search

import (
	"fmt"

	"github.com/poiesic/policyrag/core"
)

// DefaultThreshold is the minimum similarity for vector results when a
// request sets none.
const DefaultThreshold float32 = 0.7

// Mode selects the retrieval branch.
type Mode string

const (
	// ModeAuto uses vector search when a vector is available and falls back
	// to keyword search otherwise.
	ModeAuto Mode = "auto"
	// ModeVector requires a vector. Fallback happens only when the request allows it.
	ModeVector Mode = "vector"
	// ModeKeyword skips the embedder entirely.
	ModeKeyword Mode = "keyword"
)

// Filters restrict the candidate set. Zero values impose no restriction.
type Filters struct {
	Region   string `json:"region,omitempty"`
	Category string `json:"category,omitempty"`
	// Tags must all be present on a document.
	Tags []string `json:"tags,omitempty"`
	// Eligibility entries must each be contained in the document's eligibility map.
	Eligibility map[string]core.Value `json:"eligibility,omitempty"`
	// Age keeps documents whose age limits admit this age.
	Age        *int   `json:"age,omitempty"`
	NamePrefix string `json:"namePrefix,omitempty"`
}

func (f Filters) empty() bool {
	return f.Region == "" && f.Category == "" && len(f.Tags) == 0 &&
		len(f.Eligibility) == 0 && f.Age == nil && f.NamePrefix == ""
}

// Request describes one search.
type Request struct {
	Text      string    `json:"text,omitempty"`
	Vector    []float32 `json:"vector,omitempty"`
	Limit     int       `json:"limit"`
	Threshold *float32  `json:"threshold,omitempty"`
	Filters   Filters   `json:"filters"`
	Mode      Mode      `json:"mode,omitempty"`
	// AllowKeywordFallback lets a ModeVector request degrade to keyword search.
	AllowKeywordFallback bool `json:"allowKeywordFallback,omitempty"`
}

func (r *Request) validate(dims int) error {
	if r.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", core.ErrInvalidArgument, r.Limit)
	}
	if r.Threshold != nil && (*r.Threshold < 0 || *r.Threshold > 1) {
		return fmt.Errorf("%w: threshold must be within [0,1], got %v", core.ErrInvalidArgument, *r.Threshold)
	}
	switch r.Mode {
	case "", ModeAuto, ModeVector, ModeKeyword:
	default:
		return fmt.Errorf("%w: unknown mode %q", core.ErrInvalidArgument, r.Mode)
	}
	if r.Text == "" && len(r.Vector) == 0 {
		return fmt.Errorf("%w: request needs text or a vector", core.ErrInvalidArgument)
	}
	if r.Mode == ModeKeyword && r.Text == "" {
		return fmt.Errorf("%w: keyword search needs text", core.ErrInvalidArgument)
	}
	if len(r.Vector) > 0 {
		if err := core.ValidateEmbedding(r.Vector, dims); err != nil {
			return fmt.Errorf("%w: %w", core.ErrInvalidArgument, err)
		}
	}
	return nil
}

func (r *Request) threshold() float32 {
	if r.Threshold == nil {
		return DefaultThreshold
	}
	return *r.Threshold
}

// Float32 returns a pointer to v, for Request.Threshold.
func Float32(v float32) *float32 {
	return &v
}

// Int returns a pointer to v, for Filters.Age.
func Int(v int) *int {
	return &v
}
