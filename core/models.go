// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"encoding/binary"
	"slices"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID uniquely identifies a stored policy document.
type ID uint64

// DefaultDimensions is the embedding width of the reference corpus.
const DefaultDimensions = 1024

// ContentHash generates a deterministic digest from text parts using BLAKE2b hashing.
// Identical parts in identical order always produce the same value.
func ContentHash(parts ...string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Counter names an engagement counter on a policy document.
type Counter string

const (
	CounterViews  Counter = "views"
	CounterScraps Counter = "scraps"
)

// Valid reports whether c is a known counter.
func (c Counter) Valid() bool {
	return c == CounterViews || c == CounterScraps
}

// StorageRef points at the original source object in blob storage.
type StorageRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// PolicyDocument is the unit of retrieval: one government youth policy.
type PolicyDocument struct {
	ID             ID     `json:"id"`
	PolicyName     string `json:"policy_name"`
	SourceFilename string `json:"source_filename"`
	FullText       string `json:"full_text"`

	Region            string `json:"region,omitempty"`
	Category          string `json:"category,omitempty"`
	Deadline          string `json:"deadline,omitempty"`
	Summary           string `json:"summary,omitempty"`
	OperationPeriod   string `json:"operation_period,omitempty"`
	ApplicationPeriod string `json:"application_period,omitempty"`
	SupportScale      string `json:"support_scale,omitempty"`
	SupportContent    string `json:"support_content,omitempty"`
	LastModified      string `json:"last_modified,omitempty"`
	PolicyNumber      string `json:"policy_number,omitempty"`

	Views  int64 `json:"views"`
	Scraps int64 `json:"scraps"`

	Tags              []string         `json:"tags,omitempty"`
	Eligibility       map[string]Value `json:"eligibility,omitempty"`
	ApplicationInfo   map[string]Value `json:"application_info,omitempty"`
	AdditionalInfo    map[string]Value `json:"additional_info,omitempty"`
	RequiredDocuments []string         `json:"required_documents,omitempty"`

	Embedding  []float32   `json:"embedding,omitempty"`
	StorageRef *StorageRef `json:"storage_ref,omitempty"`

	// ContentHash is the digest of the text that produced Embedding.
	ContentHash ID `json:"content_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Retired   bool      `json:"retired,omitempty"`
}

// HasEmbedding reports whether the document carries a vector.
func (d *PolicyDocument) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// HasTag reports exact, case-sensitive tag membership.
func (d *PolicyDocument) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

// EmbeddingInput returns the text sent to the embedding model for this document.
func (d *PolicyDocument) EmbeddingInput() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{d.PolicyName, d.Summary, d.SupportContent, d.FullText} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Fingerprint hashes the fields that feed the embedding.
func (d *PolicyDocument) Fingerprint() ID {
	return ContentHash(d.PolicyName, d.Summary, d.SupportContent, d.FullText)
}

// NormalizeTags sorts and deduplicates tags, dropping empty entries.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Clone returns a deep copy of the document.
func (d *PolicyDocument) Clone() *PolicyDocument {
	if d == nil {
		return nil
	}
	c := *d
	c.Tags = slices.Clone(d.Tags)
	c.RequiredDocuments = slices.Clone(d.RequiredDocuments)
	c.Embedding = slices.Clone(d.Embedding)
	c.Eligibility = cloneMap(d.Eligibility)
	c.ApplicationInfo = cloneMap(d.ApplicationInfo)
	c.AdditionalInfo = cloneMap(d.AdditionalInfo)
	if d.StorageRef != nil {
		ref := *d.StorageRef
		c.StorageRef = &ref
	}
	return &c
}

func cloneMap(m map[string]Value) map[string]Value {
	if m == nil {
		return nil
	}
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// MatchType identifies which retrieval branch produced a result.
type MatchType string

const (
	MatchTypeVector MatchType = "vector"
	MatchTypeText   MatchType = "text"
)

// SearchResult represents a search result with the full document and relevance score.
type SearchResult struct {
	Document  *PolicyDocument
	MatchType MatchType
	Score     float32
}

// Checkpoint records how far a resumable job has progressed.
type Checkpoint struct {
	Job       string    `json:"job"`
	LastID    ID        `json:"last_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
