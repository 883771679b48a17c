package core

import (
	"fmt"
	"strings"
)

// ValidateDocument validates a PolicyDocument according to domain rules.
//
// Validation rules:
//   - PolicyName, SourceFilename and FullText must not be blank
//   - Embedding, when present, must have exactly dims entries
//   - Views and Scraps must not be negative
//
// NOT validated (assigned by the store):
//   - ID, CreatedAt, UpdatedAt
func ValidateDocument(doc *PolicyDocument, dims int) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrValidation)
	}

	if strings.TrimSpace(doc.PolicyName) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyPolicyName)
	}

	if strings.TrimSpace(doc.SourceFilename) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptySourceFilename)
	}

	if strings.TrimSpace(doc.FullText) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyFullText)
	}

	if err := ValidateEmbedding(doc.Embedding, dims); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if doc.Views < 0 || doc.Scraps < 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrNegativeCounter)
	}

	return nil
}

// ValidateEmbedding checks that a present embedding has exactly dims entries.
// An absent embedding is always valid.
func ValidateEmbedding(embedding []float32, dims int) error {
	if len(embedding) == 0 || dims <= 0 {
		return nil
	}
	if len(embedding) != dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), dims)
	}
	return nil
}
