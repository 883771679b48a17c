package ingestion

import (
	"errors"
	"fmt"

	"github.com/poiesic/policyrag/core"
)

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrGatewayRequired is returned when an embedding gateway is not provided.
	ErrGatewayRequired = errors.New("embedding gateway required")
)

// Parse failures. All of them wrap core.ErrValidation.
var (
	ErrEmptyContent         = fmt.Errorf("%w: raw document has no content", core.ErrValidation)
	ErrUnknownFormat        = fmt.Errorf("%w: unknown document format", core.ErrValidation)
	ErrMalformedFrontMatter = fmt.Errorf("%w: malformed front matter", core.ErrValidation)
)
