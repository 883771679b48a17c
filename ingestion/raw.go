package ingestion

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/policyrag/core"
)

// Format names the layout of a raw document.
type Format string

const (
	// FormatAuto detects the layout from the content.
	FormatAuto        Format = ""
	FormatStructured  Format = "structured"
	FormatFrontMatter Format = "frontmatter"
	FormatYouthCenter Format = "youthcenter"
	FormatHTML        Format = "html"
)

// RawDocument is one policy source awaiting ingestion.
type RawDocument struct {
	// Filename overrides the source filename derived by the parser.
	Filename string

	// Origin names where the content came from. It is the last fallback for
	// the source filename.
	Origin string

	// Format selects the parser. FormatAuto inspects Document and Content.
	Format Format

	// Content is the raw text of the source.
	Content string

	// Document carries already structured fields. It takes precedence over Content.
	Document *core.PolicyDocument
}

// Result reports the outcome of ingesting one RawDocument.
type Result struct {
	DocumentID core.ID
	Filename   string

	// Embedded is true when the stored document carries a vector.
	Embedded bool

	// Reused is true when the vector was carried over from the stored document.
	Reused bool

	// Warning describes a recoverable problem, such as an unreachable embedding model.
	Warning string

	// Err is set when the document was not stored.
	Err error
}

// ReadFile loads a raw document from disk, choosing the format from the extension.
func ReadFile(path string) (RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RawDocument{}, err
	}

	raw := RawDocument{Content: string(data), Origin: filepath.Base(path)}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".yaml", ".yml":
		raw.Format = FormatFrontMatter
	case ".html", ".htm":
		raw.Format = FormatHTML
	case ".txt":
		if !hasFrontMatter(raw.Content) {
			raw.Format = FormatYouthCenter
		}
	}
	return raw, nil
}
