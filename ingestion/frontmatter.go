package ingestion

import (
	"fmt"
	"strings"

	"github.com/poiesic/policyrag/core"
	"gopkg.in/yaml.v3"
)

const frontMatterDelimiter = "---"

// frontMatter is the YAML header of a markdown policy source.
type frontMatter struct {
	PolicyName        string         `yaml:"policy_name"`
	SourceFilename    string         `yaml:"source_filename"`
	Region            string         `yaml:"region"`
	Category          string         `yaml:"category"`
	Deadline          string         `yaml:"deadline"`
	Summary           string         `yaml:"summary"`
	OperationPeriod   string         `yaml:"operation_period"`
	ApplicationPeriod string         `yaml:"application_period"`
	SupportScale      string         `yaml:"support_scale"`
	SupportContent    string         `yaml:"support_content"`
	LastModified      string         `yaml:"last_modified"`
	PolicyNumber      string         `yaml:"policy_number"`
	Tags              []string       `yaml:"tags"`
	Eligibility       map[string]any `yaml:"eligibility"`
	ApplicationInfo   map[string]any `yaml:"application_info"`
	AdditionalInfo    map[string]any `yaml:"additional_info"`
	RequiredDocuments []string       `yaml:"required_documents"`
}

func hasFrontMatter(content string) bool {
	content = strings.TrimLeft(content, "\uFEFF")
	return strings.HasPrefix(content, frontMatterDelimiter+"\n") ||
		strings.HasPrefix(content, frontMatterDelimiter+"\r\n")
}

// splitFrontMatter separates the YAML header from the body.
func splitFrontMatter(content string) (header, body string, err error) {
	content = strings.ReplaceAll(strings.TrimLeft(content, "\uFEFF"), "\r\n", "\n")
	if !strings.HasPrefix(content, frontMatterDelimiter+"\n") {
		return "", "", fmt.Errorf("%w: missing opening delimiter", ErrMalformedFrontMatter)
	}
	rest := content[len(frontMatterDelimiter)+1:]

	end := strings.Index(rest, "\n"+frontMatterDelimiter)
	switch {
	case strings.HasPrefix(rest, frontMatterDelimiter):
		return "", strings.TrimPrefix(rest[len(frontMatterDelimiter):], "\n"), nil
	case end < 0:
		return "", "", fmt.Errorf("%w: missing closing delimiter", ErrMalformedFrontMatter)
	}
	header = rest[:end]
	body = rest[end+len(frontMatterDelimiter)+1:]
	return header, strings.TrimPrefix(body, "\n"), nil
}

func parseFrontMatter(content string) (*core.PolicyDocument, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	header, body, err := splitFrontMatter(content)
	if err != nil {
		return nil, err
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}

	doc := &core.PolicyDocument{
		PolicyName:        strings.TrimSpace(fm.PolicyName),
		SourceFilename:    strings.TrimSpace(fm.SourceFilename),
		FullText:          strings.TrimSpace(body),
		Region:            fm.Region,
		Category:          fm.Category,
		Deadline:          fm.Deadline,
		Summary:           fm.Summary,
		OperationPeriod:   fm.OperationPeriod,
		ApplicationPeriod: fm.ApplicationPeriod,
		SupportScale:      fm.SupportScale,
		SupportContent:    fm.SupportContent,
		LastModified:      fm.LastModified,
		PolicyNumber:      fm.PolicyNumber,
		Tags:              fm.Tags,
		RequiredDocuments: fm.RequiredDocuments,
	}

	for _, field := range []struct {
		name string
		raw  map[string]any
		dst  *map[string]core.Value
	}{
		{"eligibility", fm.Eligibility, &doc.Eligibility},
		{"application_info", fm.ApplicationInfo, &doc.ApplicationInfo},
		{"additional_info", fm.AdditionalInfo, &doc.AdditionalInfo},
	} {
		values, err := core.MapFromAny(field.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrontMatter, field.name, err)
		}
		*field.dst = values
	}
	return doc, nil
}
