package ingestion

import (
	"fmt"
	"strings"

	"github.com/poiesic/policyrag/core"
)

// Parse converts a raw document into a policy document ready for validation.
// The returned document is never shared with raw.
func Parse(raw RawDocument) (*core.PolicyDocument, error) {
	format := raw.Format
	if format == FormatAuto {
		format = detectFormat(raw)
	}

	var (
		doc *core.PolicyDocument
		err error
	)
	switch format {
	case FormatStructured:
		if raw.Document == nil {
			return nil, fmt.Errorf("%w: structured format without fields", ErrEmptyContent)
		}
		doc = raw.Document.Clone()
	case FormatFrontMatter:
		doc, err = parseFrontMatter(raw.Content)
	case FormatYouthCenter:
		doc, err = parseYouthCenter(raw.Content)
	case FormatHTML:
		doc, err = parseHTML(raw.Content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}

	// Storage assigns identity and engagement.
	doc.ID = 0
	doc.Views, doc.Scraps = 0, 0
	doc.Retired = false

	if raw.Filename != "" {
		doc.SourceFilename = raw.Filename
	}
	if doc.SourceFilename == "" {
		doc.SourceFilename = raw.Origin
	}
	return doc, nil
}

func detectFormat(raw RawDocument) Format {
	switch {
	case raw.Document != nil:
		return FormatStructured
	case hasFrontMatter(raw.Content):
		return FormatFrontMatter
	case looksLikeHTML(raw.Content):
		return FormatHTML
	default:
		return FormatYouthCenter
	}
}

func looksLikeHTML(content string) bool {
	head := strings.ToLower(strings.TrimSpace(content))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.Contains(head, "<html")
}

// applyLabel stores a labeled section value on doc. Unknown labels are ignored.
func applyLabel(doc *core.PolicyDocument, label, value string) {
	value = strings.TrimSpace(value)
	switch label {
	case "정책번호":
		doc.PolicyNumber = value
	case "지원내용":
		doc.SupportContent = value
	case "지원규모":
		doc.SupportScale = value
	case "사업 운영 기간":
		doc.OperationPeriod = value
	case "사업 신청기간":
		doc.ApplicationPeriod = value
	case "최종수정일":
		doc.LastModified = value
	case "연령":
		setEligibility(doc, core.EligibilityAge, core.String(value))
		if r, ok := parseAgeRange(value); ok {
			setEligibility(doc, core.EligibilityAgeMin, core.Number(float64(r.Min)))
			setEligibility(doc, core.EligibilityAgeMax, core.Number(float64(r.Max)))
		}
	case "소득":
		setEligibility(doc, core.EligibilityIncome, core.String(value))
	case "거주지역":
		setEligibility(doc, core.EligibilityResidence, core.Array(core.String(value)))
	case "주관 기관":
		setApplicationInfo(doc, "managing_agency", core.String(value))
	case "운영 기관":
		setApplicationInfo(doc, "operating_agency", core.String(value))
	case "참고사이트", "신청사이트":
		if strings.HasPrefix(value, "http") {
			setApplicationInfo(doc, "application_url", core.String(value))
		}
	}
}

func setEligibility(doc *core.PolicyDocument, key string, v core.Value) {
	if doc.Eligibility == nil {
		doc.Eligibility = map[string]core.Value{}
	}
	doc.Eligibility[key] = v
}

func setApplicationInfo(doc *core.PolicyDocument, key string, v core.Value) {
	if doc.ApplicationInfo == nil {
		doc.ApplicationInfo = map[string]core.Value{}
	}
	doc.ApplicationInfo[key] = v
}
