package ingestion

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/poiesic/policyrag/core"
)

// Positional header lines of the youth-center export.
const (
	lineRegion   = 0
	lineCategory = 1
	lineDeadline = 2
	lineName     = 7
	lineSummary  = 13
)

var agePattern = regexp.MustCompile(`만\s*(\d+)\s*세.*?만\s*(\d+)\s*세`)

// parseYouthCenter reads the plain-text layout exported by the youth policy portal:
// a fixed header followed by label lines, each value on the line after its label.
func parseYouthCenter(content string) (*core.PolicyDocument, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	at := func(i int) string {
		if i < len(lines) {
			return lines[i]
		}
		return ""
	}

	doc := &core.PolicyDocument{
		Region:     at(lineRegion),
		Category:   at(lineCategory),
		Deadline:   at(lineDeadline),
		PolicyName: at(lineName),
		Summary:    at(lineSummary),
		FullText:   strings.Join(lines, "\n"),
	}

	for i := 0; i < len(lines)-1; i++ {
		label := lines[i]
		if strings.HasPrefix(label, "참고사이트") {
			label = "참고사이트"
		}
		if label == "지원내용" {
			doc.SupportContent = collectSupportContent(lines[i+1:])
			continue
		}
		applyLabel(doc, label, lines[i+1])
	}

	doc.SourceFilename = derivedFilename(doc.PolicyName, doc.PolicyNumber)
	return doc, nil
}

// collectSupportContent joins the lines of a multi-line section, stopping at the
// next 사업/신청 heading and skipping blank and bullet-header lines.
func collectSupportContent(lines []string) string {
	var parts []string
	for _, line := range lines {
		if strings.HasPrefix(line, "사업") || strings.HasPrefix(line, "신청") {
			break
		}
		if line == "" || strings.HasPrefix(line, "□") {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

// parseAgeRange extracts bounds from text like "만 19세 ~ 만 34세".
func parseAgeRange(text string) (core.AgeRange, bool) {
	m := agePattern.FindStringSubmatch(text)
	if m == nil {
		return core.AgeRange{}, false
	}
	lo, err := strconv.Atoi(m[1])
	if err != nil {
		return core.AgeRange{}, false
	}
	hi, err := strconv.Atoi(m[2])
	if err != nil {
		return core.AgeRange{}, false
	}
	return core.AgeRange{Min: lo, Max: hi}, true
}

// derivedFilename builds a stable source filename from the policy name and the
// first ten characters of its number.
func derivedFilename(name, number string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	name = strings.NewReplacer(" ", "_", "(", "", ")", "").Replace(name)
	name = strings.Map(func(r rune) rune {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, name)

	suffix := "unknown"
	if number != "" {
		runes := []rune(number)
		suffix = string(runes[:min(len(runes), 10)])
	}
	return name + "_" + suffix
}
