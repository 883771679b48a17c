package ingestion

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/policyrag/core"
)

// parseHTML reads a policy detail page. The name comes from the first h1 (or the
// title), header fields from meta tags, and labeled sections from dt/dd and
// th/td pairs.
func parseHTML(content string) (*core.PolicyDocument, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	page, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	page.Find("script, style, noscript").Remove()

	doc := &core.PolicyDocument{
		PolicyName: cleanText(page.Find("h1").First().Text()),
		Region:     metaContent(page, "policy:region"),
		Category:   metaContent(page, "policy:category"),
		Deadline:   metaContent(page, "policy:deadline"),
		Summary:    metaContent(page, "description"),
	}
	if doc.PolicyName == "" {
		doc.PolicyName = cleanText(page.Find("title").First().Text())
	}
	if tags := metaContent(page, "keywords"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			doc.Tags = append(doc.Tags, strings.TrimSpace(tag))
		}
	}

	page.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		applyLabel(doc, cleanText(dt.Text()), cleanText(dt.NextFiltered("dd").Text()))
	})
	page.Find("tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		if th.Length() > 0 && td.Length() > 0 {
			applyLabel(doc, cleanText(th.Text()), cleanText(td.Text()))
		}
	})
	page.Find("a[href^='http']").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if _, ok := doc.ApplicationInfo["application_url"]; ok {
			return false
		}
		if href, _ := a.Attr("href"); strings.Contains(a.Text(), "신청") {
			setApplicationInfo(doc, "application_url", core.String(href))
			return false
		}
		return true
	})

	var lines []string
	page.Find("body").Each(func(_ int, body *goquery.Selection) {
		for _, line := range strings.Split(body.Text(), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
	})
	doc.FullText = strings.Join(lines, "\n")

	return doc, nil
}

func metaContent(page *goquery.Document, name string) string {
	value, _ := page.Find(fmt.Sprintf("meta[name=%q]", name)).Attr("content")
	return strings.TrimSpace(value)
}

// cleanText collapses whitespace runs into single spaces.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
