package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/reindex"
	"github.com/schollz/progressbar/v3"
)

func getProgressBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.BlueString(desc)),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.CyanString(desc)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// barProgress reports reindex progress on a progress bar.
type barProgress struct {
	desc string
	bar  *progressbar.ProgressBar
}

var _ reindex.Progress = (*barProgress)(nil)

func (p *barProgress) Start(total int) {
	p.bar = getProgressBar(total, p.desc)
}

func (p *barProgress) Increment(delta int) {
	if p.bar != nil {
		_ = p.bar.Add(delta)
	}
}

func (p *barProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}

func printResult(w io.Writer, rank int, result *core.SearchResult) {
	doc := result.Document
	fmt.Fprintf(w, "%s %s %s\n",
		color.New(color.Bold).Sprintf("%2d.", rank),
		color.GreenString(doc.PolicyName),
		color.HiBlackString("#%d", doc.ID))
	fmt.Fprintf(w, "    %s  %s  %s\n",
		color.CyanString("%.4f", result.Score),
		result.MatchType,
		strings.Join(nonEmpty(doc.Region, doc.Category, doc.Deadline), " / "))
	if doc.Summary != "" {
		fmt.Fprintf(w, "    %s\n", doc.Summary)
	}
}

func printDocument(w io.Writer, doc *core.PolicyDocument) {
	fmt.Fprintf(w, "%s %s\n", color.GreenString(doc.PolicyName), color.HiBlackString("#%d", doc.ID))
	fmt.Fprintf(w, "    %s  views %d  scraps %d",
		strings.Join(nonEmpty(doc.Region, doc.Category, doc.Deadline), " / "), doc.Views, doc.Scraps)
	if doc.Retired {
		fmt.Fprintf(w, "  %s", color.RedString("retired"))
	}
	fmt.Fprintln(w)
}

// writeJSON prints v indented, without any embedding payload.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func withoutEmbedding(doc *core.PolicyDocument) *core.PolicyDocument {
	out := doc.Clone()
	out.Embedding = nil
	return out
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
