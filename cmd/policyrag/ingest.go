package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/poiesic/policyrag/ingestion"
	"github.com/urfave/cli/v2"
)

var ingestExtensions = []string{".txt", ".md", ".markdown", ".yaml", ".yml", ".html", ".htm"}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Parse, embed and store policy documents",
		ArgsUsage: "<file or directory>...",
		Action:    ingestAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Force a source format (structured, frontmatter, youthcenter, html)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of documents ingested concurrently (0 uses the configured value)",
			},
		},
	}
}

func ingestAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one file or directory is required", 1)
	}
	format, err := parseFormat(c.String("format"))
	if err != nil {
		return err
	}

	files, err := collectFiles(c.Args().Slice())
	if err != nil {
		return err
	}
	if len(files) == 0 {
		color.Yellow("No policy documents found\n")
		return nil
	}

	raws := make([]ingestion.RawDocument, 0, len(files))
	for _, path := range files {
		raw, err := ingestion.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if format != ingestion.FormatAuto {
			raw.Format = format
		}
		raws = append(raws, raw)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	bar := getProgressBar(len(raws), "Ingesting documents")
	opts := []ingestion.Option{ingestion.WithResultHook(func(ingestion.Result) { _ = bar.Add(1) })}
	if workers := c.Int("workers"); workers > 0 {
		opts = append(opts, ingestion.WithPoolSize(workers))
	}
	pipeline, err := db.NewPipeline(opts...)
	if err != nil {
		return err
	}
	defer pipeline.Release()

	results := pipeline.IngestBatch(c.Context, raws)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	var stored, embedded, reused, failed int
	for i, result := range results {
		switch {
		case result.Err != nil:
			failed++
			color.Red("✗ %s: %v\n", raws[i].Origin, result.Err)
			continue
		case result.Warning != "":
			color.Yellow("! %s: %s\n", result.Filename, result.Warning)
		}
		stored++
		if result.Reused {
			reused++
		} else if result.Embedded {
			embedded++
		}
	}

	color.Green("✓ Stored %d documents (%d embedded, %d reused vectors)\n", stored, embedded, reused)
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d documents failed", failed), 1)
	}
	return nil
}

func parseFormat(name string) (ingestion.Format, error) {
	format := ingestion.Format(strings.ToLower(strings.TrimSpace(name)))
	switch format {
	case ingestion.FormatAuto, ingestion.FormatStructured, ingestion.FormatFrontMatter,
		ingestion.FormatYouthCenter, ingestion.FormatHTML:
		return format, nil
	}
	return "", fmt.Errorf("unknown format %q", name)
}

// collectFiles expands directories into the policy files they contain, in lexical order.
// Files named explicitly are kept whatever their extension.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != path && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if slices.Contains(ingestExtensions, strings.ToLower(filepath.Ext(p))) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
