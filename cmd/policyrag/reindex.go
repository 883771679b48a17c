package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/poiesic/policyrag/reindex"
	"github.com/poiesic/policyrag/retry"
	"github.com/urfave/cli/v2"
)

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:   "reindex",
		Usage:  "Embed documents missing a vector and rebuild every index",
		Action: reindexAction,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of documents to embed in each request",
				Value: 64,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Re-embed every document, not only those without a vector",
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Continue after the last checkpoint of an interrupted run",
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Maximum retry attempts for failed embedding calls",
				Value: 3,
			},
			&cli.IntFlag{
				Name:  "verify",
				Usage: "Check index recall on N sampled documents afterwards (0 disables)",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Report progress as plain text lines instead of a progress bar",
			},
		},
	}
}

func reindexAction(c *cli.Context) error {
	if c.Int("batch-size") <= 0 {
		return cli.Exit("batch-size must be positive", 1)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	var progress reindex.Progress = &barProgress{desc: "Reindexing"}
	if c.Bool("plain") {
		progress = reindex.NewProgressTracker(os.Stderr, c.Int("batch-size"))
	}

	policy := retry.DefaultPolicy
	policy.MaxAttempts = c.Int("max-retries")
	rebuilder, err := db.NewRebuilder(
		reindex.WithProgress(progress),
		reindex.WithRetryPolicy(policy),
	)
	if err != nil {
		return err
	}
	defer rebuilder.Release()

	report, err := rebuilder.Run(c.Context, reindex.RunOptions{
		BatchSize: c.Int("batch-size"),
		Force:     c.Bool("force"),
		Resume:    c.Bool("resume"),
	})
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	color.Green("✓ Scanned %d documents in %s\n", report.Scanned, report.Elapsed.Round(time.Millisecond))
	fmt.Printf("  embedded %d, skipped %d\n", report.Embedded, report.Skipped)
	if report.Failed > 0 {
		color.Yellow("  %d documents could not be embedded\n", report.Failed)
	}

	if sample := c.Int("verify"); sample > 0 {
		recall, err := rebuilder.Verify(c.Context, sample)
		if err != nil {
			return err
		}
		paint := color.GreenString
		if recall < 1 {
			paint = color.YellowString
		}
		fmt.Printf("  index recall %s\n", paint("%.1f%%", recall*100))
	}
	return nil
}
