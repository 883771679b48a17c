package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/index"
	"github.com/poiesic/policyrag/search"
	"github.com/poiesic/policyrag/storage"
	"github.com/urfave/cli/v2"
)

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "region", Usage: "Only policies for this region"},
		&cli.StringFlag{Name: "category", Usage: "Only policies in this category"},
		&cli.StringSliceFlag{Name: "tag", Usage: "Only policies carrying every given tag"},
		&cli.IntFlag{Name: "age", Usage: "Only policies whose age limits admit this age"},
		&cli.StringFlag{Name: "prefix", Usage: "Only policies whose name starts with this prefix"},
	}
}

func filtersFrom(c *cli.Context) search.Filters {
	f := search.Filters{
		Region:     c.String("region"),
		Category:   c.String("category"),
		Tags:       c.StringSlice("tag"),
		NamePrefix: c.String("prefix"),
	}
	if c.IsSet("age") {
		f.Age = search.Int(c.Int("age"))
	}
	return f
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search policies by meaning or keyword",
		ArgsUsage: "<query>",
		Action:    searchAction,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of results (0 uses the configured value)",
			},
			&cli.Float64Flag{
				Name:  "threshold",
				Usage: "Minimum cosine similarity for vector results",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Retrieval mode (auto, vector, keyword)",
				Value: string(search.ModeAuto),
			},
			&cli.BoolFlag{
				Name:  "fallback",
				Usage: "Allow vector mode to fall back to keyword search",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
		}, filterFlags()...),
	}
}

func searchAction(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return cli.Exit("a query is required", 1)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	req := search.Request{
		Text:                 text,
		Limit:                c.Int("limit"),
		Filters:              filtersFrom(c),
		Mode:                 search.Mode(c.String("mode")),
		AllowKeywordFallback: c.Bool("fallback"),
	}
	if req.Limit == 0 {
		req.Limit = db.Config().Search.Limit
	}
	if c.IsSet("threshold") {
		req.Threshold = search.Float32(float32(c.Float64("threshold")))
	} else {
		req.Threshold = search.Float32(db.Config().Search.Threshold)
	}

	results, err := db.Retriever().Search(c.Context, req)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		out := make([]*core.SearchResult, len(results))
		for i, r := range results {
			out[i] = &core.SearchResult{Document: withoutEmbedding(r.Document), MatchType: r.MatchType, Score: r.Score}
		}
		return writeJSON(os.Stdout, out)
	}

	if len(results) == 0 {
		color.Yellow("No matching policies\n")
		return nil
	}
	for i, result := range results {
		printResult(os.Stdout, i+1, result)
	}
	return nil
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one policy as JSON",
		ArgsUsage: "<id>",
		Action:    getAction,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "filename",
				Usage: "Treat the argument as a source filename",
			},
		},
	}
}

func getAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one id is required", 1)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	var doc *core.PolicyDocument
	if c.Bool("filename") {
		doc, err = db.Documents().GetByFilename(c.Context, c.Args().First())
	} else {
		var id core.ID
		if id, err = parseID(c.Args().First()); err != nil {
			return err
		}
		doc, err = db.Documents().Get(c.Context, id)
	}
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, withoutEmbedding(doc))
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:   "list",
		Usage:  "List policies page by page",
		Action: listAction,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "region", Usage: "Only policies for this region"},
			&cli.StringFlag{Name: "category", Usage: "Only policies in this category"},
			&cli.StringFlag{
				Name:  "sort",
				Usage: "Sort order (smart, deadline, name, created, views)",
				Value: string(storage.SortSmart),
			},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Page size", Value: 20},
			&cli.IntFlag{Name: "offset", Usage: "Number of policies to skip"},
		},
	}
}

func listAction(c *cli.Context) error {
	sort := storage.SortOrder(c.String("sort"))
	switch sort {
	case storage.SortSmart, storage.SortDeadline, storage.SortName, storage.SortCreated, storage.SortViews:
	default:
		return fmt.Errorf("%w: unknown sort order %q", core.ErrInvalidArgument, sort)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	docs, total, err := db.Documents().List(c.Context, storage.ListOptions{
		Category: c.String("category"),
		Region:   c.String("region"),
		Sort:     sort,
		Limit:    c.Int("limit"),
		Offset:   c.Int("offset"),
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		printDocument(os.Stdout, doc)
	}
	color.Cyan("%d of %d policies\n", len(docs), total)
	return nil
}

func countCommand() *cli.Command {
	return &cli.Command{
		Name:   "count",
		Usage:  "Show document, index and catalog counts",
		Action: countAction,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "values",
				Usage: "Also list categories and regions with their counts",
			},
		},
	}
}

func countAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	total, err := db.Documents().Count(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("documents: %d\n", total)
	fmt.Printf("indexed:   %d\n", db.Index().Len())
	fmt.Printf("vectors:   %d\n", db.Index().VectorLen())
	if pending := db.Index().Pending(); len(pending) > 0 {
		fmt.Printf("pending:   %d (run reindex)\n", len(pending))
	}

	if !c.Bool("values") {
		return nil
	}
	for _, field := range []index.Field{index.FieldCategory, index.FieldRegion} {
		values, err := db.Index().Values(field)
		if err != nil {
			return err
		}
		color.Cyan("\n%s\n", field)
		for _, v := range values {
			fmt.Printf("  %-24s %d\n", v.Value, v.Count)
		}
	}
	return nil
}

func retireCommand() *cli.Command {
	return &cli.Command{
		Name:      "retire",
		Usage:     "Remove policies from search while keeping them readable by id",
		ArgsUsage: "<id>...",
		Action:    retireAction,
	}
}

func retireAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one id is required", 1)
	}
	ids := make([]core.ID, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		id, err := parseID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, id := range ids {
		if err := db.Documents().Retire(c.Context, id); err != nil {
			return fmt.Errorf("failed to retire %d: %w", id, err)
		}
		color.Green("✓ Retired %d\n", id)
	}
	return nil
}

func parseID(s string) (core.ID, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid id %q", core.ErrInvalidArgument, s)
	}
	return core.ID(id), nil
}
