package main

import (
	"log/slog"

	"github.com/fatih/color"
	"github.com/poiesic/policyrag/server"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the search, listing and question answering HTTP API",
		Action: serveAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address (empty uses the configured value)",
			},
			&cli.BoolFlag{
				Name:  "no-ask",
				Usage: "Disable the question answering endpoint",
			},
		},
	}
}

func serveAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()
	cfg := db.Config()

	metrics := server.NewMetrics()
	pipeline, err := db.NewPipeline()
	if err != nil {
		return err
	}
	defer pipeline.Release()

	opts := []server.Option{
		server.WithIngester(pipeline),
		server.WithCatalog(db.Index()),
		server.WithMetrics(metrics),
		server.WithDefaultLimit(cfg.Search.Limit),
	}
	if !c.Bool("no-ask") {
		assistant, err := db.NewAssistant()
		if err != nil {
			return err
		}
		opts = append(opts, server.WithAssistant(assistant))
	}

	srv, err := server.New(db.Documents(), db.Retriever(), opts...)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	color.Cyan("Serving %d policies on %s\n", db.Index().Len(), addr)
	slog.Info("listening", "addr", addr)
	return srv.ListenAndServe(c.Context, addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
}
