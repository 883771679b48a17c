// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/poiesic/policyrag"
	"github.com/poiesic/policyrag/config"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "policyrag",
		Usage: "Hybrid semantic search over youth policy documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the BadgerDB database directory",
				EnvVars: []string{config.EnvDB},
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Storage backend (badger, postgres)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			ingestCommand(),
			searchCommand(),
			getCommand(),
			listCommand(),
			countCommand(),
			retireCommand(),
			reindexCommand(),
			serveCommand(),
			askCommand(),
			configCommand(),
		},
	}
}

// setup loads the configuration, applies global flag overrides and installs the logger.
func setup(c *cli.Context) error {
	cfg, path, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.String("db") != "" {
		cfg.Storage.Path = c.String("db")
	}
	if c.IsSet("backend") {
		cfg.Storage.Backend = c.String("backend")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}
	if path != "" {
		slog.Debug("loaded configuration", "path", path)
	}

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func setupLogger(name string) error {
	level, err := config.ParseLevel(name)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func loadedConfig(c *cli.Context) (*config.Config, error) {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// openDatabase opens the database described by the loaded configuration.
// Callers must Close it.
func openDatabase(c *cli.Context, opts ...policyrag.DatabaseOption) (*policyrag.Database, error) {
	cfg, err := loadedConfig(c)
	if err != nil {
		return nil, err
	}
	db, err := policyrag.Open(c.Context, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
