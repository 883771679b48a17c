package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/poiesic/policyrag/config"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show or create the configuration file",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration as YAML",
				Action: configShowAction,
			},
			{
				Name:      "init",
				Usage:     "Write the default configuration",
				ArgsUsage: "[path]",
				Action:    configInitAction,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
			},
		},
	}
}

func configShowAction(c *cli.Context) error {
	cfg, err := loadedConfig(c)
	if err != nil {
		return err
	}
	return showConfig(c.App.Writer, cfg)
}

// showConfig writes cfg as YAML with the API key masked.
func showConfig(w io.Writer, cfg *config.Config) error {
	masked := *cfg
	if masked.AI.APIKey != "" {
		masked.AI.APIKey = "********"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return err
	}
	return enc.Close()
}

func configInitAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = config.SearchPath()[0]
	}
	if err := initConfig(path, c.Bool("force")); err != nil {
		return err
	}
	color.Green("Wrote %s\n", path)
	return nil
}

func initConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	return config.Save(path, config.Default())
}
