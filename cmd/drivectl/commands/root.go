// Package commands defines the drivectl command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/halcyonic/drivectl/internal/app"
	"github.com/halcyonic/drivectl/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "drivectl",
		Usage: "cloud drive client with per-account OAuth credentials",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "account identity to operate as",
			},
			&cli.StringFlag{
				Name:  "storage--dir",
				Usage: "directory holding credentials and the account list",
			},
			&cli.StringFlag{
				Name:  "storage--credentials",
				Usage: "client credential backend (file|env|keyring)",
			},
		},
		Commands: []*cli.Command{
			accountsCommand(),
			filesCommand(),
			aboutCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// setup loads configuration and installs logging. Every action calls it
// first; the returned cleanup flushes any log export pipeline.
func setup(cmd *cli.Command) (*app.Config, func(context.Context) error, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	shutdown, err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return cfg, shutdown, nil
}
