// Package cli provides the command-line interface for postsync.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/config"
	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/ui"
)

var (
	// Version is the current version of the application.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the date and time of the build.
	BuildDate = "unknown"
)

// Exit codes returned by ExitCode.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitConfig   = 2
	ExitAuth     = 3
	ExitState    = 4
	ExitCanceled = 130
)

// Run executes the CLI application with the given context and arguments.
func Run(ctx context.Context, args []string) error {
	return newApp().Run(ctx, args)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:           "postsync",
		Usage:          "Mirror posts between Mastodon and Bluesky",
		Version:        Version,
		DefaultCommand: "run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML configuration file",
				Value:   config.DefaultFileName,
				Sources: cli.EnvVars("POSTSYNC_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "state-dir",
				Usage: "Directory holding the sync cache and session (default: next to the config file)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose output (info level logging)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug output (debug level logging, implies verbose)",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write logs to this file, rotated by size",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Print OpenTelemetry spans to stderr",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			configureColors(cmd)
			return ctx, configureLogging(cmd, nil)
		},
		Commands: []*cli.Command{
			runCommand(),
			syncCommand(),
			sweepCommand(),
			statusCommand(),
			configCommand(),
			backupCommand(),
			exportCommand(),
			versionCommand(),
		},
	}
}

// configureColors sets up color output based on CLI flags and the terminal.
func configureColors(cmd *cli.Command) {
	out, _ := cmd.Root().Writer.(*os.File)
	ui.ConfigureColors(cmd.Bool("no-color"), out)
}

// configureLogging sets up the logger from CLI flags. When cfg is given its
// [log] section fills in what the flags leave unset.
func configureLogging(cmd *cli.Command, cfg *config.Config) error {
	opts := logging.DefaultOptions()

	if cmd.Bool("debug") {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	} else if cmd.Bool("verbose") {
		opts.Level = slog.LevelInfo
	}

	opts.File = cmd.String("log-file")
	if cfg != nil {
		if opts.File == "" {
			opts.File = cfg.Log.File
		}
		opts.JSON = cfg.Log.JSON
	}

	logger := logging.New(opts)
	logging.SetDefault(logger)

	logging.Debug("logging configured",
		slog.String("level", opts.Level.String()),
		logging.Path(opts.File),
	)

	return nil
}

// ExitCode maps an error returned by Run to the process exit code.
// Per-item failures never reach here; a completed run returns nil.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitCanceled
	case apperr.IsKind(err, apperr.KindConfig):
		return ExitConfig
	case apperr.IsKind(err, apperr.KindCorruptState):
		return ExitState
	case apperr.IsKind(err, apperr.KindAuth):
		return ExitAuth
	default:
		return ExitFailure
	}
}
