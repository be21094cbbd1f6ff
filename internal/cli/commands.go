package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/config"
	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/sync"
	"github.com/klauern/postsync/internal/ui"
	"github.com/klauern/postsync/internal/ui/tui"
)

func dryRunFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "dry-run",
		Aliases: []string{"d"},
		Usage:   "Show what would happen without publishing, deleting or recording anything",
	}
}

func syncFlags() []cli.Flag {
	return []cli.Flag{
		dryRunFlag(),
		&cli.BoolFlag{
			Name:  "skip-existing-posts",
			Usage: "Mark current posts as synced without publishing them (first run on populated accounts)",
		},
	}
}

func outputFlags() []cli.Flag {
	names := make([]string, 0, len(ui.Formats()))
	for _, f := range ui.Formats() {
		names = append(names, string(f))
	}
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: " + strings.Join(names, ", "),
			Value:   string(ui.FormatTable),
		},
		&cli.BoolFlag{
			Name:  "all-items",
			Usage: "List every item in the report, not only failures",
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Sync both directions, then run the enabled retention sweeps",
		Description: `Mirror new posts from Mastodon to Bluesky and from Bluesky to Mastodon,
   then delete old posts and favorites where the configuration enables it.

   This is the default command.

   Examples:
     postsync run
     postsync run --dry-run --all-items
     postsync run --skip-existing-posts`,
		Flags: slices.Concat(syncFlags(), outputFlags()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runSync(ctx, cmd, nil, true)
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Mirror new posts without running retention sweeps",
		UsageText: "postsync sync [options]",
		Description: `Mirror new posts in one or both directions.

   Directions: mastodon-to-bluesky, bluesky-to-mastodon (default: both)

   Examples:
     postsync sync
     postsync sync --direction mastodon-to-bluesky --dry-run`,
		Flags: slices.Concat([]cli.Flag{
			&cli.StringFlag{
				Name:  "direction",
				Usage: "Sync only this direction",
			},
		}, syncFlags(), outputFlags()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var dirs []model.Direction
			if d := cmd.String("direction"); d != "" {
				dir, err := model.ParseDirection(d)
				if err != nil {
					return fmt.Errorf("invalid direction: %w", err)
				}
				dirs = []model.Direction{dir}
			}
			return runSync(ctx, cmd, dirs, false)
		},
	}
}

// runSync runs the engine and prints its report. The report is printed even
// when the run fails so partial progress stays visible.
func runSync(ctx context.Context, cmd *cli.Command, dirs []model.Direction, withSweeps bool) (err error) {
	format, err := ui.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	ctx, s, err := openSession(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close(ctx))
	}()

	opts := sync.RunOptions{
		Options: sync.Options{
			DryRun:       cmd.Bool("dry-run"),
			SkipExisting: cmd.Bool("skip-existing-posts"),
			FetchLimit:   s.cfg.Sync.FetchLimit,
			StrictMedia:  s.cfg.Sync.StrictMedia,
		},
		Directions: dirs,
		Progress:   true,
	}
	if withSweeps {
		opts.Sweeps = s.sweeps()
		opts.Retention = s.cfg.RetentionThreshold()
	}

	logger := logging.FromContext(ctx)
	logger.Info("run started",
		slog.Bool("dry_run", opts.DryRun),
		slog.Bool("skip_existing", opts.SkipExisting),
		logging.Count(len(opts.Sweeps)),
	)
	done := logging.Timer("run")
	rep, runErr := s.engine().Run(ctx, opts)
	done()

	if rep != nil {
		rep.RunID = s.runID
		if werr := ui.WriteRun(cmd.Root().Writer, rep, ui.ReportOptions{Format: format, Verbose: cmd.Bool("all-items")}); werr != nil {
			return errors.Join(runErr, werr)
		}
	}
	return runErr
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Delete posts and favorites older than the retention period",
		Description: `Run retention sweeps only.

   Without --platform or --kind the sweeps enabled in the configuration run
   (delete_older_posts, delete_older_favs). Naming either one selects sweeps
   explicitly.

   Examples:
     postsync sweep --dry-run
     postsync sweep --platform bluesky --kind favorites --retention-days 30`,
		Flags: slices.Concat([]cli.Flag{
			dryRunFlag(),
			&cli.IntFlag{
				Name:  "retention-days",
				Usage: "Override sync.retention_days",
			},
			&cli.StringFlag{
				Name:  "platform",
				Usage: "Sweep only this platform (mastodon, bluesky)",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Sweep only this kind (posts, favorites)",
			},
		}, outputFlags()),
		Action: runSweep,
	}
}

func runSweep(ctx context.Context, cmd *cli.Command) (err error) {
	format, err := ui.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	targets, explicit, err := sweepTargets(cmd)
	if err != nil {
		return err
	}
	days := cmd.Int("retention-days")
	if days < 0 {
		return apperr.Config(fmt.Sprintf("retention-days must be positive, got %d", days), nil)
	}

	ctx, s, err := openSession(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close(ctx))
	}()

	if !explicit {
		targets = s.sweeps()
	}
	threshold := s.cfg.RetentionThreshold()
	if days > 0 {
		threshold = time.Duration(days) * 24 * time.Hour
	}

	sweeper := sync.NewSweeper(s.cache, sync.SweepOptions{DryRun: cmd.Bool("dry-run"), Progress: true}, s.adapters...)
	rep := &sync.RunReport{RunID: s.runID}
	now := time.Now()
	var fatal error
	for _, t := range targets {
		r, err := sweeper.Sweep(ctx, t.Platform, t.Kind, threshold, now)
		if r != nil {
			rep.Sweeps = append(rep.Sweeps, r)
		}
		if err != nil && (apperr.Fatal(err) || errors.Is(err, context.Canceled)) {
			fatal = err
			break
		}
	}

	if werr := ui.WriteRun(cmd.Root().Writer, rep, ui.ReportOptions{Format: format, Verbose: cmd.Bool("all-items")}); werr != nil {
		return werr
	}
	if fatal != nil {
		return fatal
	}
	return rep.Err()
}

// sweepTargets returns the sweeps named on the command line. explicit is
// false when neither --platform nor --kind was given.
func sweepTargets(cmd *cli.Command) ([]sync.SweepTarget, bool, error) {
	ps, kinds := model.AllPlatforms(), []sync.SweepKind{sync.SweepPosts, sync.SweepFavorites}
	explicit := false
	if v := cmd.String("platform"); v != "" {
		p, err := model.ParsePlatform(v)
		if err != nil {
			return nil, false, fmt.Errorf("invalid platform: %w", err)
		}
		ps, explicit = []model.Platform{p}, true
	}
	if v := cmd.String("kind"); v != "" {
		k, err := sync.ParseSweepKind(v)
		if err != nil {
			return nil, false, err
		}
		kinds, explicit = []sync.SweepKind{k}, true
	}
	if !explicit {
		return nil, false, nil
	}
	var out []sync.SweepTarget
	for _, p := range ps {
		for _, k := range kinds {
			out = append(out, sync.SweepTarget{Platform: p, Kind: k})
		}
	}
	return out, true, nil
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show sync cache statistics and watermarks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: table, json, yaml",
				Value:   string(ui.FormatTable),
			},
			&cli.BoolFlag{
				Name:    "interactive",
				Aliases: []string{"i"},
				Usage:   "Browse sync records in an interactive view",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) (err error) {
			format, err := ui.ParseFormat(cmd.String("format"))
			if err != nil {
				return err
			}
			ctx, s, err := openSession(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, s.Close(ctx))
			}()

			if cmd.Bool("interactive") {
				return tui.RunHistory(s.cache.Snapshot().Syncs)
			}
			return ui.WriteStatus(cmd.Root().Writer, s.cache.Stats(), format, time.Now())
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the configuration",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration with secrets masked",
				Action: func(_ context.Context, cmd *cli.Command) error {
					cfg, err := config.Load(cmd.String("config"))
					if err != nil {
						return err
					}
					data, err := cfg.Redacted().Encode()
					if err != nil {
						return err
					}
					w := cmd.Root().Writer
					fmt.Fprintf(w, "# file: %s\n", cfg.Path())
					fmt.Fprintf(w, "# state: %s\n\n", cfg.StateDir(cmd.String("state-dir")))
					_, err = w.Write(data)
					return err
				},
			},
			{
				Name:  "validate",
				Usage: "Check that the configuration is complete",
				Action: func(_ context.Context, cmd *cli.Command) error {
					cfg, err := config.Load(cmd.String("config"))
					if err != nil {
						return err
					}
					if err := cfg.Validate(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.Root().Writer, ui.StatusSuccess("configuration is valid: "+cfg.Path()))
					return nil
				},
			},
		},
	}
}
