package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/export"
	"github.com/klauern/postsync/internal/model"
)

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the sync history",
		Description: `Write the recorded sync history as JSON, YAML or a Markdown table.

   Examples:
     postsync export --format markdown --since 168h
     postsync export --platform bluesky --published-only -o history.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: json, yaml, markdown",
				Value:   string(export.FormatJSON),
			},
			&cli.StringFlag{
				Name:  "platform",
				Usage: "Only records whose source is this platform (mastodon, bluesky)",
			},
			&cli.DurationFlag{
				Name:  "since",
				Usage: "Only records synced within this duration",
			},
			&cli.BoolFlag{
				Name:  "published-only",
				Usage: "Leave out posts marked synced without publishing",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write to this file instead of stdout",
			},
		},
		Action: runExport,
	}
}

func runExport(ctx context.Context, cmd *cli.Command) (err error) {
	format, err := export.ParseFormat(cmd.String("format"))
	if err != nil {
		return apperr.Config(err.Error(), nil)
	}
	opts := export.Options{
		Format:        format,
		Pretty:        true,
		IncludeSeeded: !cmd.Bool("published-only"),
	}
	if p := cmd.String("platform"); p != "" {
		if opts.Platform, err = model.ParsePlatform(p); err != nil {
			return apperr.Config(err.Error(), nil)
		}
	}
	if d := cmd.Duration("since"); d > 0 {
		opts.Since = time.Now().Add(-d)
	}

	ctx, s, err := openSession(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close(ctx))
	}()

	var w io.Writer = cmd.Root().Writer
	if path := cmd.String("output"); path != "" {
		// #nosec G304 - path is chosen by the user on the command line
		f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if ferr != nil {
			return ferr
		}
		defer func() {
			err = errors.Join(err, f.Close())
		}()
		w = f
	}
	return export.New(opts).Export(s.cache.Snapshot().Syncs, w)
}
