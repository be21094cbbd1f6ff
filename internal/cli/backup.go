package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/backup"
	"github.com/klauern/postsync/internal/cache"
	"github.com/klauern/postsync/internal/config"
	"github.com/klauern/postsync/internal/ui"
)

// backupTarget loads the configuration and returns the backup manager and
// the cache file it protects. It never opens the cache, so it works on a
// corrupt one.
func backupTarget(cmd *cli.Command) (*backup.Manager, string, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, "", err
	}
	dir := cfg.StateDir(cmd.String("state-dir"))
	name := cache.JSONFileName
	if cfg.State.Backend == config.BackendSQLite {
		name = cache.SQLiteFileName
	}
	return backup.New(dir), filepath.Join(dir, name), nil
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "List, take and restore snapshots of the sync cache",
		Description: `Every run and sweep snapshots the sync cache before changing it and
   keeps the newest state.backups copies. Restore one when the cache is
   damaged or a run recorded something it should not have.`,
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List snapshots, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: table, json, yaml",
						Value:   string(ui.FormatTable),
					},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					format, err := ui.ParseFormat(cmd.String("format"))
					if err != nil {
						return err
					}
					m, _, err := backupTarget(cmd)
					if err != nil {
						return err
					}
					all, err := m.List()
					if err != nil {
						return err
					}
					return ui.WriteBackups(cmd.Root().Writer, all, format, time.Now())
				},
			},
			{
				Name:  "create",
				Usage: "Snapshot the sync cache now",
				Action: func(_ context.Context, cmd *cli.Command) error {
					m, path, err := backupTarget(cmd)
					if err != nil {
						return err
					}
					meta, err := m.Create(path, backup.Options{Reason: "manual"})
					if err != nil {
						return err
					}
					w := cmd.Root().Writer
					if meta == nil {
						fmt.Fprintln(w, ui.StatusSkipped("no sync cache at "+path))
						return nil
					}
					fmt.Fprintln(w, ui.StatusSuccess("backup "+meta.ID))
					return nil
				},
			},
			{
				Name:      "restore",
				Usage:     "Replace the sync cache with a snapshot",
				ArgsUsage: "<id>",
				Action: func(_ context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" || cmd.Args().Len() > 1 {
						return apperr.Config("restore takes exactly one backup id (see: postsync backup list)", nil)
					}
					m, path, err := backupTarget(cmd)
					if err != nil {
						return err
					}
					meta, err := m.Restore(id, path)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.Root().Writer, ui.StatusSuccess(fmt.Sprintf("restored %s from %s", path, meta.ID)))
					return nil
				},
			},
		},
	}
}
