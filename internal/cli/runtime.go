package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/backup"
	"github.com/klauern/postsync/internal/cache"
	"github.com/klauern/postsync/internal/config"
	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/platform"
	"github.com/klauern/postsync/internal/platform/bluesky"
	"github.com/klauern/postsync/internal/platform/mastodon"
	"github.com/klauern/postsync/internal/retry"
	"github.com/klauern/postsync/internal/sync"
	"github.com/klauern/postsync/internal/tracing"
	"github.com/klauern/postsync/internal/transform"
)

// newAdapters builds the platform adapters for a configuration.
// Tests replace it with in-memory adapters.
var newAdapters = func(cfg *config.Config, stateDir string) ([]platform.Adapter, error) {
	policy := retry.DefaultPolicy().WithRetries(cfg.Sync.MaxRetries)

	masto, err := mastodon.New(mastodon.Options{
		BaseURL:       cfg.Mastodon.BaseURL,
		ClientID:      cfg.Mastodon.ClientID,
		ClientSecret:  cfg.Mastodon.ClientSecret,
		AccessToken:   cfg.Mastodon.AccessToken,
		RefreshToken:  cfg.Mastodon.RefreshToken,
		Timeout:       cfg.Sync.Timeout.Duration,
		Retry:         policy,
		OnTokenRotate: cfg.UpdateMastodonTokens,
	})
	if err != nil {
		return nil, err
	}

	bsky, err := bluesky.New(bluesky.Options{
		BaseURL:     cfg.Bluesky.BaseURL,
		Identifier:  cfg.Bluesky.Email,
		AppPassword: cfg.Bluesky.AppPassword,
		SessionFile: filepath.Join(stateDir, bluesky.SessionFileName),
		Timeout:     cfg.Sync.Timeout.Duration,
		Retry:       policy,
	})
	if err != nil {
		return nil, err
	}

	return []platform.Adapter{masto, bsky}, nil
}

// session holds everything one command invocation opens.
type session struct {
	cfg      *config.Config
	stateDir string
	runID    string
	cache    *cache.Cache
	adapters []platform.Adapter
	shutdown func(context.Context) error
}

// openSession loads the configuration, the sync cache and, when withAdapters
// is set, the platform adapters. The returned context carries a logger
// tagged with the run id.
func openSession(ctx context.Context, cmd *cli.Command, withAdapters bool) (context.Context, *session, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, nil, err
	}
	if err := configureLogging(cmd, cfg); err != nil {
		return ctx, nil, err
	}
	if withAdapters {
		if err := cfg.Validate(); err != nil {
			return ctx, nil, err
		}
	}

	s := &session{
		cfg:      cfg,
		stateDir: cfg.StateDir(cmd.String("state-dir")),
		runID:    uuid.NewString(),
	}
	logger := logging.With(logging.RunID(s.runID))
	ctx = logging.NewContext(ctx, logger)

	if cmd.Bool("trace") {
		s.shutdown, err = tracing.Init(ctx, tracing.Config{
			ServiceVersion: Version,
			Stdout:         true,
			Writer:         cmd.Root().ErrWriter,
		})
		if err != nil {
			return ctx, nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	if err := os.MkdirAll(s.stateDir, 0o700); err != nil {
		return ctx, nil, s.closeWith(ctx, fmt.Errorf("create state dir %s: %w", s.stateDir, err))
	}

	store := newStore(cfg, s.stateDir)
	s.cache, err = cache.Open(ctx, store, cache.Options{
		PersistEachCommit: cfg.State.Persist == config.PersistPerCommit,
	})
	if err != nil {
		return ctx, nil, s.closeWith(ctx, s.restoreHint(err, store.Location()))
	}
	logger.Debug("sync cache opened",
		logging.Path(store.Location()),
		slog.String("persist", cfg.State.Persist),
	)
	if withAdapters {
		s.backupState(ctx, store.Location())
	}

	if withAdapters {
		s.adapters, err = newAdapters(cfg, s.stateDir)
		if err != nil {
			return ctx, nil, s.closeWith(ctx, err)
		}
	}
	return ctx, s, nil
}

func newStore(cfg *config.Config, stateDir string) cache.Store {
	if cfg.State.Backend == config.BackendSQLite {
		return cache.NewSQLiteStore(filepath.Join(stateDir, cache.SQLiteFileName))
	}
	return cache.NewJSONStore(filepath.Join(stateDir, cache.JSONFileName))
}

// backupState snapshots the freshly loaded cache file before the run can
// change it, then prunes old snapshots. Failures only cost the snapshot.
func (s *session) backupState(ctx context.Context, path string) {
	if s.cfg.State.Backups <= 0 {
		return
	}
	log := logging.WithContext(ctx)
	m := backup.New(s.stateDir)
	if _, err := m.Create(path, backup.Options{RunID: s.runID, Reason: "before run"}); err != nil {
		log.Warn("failed to back up sync cache", logging.Path(path), logging.Err(err))
		return
	}
	pruned, err := m.Prune(backup.CleanupOptions{MaxBackups: s.cfg.State.Backups, KeepAtLeastOne: true})
	if err != nil {
		log.Warn("failed to prune state backups", logging.Err(err))
	}
	if len(pruned) > 0 {
		log.Debug("pruned state backups", logging.Count(len(pruned)))
	}
}

// restoreHint points a corrupt-state error at the newest backup of path.
func (s *session) restoreHint(err error, path string) error {
	if !apperr.IsKind(err, apperr.KindCorruptState) {
		return err
	}
	last, ok, lerr := backup.New(s.stateDir).Latest(path)
	if lerr != nil || !ok {
		return err
	}
	return fmt.Errorf("%w (restore the last good copy with: postsync backup restore %s)", err, last.ID)
}

// engine wires the adapters, transformer and per-source settings.
func (s *session) engine() *sync.Engine {
	t := transform.New(transform.WithTranscoder(transform.NewFFmpeg(s.cfg.Sync.FFmpegPath)))
	return sync.New(s.cache, t, s.adapters...).
		WithSource(model.Mastodon, sync.SourceSettings{
			SyncReposts: s.cfg.Mastodon.SyncReblogs,
			Hashtag:     s.cfg.Mastodon.SyncHashtag,
		}).
		WithSource(model.Bluesky, sync.SourceSettings{
			SyncReposts: s.cfg.Bluesky.SyncReposts,
			Hashtag:     s.cfg.Bluesky.SyncHashtag,
		})
}

// sweeps returns the retention sweeps enabled in the configuration.
func (s *session) sweeps() []sync.SweepTarget {
	var out []sync.SweepTarget
	add := func(on bool, p model.Platform, kind sync.SweepKind) {
		if on {
			out = append(out, sync.SweepTarget{Platform: p, Kind: kind})
		}
	}
	add(s.cfg.Mastodon.DeleteOlderPosts, model.Mastodon, sync.SweepPosts)
	add(s.cfg.Mastodon.DeleteOlderFavs, model.Mastodon, sync.SweepFavorites)
	add(s.cfg.Bluesky.DeleteOlderPosts, model.Bluesky, sync.SweepPosts)
	add(s.cfg.Bluesky.DeleteOlderFavs, model.Bluesky, sync.SweepFavorites)
	return out
}

// Close saves the cache and flushes traces. It runs after cancellation
// too, so it ignores ctx's deadline.
func (s *session) Close(ctx context.Context) error {
	return s.closeWith(ctx, nil)
}

func (s *session) closeWith(ctx context.Context, err error) error {
	ctx = context.WithoutCancel(ctx)
	errs := []error{err}
	if s.cache != nil {
		errs = append(errs, s.cache.Close(ctx))
	}
	if s.shutdown != nil {
		errs = append(errs, s.shutdown(ctx))
	}
	return errors.Join(errs...)
}
