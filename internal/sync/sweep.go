package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/cache"
	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/platform"
	"github.com/klauern/postsync/internal/progress"
	"github.com/klauern/postsync/internal/tracing"
)

// SweepOptions configures a Sweeper.
type SweepOptions struct {
	// DryRun reports what would be deleted without deleting or recording.
	DryRun bool
	// Progress shows a progress bar on a terminal.
	Progress bool
}

// Sweeper deletes own posts and favorites past a retention threshold.
type Sweeper struct {
	cache    *cache.Cache
	opts     SweepOptions
	adapters map[model.Platform]platform.Adapter
}

// NewSweeper creates a Sweeper over the given adapters.
func NewSweeper(c *cache.Cache, opts SweepOptions, adapters ...platform.Adapter) *Sweeper {
	s := &Sweeper{cache: c, opts: opts, adapters: map[model.Platform]platform.Adapter{}}
	for _, a := range adapters {
		s.adapters[a.Platform()] = a
	}
	return s
}

// expired reports whether an item created at t is strictly older than
// threshold at now.
func expired(t, now time.Time, threshold time.Duration) bool {
	return now.Sub(t) > threshold
}

// Sweep deletes items of kind on p older than threshold.
//
// Deletions are independent: a failed one is reported and the sweep moves
// on. A rate limit that outlasts the retries stops the sweep. Auth errors and
// cancellation end it and are returned.
func (s *Sweeper) Sweep(ctx context.Context, p model.Platform, kind SweepKind, threshold time.Duration, now time.Time) (*SweepReport, error) {
	rep := &SweepReport{Platform: p, Kind: kind, Threshold: threshold, DryRun: s.opts.DryRun}
	a, ok := s.adapters[p]
	if !ok {
		err := apperr.Config(fmt.Sprintf("no adapter for %s", p), nil)
		rep.abort(err)
		return rep, err
	}
	if threshold <= 0 {
		err := apperr.Config("retention threshold must be positive", nil)
		rep.abort(err)
		return rep, err
	}

	defer logging.Timer("sweep " + p.String() + " " + string(kind))()
	ctx, span := tracing.Start(ctx, tracerName, "Sweeper.Sweep",
		attribute.String("platform", p.String()),
		attribute.String("kind", string(kind)),
		attribute.Bool("dry_run", s.opts.DryRun),
	)
	var err error
	defer func() { tracing.End(span, err) }()

	ctx = logging.NewContext(ctx, logging.WithContext(ctx).With(
		logging.Platform(p.String()),
		slog.String("kind", string(kind)),
	))
	logging.WithContext(ctx).Info("sweeping",
		slog.String("older_than", humanize.RelTime(now.Add(-threshold), now, "ago", "from now")))

	bar := progress.New(progress.Options{
		Description: fmt.Sprintf("Sweeping %s %s", p, kind),
		Enabled:     s.opts.Progress,
	})
	defer bar.Finish()

	switch kind {
	case SweepPosts:
		err = s.sweepPosts(ctx, a, rep, threshold, now, bar)
	case SweepFavorites:
		err = s.sweepFavorites(ctx, a, rep, threshold, now, bar)
	default:
		err = apperr.Config(fmt.Sprintf("unknown sweep kind %q", kind), nil)
	}
	if err != nil {
		rep.abort(err)
	}
	return rep, err
}

// outcome classifies a failed deletion. It returns whether the sweep must
// stop, and the error to return when it must.
func (s *Sweeper) outcome(ctx context.Context, rep *SweepReport, ir ItemResult, err error) (bool, error) {
	log := logging.WithContext(ctx).With(logging.SourceID(ir.ID))
	switch {
	case isCanceled(err):
		return true, err
	case apperr.IsKind(err, apperr.KindAuth):
		log.Error("credentials rejected, stopping sweep", logging.Err(err))
		return true, err
	case apperr.IsKind(err, apperr.KindRateLimited):
		log.Warn("rate limited, stopping sweep", logging.Err(err))
		ir.Action, ir.Err = ActionFailed, err
		rep.add(ir)
		rep.Stopped = "rate limited"
		return true, nil
	default:
		log.Warn("failed to delete", logging.Err(err))
		ir.Action, ir.Err = ActionFailed, err
		rep.add(ir)
		return false, nil
	}
}

func (s *Sweeper) sweepPosts(ctx context.Context, a platform.Adapter, rep *SweepReport, threshold time.Duration, now time.Time, bar *progress.Bar) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := a.OwnPosts(ctx, cursor)
		if err != nil {
			return fmt.Errorf("list own posts: %w", err)
		}
		for _, post := range page.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep.Scanned++
			if !expired(post.CreatedAt, now, threshold) {
				continue
			}
			ir := ItemResult{ID: post.ID, CreatedAt: post.CreatedAt}
			if s.opts.DryRun {
				ir.Action = ActionPlanned
				rep.add(ir)
				continue
			}
			err := a.DeletePost(ctx, post)
			switch {
			case err == nil:
				ir.Action = ActionDeleted
				rep.add(ir)
				bar.Add(1)
			case apperr.IsKind(err, apperr.KindNotFound):
				ir.Action, ir.Message = ActionDeleted, "already gone"
				rep.add(ir)
			default:
				if stop, err := s.outcome(ctx, rep, ir, err); stop {
					return err
				}
			}
		}
		if page.Next == "" {
			return nil
		}
		cursor = page.Next
	}
}

// sweepFavorites records the current favorites, then deletes the recorded
// ones that are old enough. Recording first means favorites that drop out
// of the listing are still swept later.
func (s *Sweeper) sweepFavorites(ctx context.Context, a platform.Adapter, rep *SweepReport, threshold time.Duration, now time.Time, bar *progress.Bar) error {
	p := a.Platform()
	var seen []model.FavoriteRecord
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := a.Favorites(ctx, cursor)
		if err != nil {
			return fmt.Errorf("list favorites: %w", err)
		}
		for _, f := range page.Items {
			rep.Scanned++
			rec := model.FavoriteRecord{Platform: p, FavoriteID: f.ID, CreatedAt: f.CreatedAt}
			if s.opts.DryRun {
				seen = append(seen, rec)
				continue
			}
			added, err := s.cache.CommitFavorite(ctx, rec)
			if err != nil {
				return err
			}
			if added {
				rep.Tracked++
			}
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}

	candidates := s.cache.Favorites(p)
	if s.opts.DryRun {
		candidates = mergeFavorites(candidates, seen)
	}
	for _, fav := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !expired(fav.CreatedAt, now, threshold) {
			continue
		}
		ir := ItemResult{ID: fav.FavoriteID, CreatedAt: fav.CreatedAt}
		if s.opts.DryRun {
			ir.Action = ActionPlanned
			rep.add(ir)
			continue
		}
		err := a.DeleteFavorite(ctx, fav.FavoriteID)
		if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
			if stop, err := s.outcome(ctx, rep, ir, err); stop {
				return err
			}
			continue
		}
		if err != nil {
			ir.Message = "already gone"
		}
		if err := s.cache.RemoveFavorite(ctx, p, fav.FavoriteID); err != nil {
			return err
		}
		ir.Action = ActionDeleted
		rep.add(ir)
		bar.Add(1)
	}
	return nil
}

// mergeFavorites adds the favorites in extra that are not in recs.
func mergeFavorites(recs, extra []model.FavoriteRecord) []model.FavoriteRecord {
	known := make(map[model.SourceKey]bool, len(recs))
	for _, r := range recs {
		known[r.Key()] = true
	}
	for _, r := range extra {
		if !known[r.Key()] {
			known[r.Key()] = true
			recs = append(recs, r)
		}
	}
	return recs
}
