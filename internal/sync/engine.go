// Package sync mirrors posts between Mastodon and Bluesky and retires old
// content.
//
// # Runs
//
// An Engine run reads new posts from each platform, filters out what was
// already handled, converts the rest for the other platform and publishes
// them. Every published post is recorded in the sync cache before the next
// one is attempted, so a crash loses at most the post in flight:
//
//	eng := sync.New(c, transform.New(), masto, bsky)
//	report, err := eng.Run(ctx, sync.RunOptions{Options: sync.Options{FetchLimit: 20}})
//
// Both directions are fetched before anything is published. Otherwise a post
// mirrored by one direction could be read back by the other in the same run
// before its sync record exists.
//
// # Idempotency
//
// A source post with a sync record is never published again, and a post whose
// id is the destination of a sync record is a mirror and never travels back.
// Watermarks only bound the fetch window; the sync records are the guard.
//
// # Retention
//
// The Sweeper deletes own posts and favorites older than a threshold. See
// sweep.go.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/cache"
	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/platform"
	"github.com/klauern/postsync/internal/tracing"
	"github.com/klauern/postsync/internal/transform"
)

const tracerName = "postsync/sync"

// DefaultFetchLimit bounds the posts read per direction when none is set.
const DefaultFetchLimit = 20

// Options configures one sync pass.
type Options struct {
	// DryRun transforms posts without publishing or recording anything.
	DryRun bool

	// SkipExisting records every candidate as synced without publishing it.
	// Used once to adopt accounts that already hold the same posts.
	SkipExisting bool

	// FetchLimit bounds how many recent posts are read per direction.
	FetchLimit int

	// StrictMedia skips posts with media the destination cannot take
	// instead of publishing them without it.
	StrictMedia bool
}

// SourceSettings holds the per-platform filters applied to posts read from
// that platform.
type SourceSettings struct {
	// SyncReposts mirrors reposts and boosts.
	SyncReposts bool
	// Hashtag, when set, restricts mirroring to posts carrying it.
	Hashtag string
}

// Engine runs sync passes between two adapters.
type Engine struct {
	cache       *cache.Cache
	transformer *transform.Transformer
	adapters    map[model.Platform]platform.Adapter
	sources     map[model.Platform]SourceSettings
}

// New creates an Engine. Reposts are mirrored unless WithSource says otherwise.
func New(c *cache.Cache, t *transform.Transformer, adapters ...platform.Adapter) *Engine {
	e := &Engine{
		cache:       c,
		transformer: t,
		adapters:    make(map[model.Platform]platform.Adapter, len(adapters)),
		sources:     map[model.Platform]SourceSettings{},
	}
	for _, a := range adapters {
		e.adapters[a.Platform()] = a
		e.sources[a.Platform()] = SourceSettings{SyncReposts: true}
	}
	return e
}

// WithSource sets the filters for posts read from p.
func (e *Engine) WithSource(p model.Platform, s SourceSettings) *Engine {
	e.sources[p] = s
	return e
}

// Adapter returns the adapter registered for p.
func (e *Engine) Adapter(p model.Platform) (platform.Adapter, bool) {
	a, ok := e.adapters[p]
	return a, ok
}

// batch is the fetched input of one direction.
type batch struct {
	dir    model.Direction
	src    platform.Adapter
	dst    platform.Adapter
	report *Report
	posts  []model.UnifiedPost
}

// Sync runs one direction: fetch, filter, transform, publish, record.
//
// Per-item failures are reported and do not stop the pass. An auth error, a
// failed fetch or cancellation ends the direction and is returned as well as
// stored in Report.Err. Only a failure to persist the cache is returned
// without being in the report.
func (e *Engine) Sync(ctx context.Context, dir model.Direction, opts Options) (*Report, error) {
	b, err := e.fetch(ctx, dir, opts)
	if err != nil {
		return b.report, err
	}
	if err := e.process(ctx, b, opts); err != nil {
		return b.report, err
	}
	return b.report, b.report.Err
}

func (e *Engine) fetch(ctx context.Context, dir model.Direction, opts Options) (*batch, error) {
	b := &batch{dir: dir, report: newReport(dir, opts.DryRun)}
	src, ok := e.adapters[dir.Source()]
	if !ok {
		err := apperr.Config(fmt.Sprintf("no adapter for %s", dir.Source()), nil)
		b.report.abort(err)
		return b, err
	}
	dst, ok := e.adapters[dir.Dest()]
	if !ok {
		err := apperr.Config(fmt.Sprintf("no adapter for %s", dir.Dest()), nil)
		b.report.abort(err)
		return b, err
	}
	b.src, b.dst = src, dst

	ctx, span := tracing.Start(ctx, tracerName, "Engine.fetch", attribute.String("direction", dir.String()))
	var err error
	defer func() { tracing.End(span, err) }()

	limit := opts.FetchLimit
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	since := e.cache.Watermark(dir.Source(), dir).CreatedAt
	log := logging.WithContext(ctx).With(logging.Direction(dir.String()))

	b.posts, err = src.ListPosts(ctx, since, limit)
	if apperr.IsKind(err, apperr.KindAuth) {
		log.Debug("refreshing credentials after auth failure", logging.Err(err))
		if rerr := src.Refresh(ctx); rerr == nil {
			b.posts, err = src.ListPosts(ctx, since, limit)
		}
	}
	if err != nil {
		err = fmt.Errorf("list %s posts: %w", dir.Source(), err)
		log.Error("failed to fetch posts", logging.Err(err))
		b.report.abort(err)
		return b, err
	}

	// Oldest first so the watermark can follow along.
	slices.SortFunc(b.posts, model.CompareCreated)
	log.Debug("fetched candidates", logging.Count(len(b.posts)), slog.Time("since", since))
	return b, nil
}

// process handles the fetched posts of one direction. The returned error is
// fatal for the whole run; everything else ends up in the report.
func (e *Engine) process(ctx context.Context, b *batch, opts Options) error {
	defer logging.Timer("sync " + b.dir.String())()
	ctx, span := tracing.Start(ctx, tracerName, "Engine.Sync",
		attribute.String("direction", b.dir.String()),
		attribute.Int("candidates", len(b.posts)),
		attribute.Bool("dry_run", opts.DryRun),
	)
	var fatal error
	defer func() { tracing.End(span, errors.Join(fatal, b.report.Err)) }()

	log := logging.WithContext(ctx).With(logging.Direction(b.dir.String()))
	if opts.DryRun && opts.SkipExisting {
		log.Warn("dry run requested together with skip-existing, nothing will be recorded")
		opts.SkipExisting = false
	}

	limits := b.dst.Limits()
	failedEarlier := false
	for _, post := range b.posts {
		if err := ctx.Err(); err != nil {
			b.report.abort(err)
			return nil
		}
		plog := log.With(logging.SourceID(post.ID))

		advance := func() error {
			if opts.DryRun || failedEarlier {
				return nil
			}
			_, err := e.cache.AdvanceWatermark(ctx, b.dir.Source(), b.dir, post.CreatedAt, post.ID)
			return err
		}

		if reason := e.skipReason(b.dir, post); reason != "" {
			plog.Debug("skipping post", slog.String("reason", reason))
			b.report.add(ItemResult{ID: post.ID, CreatedAt: post.CreatedAt, Action: ActionSkipped, Message: reason})
			if fatal = advance(); fatal != nil {
				return fatal
			}
			continue
		}

		if opts.SkipExisting {
			if fatal = e.commit(ctx, b.dir, post, ""); fatal != nil {
				return fatal
			}
			b.report.add(ItemResult{ID: post.ID, CreatedAt: post.CreatedAt, Action: ActionSeeded})
			if fatal = advance(); fatal != nil {
				return fatal
			}
			continue
		}

		out, note, err := e.prepare(ctx, b, post, limits, opts)
		if err != nil {
			if apperr.IsKind(err, apperr.KindUnsupportedMedia) {
				plog.Info("skipping post with unsupported media", logging.Err(err))
				b.report.add(ItemResult{ID: post.ID, CreatedAt: post.CreatedAt, Action: ActionSkipped, Message: "unsupported media", Err: err})
				if fatal = advance(); fatal != nil {
					return fatal
				}
				continue
			}
			plog.Warn("failed to prepare post", logging.Err(err))
			b.report.add(ItemResult{ID: post.ID, CreatedAt: post.CreatedAt, Action: ActionFailed, Err: err})
			failedEarlier = true
			continue
		}

		if opts.DryRun {
			plog.Info("would mirror post", slog.Int("media", len(out.Media)))
			b.report.add(ItemResult{ID: post.ID, CreatedAt: post.CreatedAt, Action: ActionPlanned, Message: note})
			continue
		}

		destID, err := b.dst.Publish(ctx, out)
		if err != nil {
			if apperr.IsKind(err, apperr.KindAuth) {
				plog.Error("destination rejected credentials, stopping direction", logging.Err(err))
				b.report.add(ItemResult{ID: post.ID, CreatedAt: post.CreatedAt, Action: ActionFailed, Err: err})
				b.report.abort(err)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				b.report.abort(ctxErr)
				return nil
			}
			plog.Warn("failed to publish post", logging.Err(err))
			b.report.add(ItemResult{ID: post.ID, CreatedAt: post.CreatedAt, Action: ActionFailed, Err: err})
			failedEarlier = true
			continue
		}

		if fatal = e.commit(ctx, b.dir, post, destID); fatal != nil {
			plog.Error("published post could not be recorded", logging.DestID(destID), logging.Err(fatal))
			return fatal
		}
		plog.Info("mirrored post", logging.DestID(destID))
		b.report.add(ItemResult{ID: post.ID, CreatedAt: post.CreatedAt, Action: ActionMirrored, DestID: destID, Message: note})
		if fatal = advance(); fatal != nil {
			return fatal
		}
	}
	return nil
}

func (e *Engine) commit(ctx context.Context, dir model.Direction, post model.UnifiedPost, destID string) error {
	_, err := e.cache.CommitSync(ctx, model.SyncRecord{
		SourcePlatform: dir.Source(),
		SourceID:       post.ID,
		DestPlatform:   dir.Dest(),
		DestID:         destID,
		SyncedAt:       time.Now().UTC(),
	})
	return err
}

// skipReason returns why post must not be mirrored, or "" when it should be.
func (e *Engine) skipReason(dir model.Direction, post model.UnifiedPost) string {
	src := dir.Source()
	settings := e.sources[src]
	switch {
	case e.cache.HasSource(src, post.ID):
		return "already synced"
	case e.cache.IsMirror(src, post.ID):
		return "mirror of a synced post"
	case post.IsReply:
		return "reply"
	case !post.IsPublic():
		return "not public"
	case src == model.Mastodon && strings.HasPrefix(strings.TrimSpace(post.Text), "@"):
		return "direct mention"
	case post.IsRepost && !settings.SyncReposts:
		return "reposts disabled"
	case settings.Hashtag != "" && !hasTag(post, settings.Hashtag):
		return "missing hashtag"
	}
	return ""
}

// hasTag matches tag case-insensitively against the post's tags and text.
func hasTag(post model.UnifiedPost, tag string) bool {
	// Casers are stateful and the directions run concurrently.
	fold := cases.Fold()
	want := fold.String(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
	for _, t := range post.Tags {
		if fold.String(strings.TrimPrefix(t, "#")) == want {
			return true
		}
	}
	return strings.Contains(fold.String(post.Text), "#"+want)
}

// prepare downloads media and converts the post for the destination. The
// note describes any media that was dropped.
func (e *Engine) prepare(ctx context.Context, b *batch, post model.UnifiedPost, limits model.Limits, opts Options) (model.UnifiedPost, string, error) {
	loaded, err := loadMedia(ctx, b.src, post, limits)
	if err != nil {
		return post, "", err
	}
	out, err := e.transformer.Transform(ctx, loaded, limits)
	if err == nil {
		return out, "", nil
	}
	if !apperr.IsKind(err, apperr.KindUnsupportedMedia) || opts.StrictMedia {
		return out, "", err
	}
	logging.WithContext(ctx).Warn("publishing without unsupported media",
		logging.Direction(b.dir.String()),
		logging.SourceID(post.ID),
		logging.Err(err),
	)
	return out, "media dropped", nil
}

// loadMedia downloads the attachments the transformer needs as bytes.
// Streams and video the destination cannot take stay as URLs.
func loadMedia(ctx context.Context, src platform.Adapter, post model.UnifiedPost, limits model.Limits) (model.UnifiedPost, error) {
	if len(post.Media) == 0 {
		return post, nil
	}
	media := slices.Clone(post.Media)
	for i := range media {
		m := &media[i]
		if limits.MaxMedia > 0 && i >= limits.MaxMedia {
			break
		}
		if m.Loaded() || !needsDownload(*m, limits) {
			continue
		}
		data, mime, err := src.FetchMedia(ctx, *m)
		if err != nil {
			return post, fmt.Errorf("download media %s: %w", m.URL, err)
		}
		m.Data = data
		if m.MIMEType == "" {
			m.MIMEType = mime
		}
		if m.Kind == model.MediaUnknown || m.Kind == "" {
			m.Kind = model.MediaKindFromMIME(m.MIMEType)
		}
	}
	post.Media = media
	return post, nil
}

func needsDownload(m model.Media, limits model.Limits) bool {
	switch m.Kind {
	case model.MediaVideo, model.MediaGIFV:
		return limits.SupportsVideo && !m.IsStream()
	default:
		return m.URL != ""
	}
}

// RunOptions configures a full run.
type RunOptions struct {
	Options

	// Directions to sync. Empty means both.
	Directions []model.Direction

	// Sweeps to run after syncing, in order.
	Sweeps []SweepTarget

	// Retention is the sweep age threshold.
	Retention time.Duration

	// Now is the reference time of sweeps. Zero means time.Now.
	Now time.Time

	// Progress shows a progress bar during sweeps on a terminal.
	Progress bool
}

// SweepTarget selects one retention sweep.
type SweepTarget struct {
	Platform model.Platform
	Kind     SweepKind
}

// Run syncs the requested directions concurrently, then runs the sweeps.
// All directions are fetched before any is published.
//
// The returned error is non-nil for fatal failures and for everything
// RunReport.Err reports.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	dirs := opts.Directions
	if len(dirs) == 0 {
		dirs = model.Directions()
	}
	out := &RunReport{}

	batches := make([]*batch, len(dirs))
	fetchGroup, fetchCtx := errgroup.WithContext(ctx)
	for i, dir := range dirs {
		fetchGroup.Go(func() error {
			b, err := e.fetch(fetchCtx, dir, opts.Options)
			batches[i] = b
			if apperr.Fatal(err) {
				return err
			}
			return nil
		})
	}
	if err := fetchGroup.Wait(); err != nil {
		return collect(out, batches), err
	}

	syncGroup, syncCtx := errgroup.WithContext(ctx)
	for _, b := range batches {
		if b.report.Err != nil {
			continue
		}
		syncGroup.Go(func() error {
			return e.process(syncCtx, b, opts.Options)
		})
	}
	err := syncGroup.Wait()
	collect(out, batches)
	if err != nil {
		return out, err
	}

	if len(opts.Sweeps) > 0 && ctx.Err() == nil {
		sweeper := NewSweeper(e.cache, SweepOptions{DryRun: opts.DryRun, Progress: opts.Progress}, e.adapterList()...)
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		for _, t := range opts.Sweeps {
			rep, err := sweeper.Sweep(ctx, t.Platform, t.Kind, opts.Retention, now)
			if rep != nil {
				out.Sweeps = append(out.Sweeps, rep)
			}
			if err != nil && (apperr.Fatal(err) || isCanceled(err)) {
				return out, err
			}
		}
	}
	return out, out.Err()
}

func collect(out *RunReport, batches []*batch) *RunReport {
	for _, b := range batches {
		if b != nil {
			out.Syncs = append(out.Syncs, b.report)
		}
	}
	return out
}

func (e *Engine) adapterList() []platform.Adapter {
	out := make([]platform.Adapter, 0, len(e.adapters))
	for _, p := range model.AllPlatforms() {
		if a, ok := e.adapters[p]; ok {
			out = append(out, a)
		}
	}
	return out
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
