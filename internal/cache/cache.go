// Package cache holds the sync state that survives between runs: which source
// posts were mirrored, which favorites are tracked for deletion, and how far
// each direction has read.
//
// The Cache is the single owner of that state. It is loaded once, mutated
// under a mutex and persisted through a Store, either after every commit or
// on an explicit Save.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
)

// Options configures cache persistence.
type Options struct {
	// PersistEachCommit saves after every successful commit.
	PersistEachCommit bool
}

type watermarkKey struct {
	platform  model.Platform
	direction model.Direction
}

// Cache is the in-memory sync state backed by a Store.
type Cache struct {
	mu    sync.RWMutex
	store Store
	opts  Options

	syncs      map[model.SourceKey]model.SyncRecord
	dests      map[model.SourceKey]model.SourceKey
	favorites  map[model.SourceKey]model.FavoriteRecord
	watermarks map[watermarkKey]model.Watermark

	pending []Change
}

// Open loads the cache from store. A store that exists but cannot be parsed
// yields a CorruptStateError and no cache.
func Open(ctx context.Context, store Store, opts Options) (*Cache, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Version > SchemaVersion {
		logging.Warn("state written by a newer postsync, unknown fields are ignored",
			logging.Path(store.Location()),
			slog.Int("version", snap.Version),
		)
	}

	c := &Cache{
		store:      store,
		opts:       opts,
		syncs:      make(map[model.SourceKey]model.SyncRecord, len(snap.Syncs)),
		dests:      make(map[model.SourceKey]model.SourceKey, len(snap.Syncs)),
		favorites:  make(map[model.SourceKey]model.FavoriteRecord, len(snap.Favorites)),
		watermarks: make(map[watermarkKey]model.Watermark, len(snap.Watermarks)),
	}
	for _, rec := range snap.Syncs {
		if _, dup := c.syncs[rec.Key()]; dup {
			logging.Warn("duplicate sync record in state, keeping the first",
				logging.Platform(string(rec.SourcePlatform)),
				logging.SourceID(rec.SourceID),
			)
			continue
		}
		c.insertSync(rec)
	}
	for _, fav := range snap.Favorites {
		c.favorites[fav.Key()] = fav
	}
	for _, wm := range snap.Watermarks {
		c.watermarks[watermarkKey{wm.Platform, wm.Direction}] = wm
	}

	logging.Debug("sync cache loaded",
		logging.Path(store.Location()),
		slog.Int("syncs", len(c.syncs)),
		slog.Int("favorites", len(c.favorites)),
	)
	return c, nil
}

func (c *Cache) insertSync(rec model.SyncRecord) {
	c.syncs[rec.Key()] = rec
	if rec.DestID != "" {
		c.dests[model.SourceKey{Platform: rec.DestPlatform, ID: rec.DestID}] = rec.Key()
	}
}

// CommitSync records that a source post was handled. It returns false and
// changes nothing when a record for the same source already exists.
func (c *Cache) CommitSync(ctx context.Context, rec model.SyncRecord) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.syncs[rec.Key()]; ok {
		logging.WithContext(ctx).Warn("rejecting duplicate sync record",
			logging.Platform(string(rec.SourcePlatform)),
			logging.SourceID(rec.SourceID),
			logging.DestID(existing.DestID),
		)
		return false, nil
	}
	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = time.Now().UTC()
	}
	c.insertSync(rec)
	c.pending = append(c.pending, Change{Op: OpPutSync, Sync: &rec})
	return true, c.autosaveLocked(ctx)
}

// CommitFavorite starts tracking a favorite. Already tracked favorites are
// left unchanged and false is returned.
func (c *Cache) CommitFavorite(ctx context.Context, rec model.FavoriteRecord) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.favorites[rec.Key()]; ok {
		return false, nil
	}
	c.favorites[rec.Key()] = rec
	c.pending = append(c.pending, Change{Op: OpPutFavorite, Favorite: &rec})
	return true, c.autosaveLocked(ctx)
}

// RemoveFavorite stops tracking a favorite. Removing an unknown favorite is a no-op.
func (c *Cache) RemoveFavorite(ctx context.Context, platform model.Platform, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := model.SourceKey{Platform: platform, ID: id}
	rec, ok := c.favorites[key]
	if !ok {
		return nil
	}
	delete(c.favorites, key)
	c.pending = append(c.pending, Change{Op: OpDeleteFavorite, Favorite: &rec})
	return c.autosaveLocked(ctx)
}

// AdvanceWatermark moves the watermark for platform and direction forward to
// at. Older or equal instants are ignored; the return value reports whether
// the watermark moved.
func (c *Cache) AdvanceWatermark(ctx context.Context, platform model.Platform, dir model.Direction, at time.Time, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := watermarkKey{platform, dir}
	if cur, ok := c.watermarks[key]; ok && !at.After(cur.CreatedAt) {
		return false, nil
	}
	wm := model.Watermark{Platform: platform, Direction: dir, CreatedAt: at.UTC(), ID: id}
	c.watermarks[key] = wm
	c.pending = append(c.pending, Change{Op: OpPutWatermark, Watermark: &wm})
	return true, c.autosaveLocked(ctx)
}

func (c *Cache) autosaveLocked(ctx context.Context) error {
	if !c.opts.PersistEachCommit {
		return nil
	}
	return c.saveLocked(ctx)
}

// Save persists pending changes. It is a no-op when nothing changed.
func (c *Cache) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(ctx)
}

func (c *Cache) saveLocked(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}
	if err := c.store.Save(ctx, c.snapshotLocked(), c.pending); err != nil {
		return fmt.Errorf("save sync cache to %s: %w", c.store.Location(), err)
	}
	c.pending = nil
	return nil
}

// Dirty reports whether there are unsaved changes.
func (c *Cache) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending) > 0
}

// Close saves pending changes and releases the store.
func (c *Cache) Close(ctx context.Context) error {
	saveErr := c.Save(ctx)
	closeErr := c.store.Close()
	if saveErr != nil {
		return saveErr
	}
	return closeErr
}

// Lookup returns the sync record for a source post.
func (c *Cache) Lookup(platform model.Platform, id string) (model.SyncRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.syncs[model.SourceKey{Platform: platform, ID: id}]
	return rec, ok
}

// HasSource reports whether a source post already has a sync record.
func (c *Cache) HasSource(platform model.Platform, id string) bool {
	_, ok := c.Lookup(platform, id)
	return ok
}

// IsMirror reports whether the post is itself a mirror created by postsync,
// that is, whether id appears as the destination of some sync record.
func (c *Cache) IsMirror(platform model.Platform, id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.dests[model.SourceKey{Platform: platform, ID: id}]
	return ok
}

// Watermark returns the watermark for platform and direction; the zero value
// means nothing was processed yet.
func (c *Cache) Watermark(platform model.Platform, dir model.Direction) model.Watermark {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if wm, ok := c.watermarks[watermarkKey{platform, dir}]; ok {
		return wm
	}
	return model.Watermark{Platform: platform, Direction: dir}
}

// Favorites returns the tracked favorites of a platform, oldest first.
func (c *Cache) Favorites(platform model.Platform) []model.FavoriteRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.FavoriteRecord
	for _, f := range c.favorites {
		if f.Platform == platform {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].FavoriteID < out[j].FavoriteID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Snapshot returns a sorted copy of the cache contents.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Cache) snapshotLocked() *Snapshot {
	snap := emptySnapshot()
	for _, rec := range c.syncs {
		snap.Syncs = append(snap.Syncs, rec)
	}
	for _, f := range c.favorites {
		snap.Favorites = append(snap.Favorites, f)
	}
	for _, wm := range c.watermarks {
		snap.Watermarks = append(snap.Watermarks, wm)
	}
	snap.normalize()
	return snap
}

// Stats summarizes the cache for status output.
type Stats struct {
	Location   string                 `json:"location" yaml:"location"`
	Synced     map[model.Platform]int `json:"synced" yaml:"synced"`
	Published  int                    `json:"published" yaml:"published"`
	Seeded     int                    `json:"seeded" yaml:"seeded"`
	Favorites  map[model.Platform]int `json:"favorites" yaml:"favorites"`
	Watermarks []model.Watermark      `json:"watermarks" yaml:"watermarks"`
}

// Stats returns counts per platform and the current watermarks.
func (c *Cache) Stats() Stats {
	snap := c.Snapshot()
	st := Stats{
		Location:   c.store.Location(),
		Synced:     map[model.Platform]int{},
		Favorites:  map[model.Platform]int{},
		Watermarks: snap.Watermarks,
	}
	for _, rec := range snap.Syncs {
		st.Synced[rec.SourcePlatform]++
		if rec.Published() {
			st.Published++
		} else {
			st.Seeded++
		}
	}
	for _, f := range snap.Favorites {
		st.Favorites[f.Platform]++
	}
	return st
}
