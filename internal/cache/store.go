package cache

import (
	"context"
	"sort"

	"github.com/klauern/postsync/internal/model"
)

// SchemaVersion is written into every persisted snapshot. Readers accept
// newer versions and ignore fields they do not know.
const SchemaVersion = 1

// Snapshot is the persisted form of the cache.
type Snapshot struct {
	Version    int                    `json:"version"`
	Syncs      []model.SyncRecord     `json:"syncs"`
	Favorites  []model.FavoriteRecord `json:"favorites"`
	Watermarks []model.Watermark      `json:"watermarks"`
}

// ChangeOp names a single mutation of the cache.
type ChangeOp string

const (
	OpPutSync        ChangeOp = "put_sync"
	OpPutFavorite    ChangeOp = "put_favorite"
	OpDeleteFavorite ChangeOp = "delete_favorite"
	OpPutWatermark   ChangeOp = "put_watermark"
)

// Change is one mutation since the last save. Exactly one payload is set.
type Change struct {
	Op        ChangeOp
	Sync      *model.SyncRecord
	Favorite  *model.FavoriteRecord
	Watermark *model.Watermark
}

// Store persists cache snapshots.
//
// Load returns an empty snapshot when nothing has been stored yet and an
// apperr CorruptStateError when stored data exists but cannot be read.
// Save receives both the full snapshot and the changes since the previous
// save; whole-file stores write the snapshot, row stores apply the changes.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot, changes []Change) error
	Location() string
	Close() error
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Version:    SchemaVersion,
		Syncs:      []model.SyncRecord{},
		Favorites:  []model.FavoriteRecord{},
		Watermarks: []model.Watermark{},
	}
}

// normalize sorts a snapshot so that equal caches serialize identically.
func (s *Snapshot) normalize() {
	sort.Slice(s.Syncs, func(i, j int) bool {
		a, b := s.Syncs[i], s.Syncs[j]
		if a.SourcePlatform != b.SourcePlatform {
			return a.SourcePlatform < b.SourcePlatform
		}
		return a.SourceID < b.SourceID
	})
	sort.Slice(s.Favorites, func(i, j int) bool {
		a, b := s.Favorites[i], s.Favorites[j]
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.FavoriteID < b.FavoriteID
	})
	sort.Slice(s.Watermarks, func(i, j int) bool {
		a, b := s.Watermarks[i], s.Watermarks[j]
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.Direction < b.Direction
	})
}
