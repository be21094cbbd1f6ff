package model

import "time"

// SourceKey identifies a post on its origin platform.
type SourceKey struct {
	Platform Platform
	ID       string
}

// SyncRecord records that a source post has been handled. An empty DestID
// means it was marked synced without publishing.
type SyncRecord struct {
	SourcePlatform Platform  `json:"source_platform"`
	SourceID       string    `json:"source_id"`
	DestPlatform   Platform  `json:"dest_platform"`
	DestID         string    `json:"dest_id,omitempty"`
	SyncedAt       time.Time `json:"synced_at"`
}

// Key returns the (source platform, source id) key of the record.
func (r SyncRecord) Key() SourceKey {
	return SourceKey{Platform: r.SourcePlatform, ID: r.SourceID}
}

// Published reports whether the record points at a mirrored post.
func (r SyncRecord) Published() bool {
	return r.DestID != ""
}

// FavoriteRecord tracks a favorite for the retention sweeper.
type FavoriteRecord struct {
	Platform   Platform  `json:"platform"`
	FavoriteID string    `json:"favorite_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Key returns the cache key for the favorite.
func (r FavoriteRecord) Key() SourceKey {
	return SourceKey{Platform: r.Platform, ID: r.FavoriteID}
}

// Watermark is the newest item processed for one platform and direction.
type Watermark struct {
	Platform  Platform  `json:"platform"`
	Direction Direction `json:"direction"`
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id,omitempty"`
}

// IsZero reports whether nothing has been processed yet.
func (w Watermark) IsZero() bool {
	return w.CreatedAt.IsZero()
}
