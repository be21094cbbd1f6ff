// Package platform defines the capability surface postsync needs from each
// social network. The mastodon and bluesky subpackages implement it over the
// platforms' HTTP APIs; the mock subpackage implements it in memory.
package platform

import (
	"context"
	"slices"
	"time"

	"github.com/klauern/postsync/internal/model"
)

// Page is one page of a paginated listing. Next is empty on the last page.
type Page[T any] struct {
	Items []T
	Next  string
}

// Adapter is implemented per platform. Implementations must be safe for
// concurrent use and must bound every call by a timeout.
type Adapter interface {
	// Platform returns the platform the adapter talks to.
	Platform() model.Platform

	// Limits returns what a single post on the platform may contain.
	Limits() model.Limits

	// ListPosts returns up to limit of the account's own posts and reposts
	// created after since, newest first. When more than limit match and
	// since is set, the oldest limit are returned so the rest stay after the
	// watermark for the next run; see Window. Replies and non-public posts
	// are included and flagged so the caller can decide.
	ListPosts(ctx context.Context, since time.Time, limit int) ([]model.UnifiedPost, error)

	// FetchMedia downloads the bytes of an attachment and returns them with
	// their MIME type.
	FetchMedia(ctx context.Context, m model.Media) ([]byte, string, error)

	// Publish creates a post and returns its id on the platform.
	Publish(ctx context.Context, post model.UnifiedPost) (string, error)

	// OwnPosts lists the account's own posts and reposts for the retention
	// sweep. An empty cursor starts at the newest item.
	OwnPosts(ctx context.Context, cursor string) (Page[model.OwnPost], error)

	// Favorites lists the account's favorites. An empty cursor starts at the
	// newest item.
	Favorites(ctx context.Context, cursor string) (Page[model.Favorite], error)

	// DeletePost deletes a post or undoes a repost.
	DeletePost(ctx context.Context, post model.OwnPost) error

	// DeleteFavorite removes a favorite by the id returned from Favorites.
	DeleteFavorite(ctx context.Context, id string) error

	// Refresh renews the adapter's credentials, rotating tokens when the
	// platform issues new ones.
	Refresh(ctx context.Context) error
}

// Window selects what ListPosts returns out of posts, in any order. Posts at
// or before since are dropped. Past the limit, the newest posts are kept
// when since is zero and the oldest otherwise. The result is newest first.
func Window(posts []model.UnifiedPost, since time.Time, limit int) []model.UnifiedPost {
	out := slices.DeleteFunc(slices.Clone(posts), func(p model.UnifiedPost) bool {
		return !p.CreatedAt.After(since)
	})
	slices.SortFunc(out, func(x, y model.UnifiedPost) int { return model.CompareCreated(y, x) })
	if limit <= 0 || len(out) <= limit {
		return out
	}
	if since.IsZero() {
		return out[:limit]
	}
	return out[len(out)-limit:]
}
