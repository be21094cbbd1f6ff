package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/cache"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/platform/mock"
)

const retention = 90 * 24 * time.Hour

var sweepNow = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func ago(d time.Duration) time.Time { return sweepNow.Add(-d) }

func TestExpired(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"just past threshold", ago(retention + time.Second), true},
		{"exactly at threshold", ago(retention), false},
		{"just inside threshold", ago(retention - time.Second), false},
		{"future", sweepNow.Add(time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expired(tt.at, sweepNow, retention))
		})
	}
}

func TestSweepPostsRetentionBoundary(t *testing.T) {
	a := mock.New(model.Mastodon).WithOwnPosts(
		model.OwnPost{ID: "old", CreatedAt: ago(retention + time.Second)},
		model.OwnPost{ID: "edge", CreatedAt: ago(retention)},
		model.OwnPost{ID: "young", CreatedAt: ago(retention - time.Second)},
		model.OwnPost{ID: "ancient", CreatedAt: ago(3 * retention)},
		model.OwnPost{ID: "today", CreatedAt: sweepNow},
	)
	s := NewSweeper(openCache(t, cache.NewMemoryStore(nil)), SweepOptions{}, a)

	rep, err := s.Sweep(context.Background(), model.Mastodon, SweepPosts, retention, sweepNow)
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Scanned, "all pages are read")
	assert.Equal(t, 2, rep.Deleted)
	assert.Equal(t, []string{"old", "ancient"}, a.DeletedPosts())
	assert.Empty(t, rep.Stopped)
}

func TestSweepPostsDryRun(t *testing.T) {
	a := mock.New(model.Bluesky).WithOwnPosts(
		model.OwnPost{ID: "old", CreatedAt: ago(2 * retention)},
		model.OwnPost{ID: "new", CreatedAt: ago(time.Hour)},
	)
	s := NewSweeper(openCache(t, cache.NewMemoryStore(nil)), SweepOptions{DryRun: true}, a)

	rep, err := s.Sweep(context.Background(), model.Bluesky, SweepPosts, retention, sweepNow)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Planned)
	assert.Equal(t, 0, rep.Deleted)
	assert.Empty(t, a.DeletedPosts())
}

func TestSweepPostsErrors(t *testing.T) {
	posts := []model.OwnPost{
		{ID: "p1", CreatedAt: ago(4 * retention)},
		{ID: "p2", CreatedAt: ago(3 * retention)},
		{ID: "p3", CreatedAt: ago(2 * retention)},
	}

	tests := []struct {
		name        string
		err         error
		wantDeleted []string
		wantFailed  int
		wantStopped string
		wantErrKind apperr.Kind
	}{
		{
			name:        "missing post counts as deleted",
			err:         apperr.FromStatus("mastodon", "delete", 404, "not found"),
			wantDeleted: []string{"p1", "p3"},
		},
		{
			name:        "other failure continues",
			err:         apperr.FromStatus("mastodon", "delete", 422, "nope"),
			wantDeleted: []string{"p1", "p3"},
			wantFailed:  1,
		},
		{
			name:        "rate limit stops the sweep",
			err:         apperr.FromStatus("mastodon", "delete", 429, "slow down"),
			wantDeleted: []string{"p1"},
			wantFailed:  1,
			wantStopped: "rate limited",
		},
		{
			name:        "auth failure ends the sweep",
			err:         apperr.Auth("mastodon", "token revoked", nil),
			wantDeleted: []string{"p1"},
			wantErrKind: apperr.KindAuth,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mock.New(model.Mastodon).WithOwnPosts(posts...).WithDeleteError("p2", tt.err)
			s := NewSweeper(openCache(t, cache.NewMemoryStore(nil)), SweepOptions{}, a)

			rep, err := s.Sweep(context.Background(), model.Mastodon, SweepPosts, retention, sweepNow)
			if tt.wantErrKind != "" {
				require.Error(t, err)
				assert.True(t, apperr.IsKind(err, tt.wantErrKind))
				assert.Equal(t, err, rep.Err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantDeleted, a.DeletedPosts())
			assert.Equal(t, tt.wantFailed, rep.Failed)
			assert.Equal(t, tt.wantStopped, rep.Stopped)
		})
	}
}

func TestSweepFavoritesTracksThenDeletes(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	c := openCache(t, store)
	ctx := context.Background()

	// A favorite recorded by an earlier run that no longer shows up in the
	// listing is still swept.
	_, err := c.CommitFavorite(ctx, model.FavoriteRecord{Platform: model.Bluesky, FavoriteID: "gone-from-list", CreatedAt: ago(5 * retention)})
	require.NoError(t, err)

	a := mock.New(model.Bluesky).WithFavorites(
		model.Favorite{ID: "old", CreatedAt: ago(2 * retention)},
		model.Favorite{ID: "new", CreatedAt: ago(time.Hour)},
		model.Favorite{ID: "edge", CreatedAt: ago(retention)},
	)
	s := NewSweeper(c, SweepOptions{}, a)

	rep, err := s.Sweep(ctx, model.Bluesky, SweepFavorites, retention, sweepNow)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, 3, rep.Tracked)
	assert.Equal(t, 2, rep.Deleted)
	assert.ElementsMatch(t, []string{"gone-from-list", "old"}, a.DeletedFavorites())

	left := c.Favorites(model.Bluesky)
	ids := make([]string, 0, len(left))
	for _, f := range left {
		ids = append(ids, f.FavoriteID)
	}
	assert.ElementsMatch(t, []string{"new", "edge"}, ids)
	assert.Len(t, store.Stored().Favorites, 2)
}

func TestSweepFavoritesMissingRemovesRecord(t *testing.T) {
	c := openCache(t, cache.NewMemoryStore(nil))
	a := mock.New(model.Mastodon).
		WithFavorites(model.Favorite{ID: "f1", CreatedAt: ago(2 * retention)}).
		WithDeleteError("f1", apperr.FromStatus("mastodon", "unfavourite", 404, ""))
	s := NewSweeper(c, SweepOptions{}, a)

	rep, err := s.Sweep(context.Background(), model.Mastodon, SweepFavorites, retention, sweepNow)
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, ActionDeleted, rep.Items[0].Action)
	assert.Equal(t, "already gone", rep.Items[0].Message)
	assert.Empty(t, c.Favorites(model.Mastodon))
}

func TestSweepFavoritesRateLimitKeepsRecords(t *testing.T) {
	c := openCache(t, cache.NewMemoryStore(nil))
	a := mock.New(model.Mastodon).WithFavorites(
		model.Favorite{ID: "f1", CreatedAt: ago(4 * retention)},
		model.Favorite{ID: "f2", CreatedAt: ago(3 * retention)},
		model.Favorite{ID: "f3", CreatedAt: ago(2 * retention)},
	).WithDeleteError("f2", apperr.FromStatus("mastodon", "unfavourite", 429, ""))
	s := NewSweeper(c, SweepOptions{}, a)

	rep, err := s.Sweep(context.Background(), model.Mastodon, SweepFavorites, retention, sweepNow)
	require.NoError(t, err)
	assert.Equal(t, "rate limited", rep.Stopped)
	assert.Equal(t, []string{"f1"}, a.DeletedFavorites())
	assert.Len(t, c.Favorites(model.Mastodon), 2, "undeleted favorites stay tracked for the next run")
}

func TestSweepFavoritesDryRunChangesNothing(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	c := openCache(t, store)
	a := mock.New(model.Bluesky).WithFavorites(
		model.Favorite{ID: "old", CreatedAt: ago(2 * retention)},
		model.Favorite{ID: "new", CreatedAt: ago(time.Hour)},
	)
	s := NewSweeper(c, SweepOptions{DryRun: true}, a)

	rep, err := s.Sweep(context.Background(), model.Bluesky, SweepFavorites, retention, sweepNow)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Planned)
	assert.Equal(t, 0, rep.Tracked)
	assert.Empty(t, a.DeletedFavorites())
	assert.Empty(t, c.Favorites(model.Bluesky))
	assert.Equal(t, 0, store.Saves())
}

func TestSweepRejectsBadInput(t *testing.T) {
	s := NewSweeper(openCache(t, cache.NewMemoryStore(nil)), SweepOptions{}, mock.New(model.Mastodon))
	ctx := context.Background()

	tests := []struct {
		name      string
		platform  model.Platform
		kind      SweepKind
		threshold time.Duration
	}{
		{"unknown adapter", model.Bluesky, SweepPosts, retention},
		{"zero threshold", model.Mastodon, SweepPosts, 0},
		{"unknown kind", model.Mastodon, SweepKind("boosts"), retention},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := s.Sweep(ctx, tt.platform, tt.kind, tt.threshold, sweepNow)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindConfig))
			assert.NotEmpty(t, rep.Error)
		})
	}
}

func TestSweepListFailure(t *testing.T) {
	a := mock.New(model.Bluesky).WithAuthError()
	s := NewSweeper(openCache(t, cache.NewMemoryStore(nil)), SweepOptions{}, a)

	rep, err := s.Sweep(context.Background(), model.Bluesky, SweepPosts, retention, sweepNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrAuth))
	assert.Equal(t, 0, rep.Scanned)
}
