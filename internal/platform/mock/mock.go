// Package mock provides an in-memory platform.Adapter for tests.
//
// Adapters are built with chained With* calls and record every mutating
// call so tests can assert on them:
//
//	src := mock.New(model.Mastodon).WithPosts(p1, p2)
//	dst := mock.New(model.Bluesky).WithPublishError("p2", err)
package mock

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/platform"
)

// Adapter is a fake platform.
type Adapter struct {
	mu sync.Mutex

	platform  model.Platform
	limits    model.Limits
	pageSize  int
	posts     []model.UnifiedPost
	own       []model.OwnPost
	favorites []model.Favorite
	media     map[string][]byte

	listErr      error
	authErr      error
	publishErrs  map[string]error
	deleteErrs   map[string]error
	afterPublish func(n int)

	published        []model.UnifiedPost
	publishedIDs     []string
	deletedPosts     []string
	deletedFavorites []string
	refreshes        int
	seq              int
}

var _ platform.Adapter = (*Adapter)(nil)

// New returns an empty adapter for p with generous limits.
func New(p model.Platform) *Adapter {
	return &Adapter{
		platform: p,
		limits: model.Limits{
			Platform:      p,
			MaxGraphemes:  500,
			LinkWeight:    23,
			MaxMedia:      4,
			MaxAltText:    1500,
			SupportsVideo: true,
		},
		pageSize:    2,
		media:       map[string][]byte{},
		publishErrs: map[string]error{},
		deleteErrs:  map[string]error{},
	}
}

// WithLimits replaces the platform limits.
func (a *Adapter) WithLimits(l model.Limits) *Adapter {
	l.Platform = a.platform
	a.limits = l
	return a
}

// WithPosts adds posts returned by ListPosts.
func (a *Adapter) WithPosts(posts ...model.UnifiedPost) *Adapter {
	for _, p := range posts {
		p.Platform = a.platform
		a.posts = append(a.posts, p)
	}
	return a
}

// WithOwnPosts adds entries returned by OwnPosts.
func (a *Adapter) WithOwnPosts(posts ...model.OwnPost) *Adapter {
	for _, p := range posts {
		p.Platform = a.platform
		a.own = append(a.own, p)
	}
	return a
}

// WithFavorites adds entries returned by Favorites.
func (a *Adapter) WithFavorites(favs ...model.Favorite) *Adapter {
	for _, f := range favs {
		f.Platform = a.platform
		a.favorites = append(a.favorites, f)
	}
	return a
}

// WithMedia serves data for url from FetchMedia.
func (a *Adapter) WithMedia(url string, data []byte) *Adapter {
	a.media[url] = data
	return a
}

// WithPageSize sets how many items OwnPosts and Favorites return per page.
func (a *Adapter) WithPageSize(n int) *Adapter {
	a.pageSize = n
	return a
}

// WithListError makes ListPosts fail.
func (a *Adapter) WithListError(err error) *Adapter {
	a.listErr = err
	return a
}

// WithAuthError makes every call fail with an auth error.
func (a *Adapter) WithAuthError() *Adapter {
	a.authErr = apperr.Auth(a.platform.String(), "token rejected", nil)
	return a
}

// WithPublishError makes publishing the post with source id fail.
func (a *Adapter) WithPublishError(sourceID string, err error) *Adapter {
	a.publishErrs[sourceID] = err
	return a
}

// WithDeleteError makes deleting the post or favorite id fail.
func (a *Adapter) WithDeleteError(id string, err error) *Adapter {
	a.deleteErrs[id] = err
	return a
}

// OnPublish registers a hook called after every successful publish with
// the number of posts published so far.
func (a *Adapter) OnPublish(fn func(n int)) *Adapter {
	a.afterPublish = fn
	return a
}

// Platform implements platform.Adapter.
func (a *Adapter) Platform() model.Platform { return a.platform }

// Limits implements platform.Adapter.
func (a *Adapter) Limits() model.Limits { return a.limits }

// ListPosts implements platform.Adapter, returning posts newest first.
func (a *Adapter) ListPosts(_ context.Context, since time.Time, limit int) ([]model.UnifiedPost, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.authErr != nil {
		return nil, a.authErr
	}
	if a.listErr != nil {
		return nil, a.listErr
	}
	return platform.Window(a.posts, since, limit), nil
}

// FetchMedia implements platform.Adapter.
func (a *Adapter) FetchMedia(_ context.Context, m model.Media) ([]byte, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.media[m.URL]
	if !ok {
		return nil, "", apperr.FromStatus(a.platform.String(), "download media", 404, m.URL)
	}
	return data, m.MIMEType, nil
}

// Publish implements platform.Adapter. Destination ids are "<platform>-N".
func (a *Adapter) Publish(_ context.Context, post model.UnifiedPost) (string, error) {
	a.mu.Lock()
	if a.authErr != nil {
		a.mu.Unlock()
		return "", a.authErr
	}
	if err, ok := a.publishErrs[post.ID]; ok {
		a.mu.Unlock()
		return "", err
	}
	a.seq++
	id := a.platform.String() + "-" + strconv.Itoa(a.seq)
	a.published = append(a.published, post)
	a.publishedIDs = append(a.publishedIDs, id)
	n, hook := len(a.published), a.afterPublish
	a.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return id, nil
}

func page[T any](items []T, cursor string, size int) (platform.Page[T], error) {
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return platform.Page[T]{}, fmt.Errorf("bad cursor %q", cursor)
		}
		start = n
	}
	if start > len(items) {
		start = len(items)
	}
	end := min(start+max(size, 1), len(items))
	p := platform.Page[T]{Items: slices.Clone(items[start:end])}
	if end < len(items) {
		p.Next = strconv.Itoa(end)
	}
	return p, nil
}

// OwnPosts implements platform.Adapter.
func (a *Adapter) OwnPosts(_ context.Context, cursor string) (platform.Page[model.OwnPost], error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.authErr != nil {
		return platform.Page[model.OwnPost]{}, a.authErr
	}
	return page(a.own, cursor, a.pageSize)
}

// Favorites implements platform.Adapter.
func (a *Adapter) Favorites(_ context.Context, cursor string) (platform.Page[model.Favorite], error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.authErr != nil {
		return platform.Page[model.Favorite]{}, a.authErr
	}
	return page(a.favorites, cursor, a.pageSize)
}

// DeletePost implements platform.Adapter.
func (a *Adapter) DeletePost(_ context.Context, post model.OwnPost) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.deleteErrs[post.ID]; ok {
		return err
	}
	a.deletedPosts = append(a.deletedPosts, post.ID)
	return nil
}

// DeleteFavorite implements platform.Adapter.
func (a *Adapter) DeleteFavorite(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.deleteErrs[id]; ok {
		return err
	}
	a.deletedFavorites = append(a.deletedFavorites, id)
	return nil
}

// Refresh implements platform.Adapter.
func (a *Adapter) Refresh(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes++
	return a.authErr
}

// Published returns the posts received by Publish, in order.
func (a *Adapter) Published() []model.UnifiedPost {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.published)
}

// PublishedIDs returns the ids handed out by Publish, in order.
func (a *Adapter) PublishedIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.publishedIDs)
}

// DeletedPosts returns the ids passed to DeletePost.
func (a *Adapter) DeletedPosts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.deletedPosts)
}

// DeletedFavorites returns the ids passed to DeleteFavorite.
func (a *Adapter) DeletedFavorites() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.deletedFavorites)
}

// Refreshes returns how often Refresh was called.
func (a *Adapter) Refreshes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshes
}
