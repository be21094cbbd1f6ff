// Package mastodon implements the platform adapter over the Mastodon REST API.
package mastodon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/platform"
	"github.com/klauern/postsync/internal/retry"
	"github.com/klauern/postsync/internal/transform"
)

const (
	pageSize = 40

	// MaxGraphemes is the default status length of a Mastodon server.
	MaxGraphemes = 500
	// LinkWeight is how many characters Mastodon counts for any link.
	LinkWeight = 23
)

// Options configures the adapter.
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string

	Timeout time.Duration
	Retry   retry.Policy
	// Transport replaces http.DefaultTransport, mainly for tests.
	Transport http.RoundTripper
	// OnTokenRotate is called after Refresh obtained new tokens.
	OnTokenRotate func(access, refresh string) error
}

// Adapter talks to one Mastodon account.
type Adapter struct {
	base    string
	oauth   *oauth2.Config
	api     *platform.Client
	media   *platform.Client
	onToken func(access, refresh string) error

	mu      sync.Mutex
	token   *oauth2.Token
	source  oauth2.TokenSource
	account *account
}

var _ platform.Adapter = (*Adapter)(nil)

// New creates an adapter. It does not contact the server.
func New(opts Options) (*Adapter, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, apperr.Config("mastodon base_url is required", nil)
	}
	if opts.AccessToken == "" && opts.RefreshToken == "" {
		return nil, apperr.Config("mastodon access_token is required", nil)
	}

	a := &Adapter{
		base: base,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/oauth/authorize",
				TokenURL: base + "/oauth/token",
			},
		},
		onToken: opts.OnTokenRotate,
	}
	a.setToken(&oauth2.Token{
		AccessToken:  opts.AccessToken,
		RefreshToken: opts.RefreshToken,
		TokenType:    "Bearer",
	})

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	a.api = platform.NewClient(model.Mastodon, platform.ClientOptions{
		Timeout:   opts.Timeout,
		Retry:     opts.Retry,
		Transport: &oauth2.Transport{Source: tokenSourceFunc(a.currentToken), Base: transport},
	})
	a.media = platform.NewClient(model.Mastodon, platform.ClientOptions{
		Timeout:   opts.Timeout,
		Retry:     opts.Retry,
		Transport: transport,
	})
	return a, nil
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

func (a *Adapter) setToken(tok *oauth2.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = tok
	a.source = oauth2.ReuseTokenSource(tok, a.oauth.TokenSource(context.Background(), tok))
}

// currentToken returns a valid token. Tokens that carry an expiry are
// refreshed by the reuse source; the rotation is reported like Refresh does.
func (a *Adapter) currentToken() (*oauth2.Token, error) {
	a.mu.Lock()
	src, prev := a.source, a.token
	a.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return nil, apperr.Auth(model.Mastodon.String(), "token refresh failed", err)
	}
	if tok.AccessToken != prev.AccessToken {
		a.mu.Lock()
		a.token = tok
		a.mu.Unlock()
		if a.onToken != nil {
			if err := a.onToken(tok.AccessToken, tok.RefreshToken); err != nil {
				logging.Warn("failed to store rotated mastodon tokens", logging.Err(err))
			}
		}
	}
	return tok, nil
}

// Platform implements platform.Adapter.
func (a *Adapter) Platform() model.Platform {
	return model.Mastodon
}

// Limits implements platform.Adapter.
func (a *Adapter) Limits() model.Limits {
	return model.Limits{
		Platform:      model.Mastodon,
		MaxGraphemes:  MaxGraphemes,
		LinkWeight:    LinkWeight,
		MaxMedia:      4,
		MaxAltText:    1500,
		MaxImageBytes: 16 << 20,
		ImageTypes:    []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		SupportsVideo: true,
		MaxVideoBytes: 99 << 20,
		VideoTypes:    []string{"video/mp4", "video/webm", "video/quicktime"},
	}
}

// Refresh implements platform.Adapter. With a refresh token the access
// token is rotated and reported through OnTokenRotate; without one the
// current token is verified.
func (a *Adapter) Refresh(ctx context.Context) error {
	a.mu.Lock()
	refresh := a.token.RefreshToken
	a.mu.Unlock()

	if refresh != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.media.HTTP())
		tok, err := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
		if err != nil {
			return apperr.Auth(model.Mastodon.String(), "token refresh failed", err)
		}
		if tok.RefreshToken == "" {
			tok.RefreshToken = refresh
		}
		a.setToken(tok)
		logging.WithContext(ctx).Info("rotated mastodon access token", logging.Platform(model.Mastodon.String()))
		if a.onToken != nil {
			if err := a.onToken(tok.AccessToken, tok.RefreshToken); err != nil {
				return fmt.Errorf("store rotated mastodon tokens: %w", err)
			}
		}
	}

	a.mu.Lock()
	a.account = nil
	a.mu.Unlock()
	_, err := a.self(ctx)
	return err
}

func (a *Adapter) self(ctx context.Context) (*account, error) {
	a.mu.Lock()
	acc := a.account
	a.mu.Unlock()
	if acc != nil {
		return acc, nil
	}

	var got account
	if _, err := a.api.DoJSON(ctx, "verify credentials",
		platform.JSONRequest(http.MethodGet, a.base+"/api/v1/accounts/verify_credentials", nil, nil), &got); err != nil {
		if apperr.IsKind(err, apperr.KindAuth) {
			return nil, apperr.Auth(model.Mastodon.String(), "access token rejected", err)
		}
		return nil, err
	}
	a.mu.Lock()
	a.account = &got
	a.mu.Unlock()
	return &got, nil
}

func (a *Adapter) statuses(ctx context.Context, maxID string) ([]status, string, error) {
	acc, err := a.self(ctx)
	if err != nil {
		return nil, "", err
	}
	q := url.Values{"limit": {strconv.Itoa(pageSize)}}
	if maxID != "" {
		q.Set("max_id", maxID)
	}
	var out []status
	hdr, err := a.api.DoJSON(ctx, "list statuses",
		platform.JSONRequest(http.MethodGet, a.base+"/api/v1/accounts/"+url.PathEscape(acc.ID)+"/statuses?"+q.Encode(), nil, nil), &out)
	if err != nil {
		return nil, "", err
	}
	return out, nextMaxID(hdr.Get("Link")), nil
}

// ListPosts implements platform.Adapter.
func (a *Adapter) ListPosts(ctx context.Context, since time.Time, limit int) ([]model.UnifiedPost, error) {
	acc, err := a.self(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = pageSize
	}
	var posts []model.UnifiedPost
	cursor := ""
	for {
		page, next, err := a.statuses(ctx, cursor)
		if err != nil {
			return nil, err
		}
		done := false
		for _, s := range page {
			if !s.CreatedAt.After(since) {
				done = true
				break
			}
			posts = append(posts, s.toUnified(acc.Acct))
		}
		// With a watermark every page back to it is read, so none of the
		// posts after it are skipped when there are more than limit.
		if since.IsZero() && len(posts) >= limit {
			done = true
		}
		if done || next == "" || len(page) == 0 {
			return platform.Window(posts, since, limit), nil
		}
		cursor = next
	}
}

// FetchMedia implements platform.Adapter.
func (a *Adapter) FetchMedia(ctx context.Context, m model.Media) ([]byte, string, error) {
	return a.media.Download(ctx, "download media", m.URL)
}

// Publish implements platform.Adapter. The request carries an idempotency
// key derived from the source post, so a retried publish does not create a
// second status.
func (a *Adapter) Publish(ctx context.Context, post model.UnifiedPost) (string, error) {
	var ids []string
	for _, m := range post.Media {
		id, err := a.upload(ctx, m)
		if err != nil {
			return "", err
		}
		ids = append(ids, id)
	}

	text := post.Text
	if post.EmbedURL != "" && !strings.Contains(text, post.EmbedURL) {
		if withLink := text + "\n\n" + post.EmbedURL; transform.Length(withLink, LinkWeight) <= MaxGraphemes {
			text = withLink
		}
	}

	body := createStatus{Status: text, MediaIDs: ids, Visibility: string(model.VisibilityPublic)}
	header := http.Header{"Idempotency-Key": {idempotencyKey(post)}}
	var created status
	if _, err := a.api.DoJSON(ctx, "create status",
		platform.JSONRequest(http.MethodPost, a.base+"/api/v1/statuses", body, header), &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("create status: response has no id")
	}
	return created.ID, nil
}

func idempotencyKey(post model.UnifiedPost) string {
	sum := sha256.Sum256([]byte(post.Platform.String() + "/" + post.ID))
	return "postsync-" + hex.EncodeToString(sum[:16])
}

// OwnPosts implements platform.Adapter.
func (a *Adapter) OwnPosts(ctx context.Context, cursor string) (platform.Page[model.OwnPost], error) {
	page, next, err := a.statuses(ctx, cursor)
	if err != nil {
		return platform.Page[model.OwnPost]{}, err
	}
	out := platform.Page[model.OwnPost]{Next: next}
	for _, s := range page {
		out.Items = append(out.Items, model.OwnPost{
			Platform:  model.Mastodon,
			ID:        s.ID,
			CreatedAt: s.CreatedAt.UTC(),
			IsRepost:  s.Reblog != nil,
		})
	}
	if len(page) == 0 {
		out.Next = ""
	}
	return out, nil
}

// Favorites implements platform.Adapter. Mastodon does not expose when a
// favourite was made, so the favourited status's time is used.
func (a *Adapter) Favorites(ctx context.Context, cursor string) (platform.Page[model.Favorite], error) {
	q := url.Values{"limit": {strconv.Itoa(pageSize)}}
	if cursor != "" {
		q.Set("max_id", cursor)
	}
	var page []status
	hdr, err := a.api.DoJSON(ctx, "list favourites",
		platform.JSONRequest(http.MethodGet, a.base+"/api/v1/favourites?"+q.Encode(), nil, nil), &page)
	if err != nil {
		return platform.Page[model.Favorite]{}, err
	}
	out := platform.Page[model.Favorite]{Next: nextMaxID(hdr.Get("Link"))}
	for _, s := range page {
		out.Items = append(out.Items, model.Favorite{Platform: model.Mastodon, ID: s.ID, CreatedAt: s.CreatedAt.UTC()})
	}
	if len(page) == 0 {
		out.Next = ""
	}
	return out, nil
}

// DeletePost implements platform.Adapter. Deleting a reblog status undoes
// the reblog.
func (a *Adapter) DeletePost(ctx context.Context, post model.OwnPost) error {
	_, err := a.api.Do(ctx, "delete status",
		platform.JSONRequest(http.MethodDelete, a.base+"/api/v1/statuses/"+url.PathEscape(post.ID), nil, nil))
	return err
}

// DeleteFavorite implements platform.Adapter.
func (a *Adapter) DeleteFavorite(ctx context.Context, id string) error {
	_, err := a.api.Do(ctx, "unfavourite",
		platform.JSONRequest(http.MethodPost, a.base+"/api/v1/statuses/"+url.PathEscape(id)+"/unfavourite", nil, nil))
	return err
}

var linkNext = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextMaxID extracts max_id from the rel="next" entry of a Link header.
func nextMaxID(link string) string {
	m := linkNext.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	u, err := url.Parse(m[1])
	if err != nil {
		return ""
	}
	return u.Query().Get("max_id")
}
