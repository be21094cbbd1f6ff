// Package bluesky implements the platform adapter over the AT Protocol XRPC
// API of a Bluesky PDS.
package bluesky

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/platform"
	"github.com/klauern/postsync/internal/retry"
	"github.com/klauern/postsync/internal/transform"
)

const (
	// DefaultPDS is used when no base URL is configured.
	DefaultPDS = "https://bsky.social"
	// MaxGraphemes is the post length limit of Bluesky.
	MaxGraphemes = 300
	// MaxImageBytes is the blob size limit for images.
	MaxImageBytes = 1_000_000

	pageSize = 100
)

// Options configures the adapter.
type Options struct {
	BaseURL string
	// Identifier is the handle or email used to log in.
	Identifier  string
	AppPassword string
	// SessionFile caches the session between runs. Empty disables caching.
	SessionFile string

	Timeout   time.Duration
	Retry     retry.Policy
	Transport http.RoundTripper
}

// Adapter talks to one Bluesky account.
type Adapter struct {
	base        string
	identifier  string
	password    string
	sessionFile string
	api         *platform.Client
	media       *platform.Client

	mu   sync.Mutex
	sess session
}

var _ platform.Adapter = (*Adapter)(nil)

// New creates an adapter. It does not contact the server.
func New(opts Options) (*Adapter, error) {
	if opts.Identifier == "" || opts.AppPassword == "" {
		return nil, apperr.Config("bluesky email and app_password are required", nil)
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultPDS
	}
	clientOpts := platform.ClientOptions{Timeout: opts.Timeout, Retry: opts.Retry, Transport: opts.Transport}
	return &Adapter{
		base:        base,
		identifier:  opts.Identifier,
		password:    opts.AppPassword,
		sessionFile: opts.SessionFile,
		api:         platform.NewClient(model.Bluesky, clientOpts),
		media:       platform.NewClient(model.Bluesky, clientOpts),
	}, nil
}

func (a *Adapter) xrpc(method string) string {
	return a.base + "/xrpc/" + method
}

// Platform implements platform.Adapter.
func (a *Adapter) Platform() model.Platform {
	return model.Bluesky
}

// Limits implements platform.Adapter. Links count as 23 graphemes because
// longer ones are shortened for display when the post is built.
func (a *Adapter) Limits() model.Limits {
	return model.Limits{
		Platform:          model.Bluesky,
		MaxGraphemes:      MaxGraphemes,
		LinkWeight:        23,
		MaxMedia:          4,
		MaxAltText:        2000,
		MaxImageBytes:     MaxImageBytes,
		MaxImageDimension: 2000,
		ImageTypes:        []string{"image/jpeg", "image/png", "image/webp"},
	}
}

// Refresh implements platform.Adapter.
func (a *Adapter) Refresh(ctx context.Context) error {
	if _, err := a.current(ctx); err != nil {
		return err
	}
	_, err := a.renew(ctx)
	return err
}

func (a *Adapter) get(method string, q url.Values) func(s session) platform.RequestFunc {
	return func(s session) platform.RequestFunc {
		return platform.JSONRequest(http.MethodGet, a.xrpc(method)+"?"+q.Encode(), nil, bearer(s))
	}
}

func (a *Adapter) post(method string, body func(s session) any) func(s session) platform.RequestFunc {
	return func(s session) platform.RequestFunc {
		return platform.JSONRequest(http.MethodPost, a.xrpc(method), body(s), bearer(s))
	}
}

// ListPosts implements platform.Adapter.
func (a *Adapter) ListPosts(ctx context.Context, since time.Time, limit int) ([]model.UnifiedPost, error) {
	s, err := a.current(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = pageSize
	}

	var posts []model.UnifiedPost
	cursor := ""
	for {
		n := pageSize
		if since.IsZero() {
			n = min(limit, pageSize)
		}
		q := url.Values{"actor": {s.DID}, "limit": {strconv.Itoa(n)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var feed authorFeed
		if err := a.call(ctx, "get author feed", a.get("app.bsky.feed.getAuthorFeed", q), &feed); err != nil {
			return nil, err
		}

		older := false
		for _, item := range feed.Feed {
			post := item.toUnified(s.Handle)
			if !post.CreatedAt.After(since) {
				older = true
				continue
			}
			posts = append(posts, post)
		}
		if since.IsZero() && len(posts) >= limit {
			older = true
		}
		if older || feed.Cursor == "" || len(feed.Feed) == 0 {
			return platform.Window(posts, since, limit), nil
		}
		cursor = feed.Cursor
	}
}

// FetchMedia implements platform.Adapter.
func (a *Adapter) FetchMedia(ctx context.Context, m model.Media) ([]byte, string, error) {
	return a.media.Download(ctx, "download media", m.URL)
}

type blobResponse struct {
	Blob json.RawMessage `json:"blob"`
}

func (a *Adapter) uploadBlob(ctx context.Context, data []byte, mime string) (json.RawMessage, error) {
	var resp blobResponse
	build := func(s session) platform.RequestFunc {
		return func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.xrpc("com.atproto.repo.uploadBlob"), bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", mime)
			req.Header.Set("Authorization", "Bearer "+s.AccessJwt)
			return req, nil
		}
	}
	if err := a.call(ctx, "upload blob", build, &resp); err != nil {
		return nil, err
	}
	if len(resp.Blob) == 0 {
		return nil, errors.New("upload blob: response has no blob")
	}
	return resp.Blob, nil
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

const tidAlphabet = "234567abcdefghijklmnopqrstuvwxyz"

// recordKey derives a TID-shaped record key from the source post. Every
// publish of the same source post targets the same record, so a retry after
// a lost response cannot create a second post.
func recordKey(post model.UnifiedPost) string {
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte(post.Platform.String()+":"+post.ID))
	sum := binary.BigEndian.Uint64(name[8:])
	micros := sum >> 11
	if us := post.CreatedAt.UnixMicro(); us > 0 {
		micros = uint64(us)
	}
	v := (micros&(1<<53-1))<<10 | sum&0x3ff

	var b [13]byte
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = tidAlphabet[v&31]
		v >>= 5
	}
	return string(b[:])
}

type getRecordResponse struct {
	URI string `json:"uri"`
}

// stored returns the URI of the post record with rkey, if the repo has one.
func (a *Adapter) stored(ctx context.Context, rkey string) (string, bool) {
	var resp getRecordResponse
	err := a.call(ctx, "get post", func(s session) platform.RequestFunc {
		q := url.Values{"repo": {s.DID}, "collection": {collectionPost}, "rkey": {rkey}}
		return a.get("com.atproto.repo.getRecord", q)(s)
	}, &resp)
	if err != nil || resp.URI == "" {
		return "", false
	}
	return resp.URI, true
}

// Publish implements platform.Adapter. The record key is derived from the
// source post; when creating the record fails, an existing record under
// that key counts as published.
func (a *Adapter) Publish(ctx context.Context, post model.UnifiedPost) (string, error) {
	rt := transform.BuildRichText(post.Text, MaxGraphemes)
	record := map[string]any{
		"$type":     collectionPost,
		"text":      rt.Text,
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if facets := lexiconFacets(rt.Facets); len(facets) > 0 {
		record["facets"] = facets
	}

	embed, err := a.embed(ctx, post, rt)
	if err != nil {
		return "", err
	}
	if embed != nil {
		record["embed"] = embed
	}

	rkey := recordKey(post)
	var resp createRecordResponse
	err = a.call(ctx, "create post", a.post("com.atproto.repo.createRecord", func(s session) any {
		return map[string]any{"repo": s.DID, "collection": collectionPost, "rkey": rkey, "record": record}
	}), &resp)
	if err != nil {
		if uri, ok := a.stored(ctx, rkey); ok {
			logging.WithContext(ctx).Info("post was stored by an earlier attempt",
				logging.DestID(uri), logging.Err(err))
			return uri, nil
		}
		return "", err
	}
	if resp.URI == "" {
		return "", errors.New("create post: response has no uri")
	}
	return resp.URI, nil
}

func (a *Adapter) embed(ctx context.Context, post model.UnifiedPost, rt transform.RichText) (map[string]any, error) {
	var images []map[string]any
	for _, m := range post.Media {
		if m.Kind != model.MediaImage {
			continue
		}
		blob, err := a.uploadBlob(ctx, m.Data, m.MIMEType)
		if err != nil {
			return nil, err
		}
		images = append(images, map[string]any{"alt": m.AltText, "image": blob})
	}
	if len(images) > 0 {
		return map[string]any{"$type": typeImages, "images": images}, nil
	}

	link := post.EmbedURL
	if link == "" {
		for _, f := range rt.Facets {
			if f.Link != "" {
				link = f.Link
				break
			}
		}
	}
	if link == "" {
		return nil, nil
	}
	card, err := a.linkCard(ctx, link)
	if err != nil {
		logging.WithContext(ctx).Debug("posting without link card",
			logging.SourceID(post.ID), slog.String("url", link), logging.Err(err))
		return nil, nil
	}
	return map[string]any{"$type": typeExternal, "external": card}, nil
}

func lexiconFacets(facets []transform.Facet) []facet {
	out := make([]facet, 0, len(facets))
	for _, f := range facets {
		feat := facetFeature{Type: typeFacetLink, URI: f.Link}
		if f.Tag != "" {
			feat = facetFeature{Type: typeFacetTag, Tag: f.Tag}
		}
		out = append(out, facet{
			Index:    byteSlice{ByteStart: f.ByteStart, ByteEnd: f.ByteEnd},
			Features: []facetFeature{feat},
		})
	}
	return out
}

func (a *Adapter) listRecords(ctx context.Context, collection, cursor string) (recordList, error) {
	s, err := a.current(ctx)
	if err != nil {
		return recordList{}, err
	}
	q := url.Values{"repo": {s.DID}, "collection": {collection}, "limit": {strconv.Itoa(pageSize)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var out recordList
	err = a.call(ctx, "list "+collection, a.get("com.atproto.repo.listRecords", q), &out)
	if len(out.Records) == 0 {
		out.Cursor = ""
	}
	return out, err
}

// OwnPosts implements platform.Adapter. Posts are listed first, then
// reposts; the cursor records which collection is being paged.
func (a *Adapter) OwnPosts(ctx context.Context, cursor string) (platform.Page[model.OwnPost], error) {
	collection, inner := collectionPost, cursor
	if c, ok := strings.CutPrefix(cursor, "repost:"); ok {
		collection, inner = collectionRepost, c
	} else {
		inner = strings.TrimPrefix(cursor, "post:")
	}

	list, err := a.listRecords(ctx, collection, inner)
	if err != nil {
		return platform.Page[model.OwnPost]{}, err
	}
	var page platform.Page[model.OwnPost]
	for _, r := range list.Records {
		page.Items = append(page.Items, model.OwnPost{
			Platform:  model.Bluesky,
			ID:        r.URI,
			CreatedAt: r.Value.CreatedAt.UTC(),
			IsRepost:  collection == collectionRepost,
		})
	}
	switch {
	case list.Cursor != "" && collection == collectionPost:
		page.Next = "post:" + list.Cursor
	case list.Cursor != "":
		page.Next = "repost:" + list.Cursor
	case collection == collectionPost:
		page.Next = "repost:"
	}
	return page, nil
}

// Favorites implements platform.Adapter. Favorite ids are like record URIs.
func (a *Adapter) Favorites(ctx context.Context, cursor string) (platform.Page[model.Favorite], error) {
	list, err := a.listRecords(ctx, collectionLike, cursor)
	if err != nil {
		return platform.Page[model.Favorite]{}, err
	}
	page := platform.Page[model.Favorite]{Next: list.Cursor}
	for _, r := range list.Records {
		page.Items = append(page.Items, model.Favorite{
			Platform:  model.Bluesky,
			ID:        r.URI,
			CreatedAt: r.Value.CreatedAt.UTC(),
		})
	}
	return page, nil
}

func (a *Adapter) deleteRecord(ctx context.Context, uri string) error {
	ref, err := parseATURI(uri)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return a.call(ctx, "delete record", a.post("com.atproto.repo.deleteRecord", func(s session) any {
		return map[string]string{"repo": s.DID, "collection": ref.Collection, "rkey": ref.RKey}
	}), nil)
}

// DeletePost implements platform.Adapter.
func (a *Adapter) DeletePost(ctx context.Context, post model.OwnPost) error {
	return a.deleteRecord(ctx, post.ID)
}

// DeleteFavorite implements platform.Adapter.
func (a *Adapter) DeleteFavorite(ctx context.Context, id string) error {
	return a.deleteRecord(ctx, id)
}
