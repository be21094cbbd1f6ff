package e2e

import (
	"encoding/json"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Credentials the fakes accept. NewHarness writes them into the config.
const (
	MastodonToken   = "e2e-masto-token"
	BlueskyHandle   = "me.bsky.social"
	BlueskyPassword = "e2e-app-pass"

	blueskyDID    = "did:plc:e2eme"
	blueskyAccess = "e2e-access"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fakeStatus struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// FakeMastodon serves the Mastodon REST endpoints postsync uses for one
// account. Published statuses show up in the account's timeline.
type FakeMastodon struct {
	URL string

	mu        sync.Mutex
	statuses  []fakeStatus
	published []string
	deleted   []string
	keys      map[string]string
	seq       int
}

// NewFakeMastodon starts a fake server that is closed with the test.
func NewFakeMastodon(t *testing.T) *FakeMastodon {
	t.Helper()
	f := &FakeMastodon{keys: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/accounts/verify_credentials", f.authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "1", "username": "me", "acct": "me"})
	}))
	mux.HandleFunc("GET /api/v1/accounts/{id}/statuses", f.authed(f.timeline))
	mux.HandleFunc("POST /api/v1/statuses", f.authed(f.create))
	mux.HandleFunc("DELETE /api/v1/statuses/{id}", f.authed(f.remove))
	mux.HandleFunc("GET /api/v1/favourites", f.authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	f.URL = srv.URL
	return f
}

func (f *FakeMastodon) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+MastodonToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "The access token is invalid"})
			return
		}
		h(w, r)
	}
}

// AddStatus adds a public status to the timeline and returns its id.
func (f *FakeMastodon) AddStatus(text string, createdAt time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(text, createdAt)
}

func (f *FakeMastodon) add(text string, createdAt time.Time) string {
	f.seq++
	id := strconv.Itoa(100 + f.seq)
	f.statuses = append(f.statuses, fakeStatus{ID: id, Text: text, CreatedAt: createdAt.UTC()})
	return id
}

func (f *FakeMastodon) render(s fakeStatus) map[string]any {
	return map[string]any{
		"id":                s.ID,
		"created_at":        s.CreatedAt.Format(time.RFC3339Nano),
		"in_reply_to_id":    nil,
		"visibility":        "public",
		"url":               f.URL + "/@me/" + s.ID,
		"content":           "<p>" + html.EscapeString(s.Text) + "</p>",
		"account":           map[string]string{"id": "1", "username": "me", "acct": "me"},
		"media_attachments": []any{},
		"tags":              []any{},
	}
}

func (f *FakeMastodon) timeline(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	sorted := slices.Clone(f.statuses)
	f.mu.Unlock()
	slices.SortFunc(sorted, func(a, b fakeStatus) int { return b.CreatedAt.Compare(a.CreatedAt) })

	out := make([]map[string]any, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, f.render(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeMastodon) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	f.mu.Lock()
	key := r.Header.Get("Idempotency-Key")
	id, seen := f.keys[key]
	if !seen {
		id = f.add(body.Status, time.Now())
		f.published = append(f.published, body.Status)
		if key != "" {
			f.keys[key] = id
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (f *FakeMastodon) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	i := slices.IndexFunc(f.statuses, func(s fakeStatus) bool { return s.ID == id })
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Record not found"})
		return
	}
	f.statuses = slices.Delete(f.statuses, i, i+1)
	f.deleted = append(f.deleted, id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Published returns the text of every status created through the API.
func (f *FakeMastodon) Published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.published)
}

// Deleted returns the ids of deleted statuses.
func (f *FakeMastodon) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

type fakeRecord struct {
	RKey      string
	Text      string
	CreatedAt time.Time
}

// FakeBluesky serves the XRPC endpoints postsync uses for one account.
// Created posts show up in the author feed.
type FakeBluesky struct {
	URL string

	mu        sync.Mutex
	posts     []fakeRecord
	published []string
	deleted   []string
	logins    int
	seq       int
}

// NewFakeBluesky starts a fake PDS that is closed with the test.
func NewFakeBluesky(t *testing.T) *FakeBluesky {
	t.Helper()
	f := &FakeBluesky{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.createSession", f.login)
	mux.HandleFunc("POST /xrpc/com.atproto.server.refreshSession", func(w http.ResponseWriter, _ *http.Request) {
		f.session(w)
	})
	mux.HandleFunc("GET /xrpc/app.bsky.feed.getAuthorFeed", f.authed(f.feed))
	mux.HandleFunc("POST /xrpc/com.atproto.repo.createRecord", f.authed(f.create))
	mux.HandleFunc("GET /xrpc/com.atproto.repo.listRecords", f.authed(f.list))
	mux.HandleFunc("POST /xrpc/com.atproto.repo.deleteRecord", f.authed(f.remove))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	f.URL = srv.URL
	return f
}

func (f *FakeBluesky) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+blueskyAccess {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ExpiredToken", "message": "Token has expired"})
			return
		}
		h(w, r)
	}
}

func (f *FakeBluesky) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.logins++
	f.mu.Unlock()
	if body.Password != BlueskyPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "AuthenticationRequired", "message": "Invalid identifier or password"})
		return
	}
	f.session(w)
}

func (f *FakeBluesky) session(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{
		"accessJwt":  blueskyAccess,
		"refreshJwt": "e2e-refresh",
		"did":        blueskyDID,
		"handle":     BlueskyHandle,
	})
}

func uri(rkey string) string {
	return "at://" + blueskyDID + "/app.bsky.feed.post/" + rkey
}

// AddPost adds a post to the author feed and returns its AT URI.
func (f *FakeBluesky) AddPost(text string, createdAt time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uri(f.add(text, createdAt))
}

func (f *FakeBluesky) add(text string, createdAt time.Time) string {
	f.seq++
	rkey := "3k" + strconv.Itoa(f.seq)
	f.posts = append(f.posts, fakeRecord{RKey: rkey, Text: text, CreatedAt: createdAt.UTC()})
	return rkey
}

func (f *FakeBluesky) newestFirst() []fakeRecord {
	f.mu.Lock()
	sorted := slices.Clone(f.posts)
	f.mu.Unlock()
	slices.SortFunc(sorted, func(a, b fakeRecord) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return sorted
}

func (f *FakeBluesky) feed(w http.ResponseWriter, _ *http.Request) {
	items := []map[string]any{}
	for _, p := range f.newestFirst() {
		items = append(items, map[string]any{
			"post": map[string]any{
				"uri":    uri(p.RKey),
				"author": map[string]string{"did": blueskyDID, "handle": BlueskyHandle},
				"record": map[string]any{
					"text":      p.Text,
					"createdAt": p.CreatedAt.Format(time.RFC3339Nano),
				},
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": items})
}

func (f *FakeBluesky) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Collection string `json:"collection"`
		Record     struct {
			Text      string    `json:"text"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"record"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidRequest", "message": err.Error()})
		return
	}
	f.mu.Lock()
	rkey := f.add(body.Record.Text, body.Record.CreatedAt)
	f.published = append(f.published, body.Record.Text)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"uri": uri(rkey), "cid": "bafy" + rkey})
}

func (f *FakeBluesky) list(w http.ResponseWriter, r *http.Request) {
	records := []map[string]any{}
	if r.URL.Query().Get("collection") == "app.bsky.feed.post" {
		for _, p := range f.newestFirst() {
			records = append(records, map[string]any{
				"uri":   uri(p.RKey),
				"value": map[string]string{"createdAt": p.CreatedAt.Format(time.RFC3339Nano)},
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (f *FakeBluesky) remove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Collection string `json:"collection"`
		RKey       string `json:"rkey"`
	}
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)

	f.mu.Lock()
	defer f.mu.Unlock()
	i := slices.IndexFunc(f.posts, func(p fakeRecord) bool { return p.RKey == body.RKey })
	if i < 0 || !strings.HasSuffix(body.Collection, ".post") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "RecordNotFound", "message": "Could not locate record"})
		return
	}
	f.posts = slices.Delete(f.posts, i, i+1)
	f.deleted = append(f.deleted, uri(body.RKey))
	writeJSON(w, http.StatusOK, map[string]any{})
}

// Published returns the text of every post created through the API.
func (f *FakeBluesky) Published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.published)
}

// Deleted returns the AT URIs of deleted posts.
func (f *FakeBluesky) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

// Logins returns how many sessions were created with a password.
func (f *FakeBluesky) Logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}
