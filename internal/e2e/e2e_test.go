package e2e

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauern/postsync/internal/cli"
)

type report struct {
	Syncs []struct {
		Direction string `json:"direction"`
		Mirrored  int    `json:"mirrored"`
		Planned   int    `json:"planned"`
		Skipped   int    `json:"skipped"`
		Error     string `json:"error"`
	} `json:"syncs"`
	Sweeps []struct {
		Platform string `json:"platform"`
		Kind     string `json:"kind"`
		Deleted  int    `json:"deleted"`
	} `json:"sweeps"`
}

func decode(t *testing.T, r *Result) report {
	t.Helper()
	var rep report
	if err := json.Unmarshal([]byte(r.Stdout), &rep); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, r.Stdout)
	}
	return rep
}

func (r report) mirrored(direction string) int {
	total := 0
	for _, s := range r.Syncs {
		if s.Direction == direction {
			total += s.Mirrored + s.Planned
		}
	}
	return total
}

func TestRoundTrip(t *testing.T) {
	masto := NewFakeMastodon(t)
	bsky := NewFakeBluesky(t)
	now := time.Now()
	masto.AddStatus("first toot", now.Add(-2*time.Hour))
	masto.AddStatus("second toot", now.Add(-time.Hour))
	bsky.AddPost("skeet from bluesky", now.Add(-30*time.Minute))

	h := NewHarness(t, masto.URL, bsky.URL, "")

	r := h.Run("run", "--format", "json")
	AssertSuccess(t, r)
	rep := decode(t, r)
	AssertCount(t, "mastodon to bluesky", rep.mirrored("mastodon-to-bluesky"), 2)
	AssertCount(t, "bluesky to mastodon", rep.mirrored("bluesky-to-mastodon"), 1)

	AssertPublished(t, "bluesky", bsky.Published(), "first toot", "second toot")
	AssertPublished(t, "mastodon", masto.Published(), "skeet from bluesky")
	AssertFileExists(t, filepath.Join(h.Dir(), "sync_cache.json"))

	t.Run("second run echoes nothing", func(t *testing.T) {
		r := h.Run("run", "--format", "json")
		AssertSuccess(t, r)
		rep := decode(t, r)
		AssertCount(t, "mastodon to bluesky", rep.mirrored("mastodon-to-bluesky"), 0)
		AssertCount(t, "bluesky to mastodon", rep.mirrored("bluesky-to-mastodon"), 0)
		AssertCount(t, "bluesky posts", len(bsky.Published()), 2)
		AssertCount(t, "mastodon statuses", len(masto.Published()), 1)
	})

	t.Run("new post after the watermark", func(t *testing.T) {
		masto.AddStatus("third toot", time.Now())
		AssertSuccess(t, h.Run("run"))
		AssertPublished(t, "bluesky", bsky.Published(), "first toot", "second toot", "third toot")
		AssertPublished(t, "mastodon", masto.Published(), "skeet from bluesky")
	})
}

func TestDryRunPublishesNothing(t *testing.T) {
	masto := NewFakeMastodon(t)
	bsky := NewFakeBluesky(t)
	masto.AddStatus("not yet", time.Now().Add(-time.Minute))

	h := NewHarness(t, masto.URL, bsky.URL, "")
	r := h.Run("run", "--dry-run", "--format", "json")
	AssertSuccess(t, r)
	AssertCount(t, "planned", decode(t, r).mirrored("mastodon-to-bluesky"), 1)
	AssertCount(t, "bluesky posts", len(bsky.Published()), 0)

	// Nothing was recorded, so a real run still mirrors the status.
	AssertSuccess(t, h.Run("run"))
	AssertCount(t, "bluesky posts", len(bsky.Published()), 1)
}

func TestSkipExistingSeedsHistory(t *testing.T) {
	masto := NewFakeMastodon(t)
	bsky := NewFakeBluesky(t)
	masto.AddStatus("old toot", time.Now().Add(-time.Hour))
	bsky.AddPost("old skeet", time.Now().Add(-time.Hour))

	h := NewHarness(t, masto.URL, bsky.URL, "")
	AssertSuccess(t, h.Run("run", "--skip-existing-posts"))
	AssertSuccess(t, h.Run("run"))

	AssertCount(t, "bluesky posts", len(bsky.Published()), 0)
	AssertCount(t, "mastodon statuses", len(masto.Published()), 0)
}

func TestBlueskySessionIsCached(t *testing.T) {
	masto := NewFakeMastodon(t)
	bsky := NewFakeBluesky(t)
	h := NewHarness(t, masto.URL, bsky.URL, "")

	AssertSuccess(t, h.Run("run"))
	AssertSuccess(t, h.Run("run"))

	AssertCount(t, "logins", bsky.Logins(), 1)
	AssertFileExists(t, filepath.Join(h.Dir(), "bluesky-auth-cache.json"))
}

func TestBadBlueskyPassword(t *testing.T) {
	masto := NewFakeMastodon(t)
	bsky := NewFakeBluesky(t)
	masto.AddStatus("never mirrored", time.Now().Add(-time.Minute))

	h := NewHarness(t, masto.URL, bsky.URL, "")
	cfg := strings.Replace(readFile(t, h.ConfigPath()), BlueskyPassword, "wrong-password", 1)
	writeFile(t, h.ConfigPath(), cfg)

	r := h.Run("run")
	AssertExitCode(t, r, cli.ExitAuth)
	AssertCount(t, "bluesky posts", len(bsky.Published()), 0)
	AssertFileNotExists(t, filepath.Join(h.Dir(), "bluesky-auth-cache.json"))
}

func TestSweepDeletesOldStatuses(t *testing.T) {
	masto := NewFakeMastodon(t)
	bsky := NewFakeBluesky(t)
	now := time.Now()
	old := masto.AddStatus("ancient toot", now.Add(-45*24*time.Hour))
	masto.AddStatus("fresh toot", now.Add(-time.Hour))
	oldPost := bsky.AddPost("ancient skeet", now.Add(-60*24*time.Hour))

	h := NewHarness(t, masto.URL, bsky.URL, "")

	t.Run("dry run", func(t *testing.T) {
		AssertSuccess(t, h.Run("sweep", "--platform", "mastodon", "--kind", "posts", "--retention-days", "30", "--dry-run"))
		AssertCount(t, "deleted", len(masto.Deleted()), 0)
	})

	t.Run("mastodon posts", func(t *testing.T) {
		r := h.Run("sweep", "--platform", "mastodon", "--kind", "posts", "--retention-days", "30", "--format", "json")
		AssertSuccess(t, r)
		rep := decode(t, r)
		if len(rep.Sweeps) != 1 || rep.Sweeps[0].Deleted != 1 {
			t.Fatalf("sweeps = %+v", rep.Sweeps)
		}
		if got := masto.Deleted(); len(got) != 1 || got[0] != old {
			t.Errorf("deleted %q, want [%s]", got, old)
		}
		AssertCount(t, "bluesky deletions", len(bsky.Deleted()), 0)
	})

	t.Run("bluesky posts", func(t *testing.T) {
		AssertSuccess(t, h.Run("sweep", "--platform", "bluesky", "--kind", "posts", "--retention-days", "30"))
		if got := bsky.Deleted(); len(got) != 1 || got[0] != oldPost {
			t.Errorf("deleted %q, want [%s]", got, oldPost)
		}
	})
}

func TestStatusAfterRun(t *testing.T) {
	masto := NewFakeMastodon(t)
	bsky := NewFakeBluesky(t)
	masto.AddStatus("counted", time.Now().Add(-time.Minute))

	h := NewHarness(t, masto.URL, bsky.URL, "")
	AssertSuccess(t, h.Run("run"))

	r := h.Run("status")
	AssertSuccess(t, r)
	AssertOutputContains(t, r, "Sync cache")
	AssertOutputContains(t, r, "1 mirrored")
}

func TestSQLiteStateBackend(t *testing.T) {
	masto := NewFakeMastodon(t)
	bsky := NewFakeBluesky(t)
	masto.AddStatus("stored in sqlite", time.Now().Add(-time.Minute))

	h := NewHarness(t, masto.URL, bsky.URL, "\n[state]\nbackend = \"sqlite\"\n")
	AssertSuccess(t, h.Run("run"))
	AssertSuccess(t, h.Run("run"))

	AssertCount(t, "bluesky posts", len(bsky.Published()), 1)
	AssertFileExists(t, filepath.Join(h.Dir(), "sync_cache.db"))
	AssertFileNotExists(t, filepath.Join(h.Dir(), "sync_cache.json"))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
