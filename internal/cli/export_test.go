package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauern/postsync/internal/model"
	"github.com/klauern/postsync/internal/platform/mock"
)

func TestExportCommand(t *testing.T) {
	cfgPath := writeConfig(t, false)
	masto := mock.New(model.Mastodon).WithPosts(recentPost("m1", 2*time.Hour))
	bsky := mock.New(model.Bluesky).WithPosts(recentPost("b1", time.Hour))
	useAdapters(t, masto, bsky)
	if _, err := runCLI(t, "--config", cfgPath, "run"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	t.Run("json", func(t *testing.T) {
		output, err := runCLI(t, "--config", cfgPath, "export")
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		var records []struct {
			SourceID  string `json:"source_id"`
			Published bool   `json:"published"`
		}
		if err := json.Unmarshal([]byte(output), &records); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, output)
		}
		if len(records) != 2 {
			t.Fatalf("exported %d records, want 2", len(records))
		}
		for _, r := range records {
			if !r.Published {
				t.Errorf("record %s should be published", r.SourceID)
			}
		}
	})

	t.Run("markdown for one platform", func(t *testing.T) {
		output, err := runCLI(t, "--config", cfgPath, "export", "--format", "md", "--platform", "bluesky")
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		if !strings.Contains(output, "Total: 1 record(s)") || !strings.Contains(output, "`b1`") {
			t.Errorf("markdown output:\n%s", output)
		}
	})

	t.Run("output file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "history.yaml")
		if _, err := runCLI(t, "--config", cfgPath, "export", "-f", "yaml", "-o", path); err != nil {
			t.Fatalf("export failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("export file not written: %v", err)
		}
		if !strings.Contains(string(data), "source_id: m1") {
			t.Errorf("yaml export:\n%s", data)
		}
	})
}

func TestExportRejectsBadFlags(t *testing.T) {
	cfgPath := writeConfig(t, false)
	for _, args := range [][]string{
		{"export", "--format", "xml"},
		{"export", "--platform", "twitter"},
	} {
		_, err := runCLI(t, append([]string{"--config", cfgPath}, args...)...)
		if code := ExitCode(err); code != ExitConfig {
			t.Errorf("%v: exit code = %d (err %v), want %d", args, code, err, ExitConfig)
		}
	}
}
