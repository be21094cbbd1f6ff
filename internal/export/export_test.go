package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klauern/postsync/internal/model"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func sampleRecords() []model.SyncRecord {
	return []model.SyncRecord{
		{
			SourcePlatform: model.Bluesky,
			SourceID:       "at://did:plc:me/app.bsky.feed.post/3k2",
			DestPlatform:   model.Mastodon,
			DestID:         "112",
			SyncedAt:       base.Add(2 * time.Hour),
		},
		{
			SourcePlatform: model.Mastodon,
			SourceID:       "111",
			DestPlatform:   model.Bluesky,
			DestID:         "at://did:plc:me/app.bsky.feed.post/3k1",
			SyncedAt:       base.Add(time.Hour),
		},
		{
			SourcePlatform: model.Mastodon,
			SourceID:       "100",
			DestPlatform:   model.Bluesky,
			SyncedAt:       base,
		},
	}
}

func TestFormat_IsValid(t *testing.T) {
	tests := []struct {
		format Format
		valid  bool
	}{
		{FormatJSON, true},
		{FormatYAML, true},
		{FormatMarkdown, true},
		{Format("invalid"), false},
		{Format(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if got := tt.format.IsValid(); got != tt.valid {
				t.Errorf("Format(%q).IsValid() = %v, want %v", tt.format, got, tt.valid)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json", "json", FormatJSON, false},
		{"JSON uppercase", "JSON", FormatJSON, false},
		{"yaml", "yaml", FormatYAML, false},
		{"markdown", "markdown", FormatMarkdown, false},
		{"md shorthand", "md", FormatMarkdown, false},
		{"with spaces", "  json  ", FormatJSON, false},
		{"invalid", "xml", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestExporter_ExportJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := New(DefaultOptions()).Export(sampleRecords(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var result []Record
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 records, got %d", len(result))
	}
	// Oldest first.
	if result[0].SourceID != "100" || result[2].SourceID != "at://did:plc:me/app.bsky.feed.post/3k2" {
		t.Errorf("unexpected order: %+v", result)
	}
	if result[0].Published {
		t.Error("record without a destination id should not be published")
	}
	if result[1].Direction != model.MastodonToBluesky || result[2].Direction != model.BlueskyToMastodon {
		t.Errorf("directions = %s, %s", result[1].Direction, result[2].Direction)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("pretty output should be indented")
	}
}

func TestExporter_ExportYAML(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{Format: FormatYAML, Pretty: true, IncludeSeeded: true}
	if err := New(opts).Export(sampleRecords(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var result []Record
	if err := yaml.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse YAML output: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 records, got %d", len(result))
	}
	if result[1].DestID != "at://did:plc:me/app.bsky.feed.post/3k1" {
		t.Errorf("DestID = %q", result[1].DestID)
	}
}

func TestExporter_ExportMarkdown(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{Format: FormatMarkdown, IncludeSeeded: true}
	if err := New(opts).Export(sampleRecords(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"# Sync history",
		"Total: 3 record(s)",
		"| Synced | Direction | Source | Mirror |",
		"| 2026-01-01 13:00:00 | mastodon-to-bluesky | `111` | `at://did:plc:me/app.bsky.feed.post/3k1` |",
		"*not published*",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestExporter_Filters(t *testing.T) {
	tests := map[string]struct {
		opts Options
		want []string
	}{
		"platform": {
			opts: Options{Platform: model.Mastodon, IncludeSeeded: true},
			want: []string{"100", "111"},
		},
		"since": {
			opts: Options{Since: base.Add(90 * time.Minute), IncludeSeeded: true},
			want: []string{"at://did:plc:me/app.bsky.feed.post/3k2"},
		},
		"published only": {
			opts: Options{},
			want: []string{"111", "at://did:plc:me/app.bsky.feed.post/3k2"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tt.opts.Format = FormatJSON
			var buf bytes.Buffer
			if err := New(tt.opts).Export(sampleRecords(), &buf); err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			var result []Record
			if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
				t.Fatalf("failed to parse JSON output: %v", err)
			}
			var got []string
			for _, r := range result {
				got = append(got, r.SourceID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("exported %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExporter_Empty(t *testing.T) {
	var js bytes.Buffer
	if err := New(DefaultOptions()).Export(nil, &js); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if strings.TrimSpace(js.String()) != "[]" {
		t.Errorf("empty JSON export = %q, want []", js.String())
	}

	var md bytes.Buffer
	if err := New(Options{Format: FormatMarkdown}).Export(nil, &md); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.Contains(md.String(), "*No records*") {
		t.Errorf("empty markdown export = %q", md.String())
	}
}

func TestExporter_UnsupportedFormat(t *testing.T) {
	if err := New(Options{Format: "xml"}).Export(sampleRecords(), &bytes.Buffer{}); err == nil {
		t.Error("Export() should reject an unknown format")
	}
}
