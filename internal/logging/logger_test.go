package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauern/postsync/internal/logging"
)

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{
		Level:  logging.LevelInfo,
		Output: &buf,
	})

	logger.Info("post mirrored", "source_id", "109")

	output := buf.String()
	if !strings.Contains(output, "post mirrored") {
		t.Errorf("expected output to contain 'post mirrored', got: %s", output)
	}
	if !strings.Contains(output, "source_id=109") {
		t.Errorf("expected output to contain 'source_id=109', got: %s", output)
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{
		Level:  logging.LevelInfo,
		Output: &buf,
		JSON:   true,
	})

	logger.Info("post mirrored", logging.Direction("mastodon-to-bluesky"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if entry["msg"] != "post mirrored" {
		t.Errorf("expected msg='post mirrored', got: %v", entry["msg"])
	}
	if entry["direction"] != "mastodon-to-bluesky" {
		t.Errorf("expected direction attr, got: %v", entry["direction"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{
		Level:  logging.LevelWarn,
		Output: &buf,
	})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("expected debug and info to be filtered at warn level, got: %s", output)
	}
	if !strings.Contains(output, "warn message") {
		t.Error("warn message should appear at warn level")
	}
}

func TestNew_FileOutput(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "postsync.log")
	logger := logging.New(logging.Options{
		Level:  logging.LevelWarn,
		Output: &buf,
		File:   path,
	})

	logger.Info("only in file")
	logger.Warn("in both")

	if strings.Contains(buf.String(), "only in file") {
		t.Error("info line should not reach the warn-level console handler")
	}
	if !strings.Contains(buf.String(), "in both") {
		t.Error("warn line missing from console output")
	}

	// #nosec G304 - path is a test temp file
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines in log file, got %d: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log file line is not JSON: %v", err)
	}
	if entry["msg"] != "only in file" {
		t.Errorf("expected first file entry 'only in file', got %v", entry["msg"])
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := logging.DefaultOptions()

	if opts.Level != logging.LevelWarn {
		t.Errorf("expected default level to be Warn, got: %v", opts.Level)
	}
	if opts.JSON {
		t.Error("expected default JSON to be false")
	}
	if opts.File != "" {
		t.Error("expected no log file by default")
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{
		Level:  logging.LevelInfo,
		Output: &buf,
	})

	if logging.FromContext(context.Background()) != nil {
		t.Error("expected nil logger from empty context")
	}

	ctx := logging.NewContext(context.Background(), logger.With(logging.RunID("run-1")))
	logging.WithContext(ctx).Info("context message")

	if !strings.Contains(buf.String(), "run_id=run-1") {
		t.Errorf("expected logger from context to carry run_id, got: %s", buf.String())
	}
}

func TestWithContext_FallsBackToDefault(t *testing.T) {
	var buf bytes.Buffer
	logging.SetDefault(logging.New(logging.Options{
		Level:  logging.LevelInfo,
		Output: &buf,
	}))

	logging.WithContext(context.Background()).Info("fallback message")
	logging.With("component", "test").Info("child message")

	output := buf.String()
	if !strings.Contains(output, "fallback message") {
		t.Error("expected WithContext to fall back to default logger")
	}
	if !strings.Contains(output, "component=test") {
		t.Error("expected With() to include attributes")
	}
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{name: "Platform", attr: logging.Platform("bluesky"), wantKey: "platform", wantVal: "bluesky"},
		{name: "Direction", attr: logging.Direction("bluesky-to-mastodon"), wantKey: "direction", wantVal: "bluesky-to-mastodon"},
		{name: "SourceID", attr: logging.SourceID("at://did:plc:x/app.bsky.feed.post/1"), wantKey: "source_id", wantVal: "at://did:plc:x/app.bsky.feed.post/1"},
		{name: "DestID", attr: logging.DestID("1131"), wantKey: "dest_id", wantVal: "1131"},
		{name: "Path", attr: logging.Path("/var/lib/postsync"), wantKey: "path", wantVal: "/var/lib/postsync"},
		{name: "Operation", attr: logging.Operation("sweep"), wantKey: "operation", wantVal: "sweep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("got key %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("got value %q, want %q", tt.attr.Value.String(), tt.wantVal)
			}
		})
	}
}

func TestErr(t *testing.T) {
	if attr := logging.Err(nil); attr.Key != "" {
		t.Errorf("expected empty key for nil error, got: %q", attr.Key)
	}
	if attr := logging.Count(42); attr.Value.Int64() != 42 {
		t.Errorf("expected count 42, got %d", attr.Value.Int64())
	}
}

func TestTimer(t *testing.T) {
	var buf bytes.Buffer
	logging.SetDefault(logging.New(logging.Options{
		Level:  logging.LevelDebug,
		Output: &buf,
	}))

	done := logging.Timer("sweep")
	done()

	output := buf.String()
	if !strings.Contains(output, "operation=sweep") || !strings.Contains(output, "duration=") {
		t.Errorf("expected timer line with operation and duration, got: %s", output)
	}
}
