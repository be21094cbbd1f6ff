// Package e2e provides testing infrastructure for end-to-end CLI tests.
// It runs the real command line against fake Mastodon and Bluesky servers
// in an isolated working directory.
package e2e

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauern/postsync/internal/cli"
)

// Result contains the outcome of running a CLI command.
type Result struct {
	// Stdout contains the captured standard output.
	Stdout string
	// Err is the error returned by the CLI command, if any.
	Err error
	// ExitCode is the code the process would exit with.
	ExitCode int
}

// Success returns true if the command completed without error.
func (r *Result) Success() bool {
	return r.Err == nil
}

// Harness runs postsync commands against a config file in a temp directory.
type Harness struct {
	t          *testing.T
	dir        string
	configPath string
}

// NewHarness creates a harness whose config points at the given servers.
// extra is appended to the generated TOML.
func NewHarness(t *testing.T, mastodonURL, blueskyURL, extra string) *Harness {
	t.Helper()

	dir := t.TempDir()
	h := &Harness{
		t:          t,
		dir:        dir,
		configPath: filepath.Join(dir, "postsync.toml"),
	}

	// Keep stray environment from redirecting state or config.
	t.Setenv("POSTSYNC_STATE_DIR", "")
	t.Setenv("MBS_CACHE_DIR", "")

	cfg := fmt.Sprintf(`[mastodon]
base_url = %q
access_token = %q

[bluesky]
base_url = %q
email = %q
app_password = %q

[sync]
timeout = "5s"
max_retries = 1
%s
`, mastodonURL, MastodonToken, blueskyURL, BlueskyHandle, BlueskyPassword, extra)
	if err := os.WriteFile(h.configPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return h
}

// Dir returns the working directory holding the config and state.
func (h *Harness) Dir() string {
	return h.dir
}

// ConfigPath returns the generated config file.
func (h *Harness) ConfigPath() string {
	return h.configPath
}

// Run executes a postsync command with the harness config and captures stdout.
func (h *Harness) Run(args ...string) *Result {
	h.t.Helper()

	args = append([]string{"postsync", "--config", h.configPath, "--no-color"}, args...)

	oldStdout := os.Stdout
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		h.t.Fatalf("failed to create stdout pipe: %v", err)
	}
	os.Stdout = stdoutW

	// Read concurrently so large reports cannot fill the pipe buffer.
	var stdoutBuf bytes.Buffer
	var copyErr error
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		_, copyErr = io.Copy(&stdoutBuf, stdoutR)
	}()

	cmdErr := cli.Run(context.Background(), args)

	if err := stdoutW.Close(); err != nil {
		h.t.Fatalf("failed to close stdout pipe writer: %v", err)
	}
	os.Stdout = oldStdout

	<-copyDone
	if copyErr != nil {
		h.t.Fatalf("failed to read captured stdout: %v", copyErr)
	}

	return &Result{
		Stdout:   stdoutBuf.String(),
		Err:      cmdErr,
		ExitCode: cli.ExitCode(cmdErr),
	}
}
