package cli

import (
	"fmt"
	"os"
	"strings"
	"testing"
)

// TestMain isolates the tests from the developer's environment: HOME points
// at a scratch directory and no POSTSYNC_* override leaks into a config.
func TestMain(m *testing.M) {
	tempHome, err := os.MkdirTemp("", "postsync-home-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp HOME: %v\n", err)
		os.Exit(1)
	}
	if err := os.Setenv("HOME", tempHome); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set HOME: %v\n", err)
		_ = os.RemoveAll(tempHome)
		os.Exit(1)
	}

	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "POSTSYNC_") || name == "MBS_CACHE_DIR" {
			_ = os.Unsetenv(name)
		}
	}

	code := m.Run()
	_ = os.RemoveAll(tempHome)
	os.Exit(code)
}
