// Package util holds small filesystem helpers shared across postsync.
//
//nolint:revive // var-naming - package name is meaningful
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables that relocate the state directory. The second name is
// honoured for installs migrated from older deployments.
const (
	EnvStateDir       = "POSTSYNC_STATE_DIR"
	EnvLegacyCacheDir = "MBS_CACHE_DIR"
)

// HomeDir returns the user's home directory
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return HomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(HomeDir(), path[2:])
	}
	return path
}

// PostsyncConfigPath returns the default configuration directory (~/.config/postsync).
func PostsyncConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "postsync")
	}
	return filepath.Join(HomeDir(), ".config", "postsync")
}

// StateDir resolves the directory holding the sync cache and session files.
// Precedence: explicit override, POSTSYNC_STATE_DIR, MBS_CACHE_DIR, then the
// directory containing the config file.
func StateDir(override, configPath string) string {
	for _, dir := range []string{override, os.Getenv(EnvStateDir), os.Getenv(EnvLegacyCacheDir)} {
		if dir != "" {
			return ExpandHome(dir)
		}
	}
	if configPath != "" {
		return filepath.Dir(ExpandHome(configPath))
	}
	return PostsyncConfigPath()
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
