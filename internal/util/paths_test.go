package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	tests := map[string]struct {
		in   string
		want string
	}{
		"bare tilde":    {in: "~", want: "/home/tester"},
		"tilde prefix":  {in: "~/state", want: "/home/tester/state"},
		"absolute":      {in: "/srv/postsync", want: "/srv/postsync"},
		"relative":      {in: "state", want: "state"},
		"tilde in path": {in: "/a/~/b", want: "/a/~/b"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			AssertEqual(t, ExpandHome(tt.in), tt.want)
		})
	}
}

func TestStateDir(t *testing.T) {
	tests := map[string]struct {
		override   string
		stateEnv   string
		legacyEnv  string
		configPath string
		want       string
	}{
		"override wins":    {override: "/o", stateEnv: "/s", legacyEnv: "/l", configPath: "/c/postsync.toml", want: "/o"},
		"state env":        {stateEnv: "/s", legacyEnv: "/l", configPath: "/c/postsync.toml", want: "/s"},
		"legacy env":       {legacyEnv: "/l", configPath: "/c/postsync.toml", want: "/l"},
		"config directory": {configPath: "/c/postsync.toml", want: "/c"},
		"relative config":  {configPath: "postsync.toml", want: "."},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(EnvStateDir, tt.stateEnv)
			t.Setenv(EnvLegacyCacheDir, tt.legacyEnv)
			AssertEqual(t, StateDir(tt.override, tt.configPath), tt.want)
		})
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := CreateTempDir(t)
	path := filepath.Join(dir, "nested", "state.json")

	AssertNoError(t, WriteFileAtomic(path, []byte(`{"version":1}`), 0o600))
	AssertNoError(t, WriteFileAtomic(path, []byte(`{"version":2}`), 0o600))

	// #nosec G304 - test temp file
	data, err := os.ReadFile(path)
	AssertNoError(t, err)
	AssertEqual(t, string(data), `{"version":2}`)

	entries, err := os.ReadDir(filepath.Dir(path))
	AssertNoError(t, err)
	AssertEqual(t, len(entries), 1)

	info, err := os.Stat(path)
	AssertNoError(t, err)
	AssertEqual(t, info.Mode().Perm(), os.FileMode(0o600))
}
