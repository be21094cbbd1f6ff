// Package config provides configuration management for postsync.
// It supports a TOML configuration file, environment variables, and sensible defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/util"
)

// DefaultFileName is the config file looked up when no path is given.
const DefaultFileName = "postsync.toml"

// Config represents the complete postsync configuration.
type Config struct {
	Mastodon MastodonConfig `toml:"mastodon"`
	Bluesky  BlueskyConfig  `toml:"bluesky"`
	Sync     SyncConfig     `toml:"sync"`
	State    StateConfig    `toml:"state"`
	Log      LogConfig      `toml:"log"`

	path string
}

// MastodonConfig holds the Mastodon account and its sync switches.
type MastodonConfig struct {
	BaseURL      string `toml:"base_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	AccessToken  string `toml:"access_token"`
	// RefreshToken is only set on servers that issue expiring tokens.
	RefreshToken string `toml:"refresh_token,omitempty"`
	// SyncReblogs mirrors boosts to Bluesky.
	SyncReblogs bool `toml:"sync_reblogs"`
	// SyncHashtag restricts mirrored toots to those containing the tag.
	SyncHashtag      string `toml:"sync_hashtag"`
	DeleteOlderPosts bool   `toml:"delete_older_posts"`
	DeleteOlderFavs  bool   `toml:"delete_older_favs"`
}

// BlueskyConfig holds the Bluesky account and its sync switches.
type BlueskyConfig struct {
	BaseURL string `toml:"base_url"`
	// Email is the login identifier; a handle works too.
	Email       string `toml:"email"`
	AppPassword string `toml:"app_password"`
	// SyncReposts mirrors reposts to Mastodon.
	SyncReposts      bool   `toml:"sync_reposts"`
	SyncHashtag      string `toml:"sync_hashtag"`
	DeleteOlderPosts bool   `toml:"delete_older_posts"`
	DeleteOlderFavs  bool   `toml:"delete_older_favs"`
}

// SyncConfig holds engine tuning.
type SyncConfig struct {
	// FetchLimit bounds how many recent posts are requested per direction.
	FetchLimit int `toml:"fetch_limit"`
	// RetentionDays is the age past which sweeps delete posts and favorites.
	RetentionDays int `toml:"retention_days"`
	// Timeout bounds every remote call.
	Timeout Duration `toml:"timeout"`
	// MaxRetries bounds retries of transient failures.
	MaxRetries int `toml:"max_retries"`
	// StrictMedia skips posts whose media cannot be carried over instead of
	// publishing them without it.
	StrictMedia bool `toml:"strict_media"`
	// FFmpegPath is the transcoder binary used for video.
	FFmpegPath string `toml:"ffmpeg_path"`
}

// StateConfig holds where and how the sync cache is stored.
type StateConfig struct {
	Dir string `toml:"dir"`
	// Backend is json or sqlite.
	Backend string `toml:"backend"`
	// Persist is per-commit or on-exit.
	Persist string `toml:"persist"`
	// Backups is how many snapshots of the cache to keep. 0 disables them.
	Backups int `toml:"backups"`
}

// LogConfig holds logging destinations.
type LogConfig struct {
	File string `toml:"file"`
	JSON bool   `toml:"json"`
}

// State backends and persistence modes.
const (
	BackendJSON      = "json"
	BackendSQLite    = "sqlite"
	PersistPerCommit = "per-commit"
	PersistOnExit    = "on-exit"
)

// Duration is a time.Duration that reads and writes TOML strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Mastodon: MastodonConfig{
			SyncReblogs: true,
		},
		Bluesky: BlueskyConfig{
			BaseURL:     "https://bsky.social",
			SyncReposts: true,
		},
		Sync: SyncConfig{
			FetchLimit:    20,
			RetentionDays: 90,
			Timeout:       Duration{30 * time.Second},
			MaxRetries:    3,
			FFmpegPath:    "ffmpeg",
		},
		State: StateConfig{
			Backend: BackendJSON,
			Persist: PersistPerCommit,
			Backups: 5,
		},
	}
}

// Load reads the configuration at path, merges it over the defaults and
// applies environment overrides. Any failure is an apperr ConfigError.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFileName
	}
	path = util.ExpandHome(path)

	// #nosec G304 - path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Config(fmt.Sprintf("cannot read %s", path), err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, apperr.Config(fmt.Sprintf("cannot parse %s", path), err)
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes TOML over the defaults and applies environment overrides.
// Unknown keys are ignored so newer files stay readable.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, err
	}
	renamed, err := cfg.applyRenamed(string(data), md)
	if err != nil {
		return nil, err
	}
	for _, key := range md.Undecoded() {
		if !renamed[key.String()] {
			logging.Debug("ignoring unknown config key", "key", key.String())
		}
	}
	cfg.applyEnvironment()
	return cfg, nil
}

// sweepSwitches holds the sweep keys under the names earlier releases used.
type sweepSwitches struct {
	DeleteOldPosts *bool `toml:"delete_old_posts"`
	DeleteOldFavs  *bool `toml:"delete_old_favs"`
}

// applyRenamed honours delete_old_posts and delete_old_favs unless the
// current key is set as well. It returns the old keys it found.
func (c *Config) applyRenamed(data string, md toml.MetaData) (map[string]bool, error) {
	var old struct {
		Mastodon sweepSwitches `toml:"mastodon"`
		Bluesky  sweepSwitches `toml:"bluesky"`
	}
	if _, err := toml.Decode(data, &old); err != nil {
		return nil, err
	}

	found := map[string]bool{}
	for _, r := range []struct {
		section, old, current string
		value, target         *bool
	}{
		{"mastodon", "delete_old_posts", "delete_older_posts", old.Mastodon.DeleteOldPosts, &c.Mastodon.DeleteOlderPosts},
		{"mastodon", "delete_old_favs", "delete_older_favs", old.Mastodon.DeleteOldFavs, &c.Mastodon.DeleteOlderFavs},
		{"bluesky", "delete_old_posts", "delete_older_posts", old.Bluesky.DeleteOldPosts, &c.Bluesky.DeleteOlderPosts},
		{"bluesky", "delete_old_favs", "delete_older_favs", old.Bluesky.DeleteOldFavs, &c.Bluesky.DeleteOlderFavs},
	} {
		if r.value == nil {
			continue
		}
		key := r.section + "." + r.old
		found[key] = true
		if md.IsDefined(r.section, r.current) {
			logging.Warn("ignoring renamed config key because its new name is set", "key", key, "use", r.section+"."+r.current)
			continue
		}
		logging.Warn("config key is renamed", "key", key, "use", r.section+"."+r.current)
		*r.target = *r.value
	}
	return found, nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// SetPath sets the file Save writes to.
func (c *Config) SetPath(path string) {
	c.path = path
}

// Validate checks that both accounts are usable. All problems are reported
// together as one ConfigError.
func (c *Config) Validate() error {
	var errs []error
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", field))
		}
	}

	require("mastodon.base_url", c.Mastodon.BaseURL)
	require("mastodon.access_token", c.Mastodon.AccessToken)
	require("bluesky.base_url", c.Bluesky.BaseURL)
	require("bluesky.email", c.Bluesky.Email)
	require("bluesky.app_password", c.Bluesky.AppPassword)

	if c.Mastodon.RefreshToken != "" && (c.Mastodon.ClientID == "" || c.Mastodon.ClientSecret == "") {
		errs = append(errs, errors.New("mastodon.client_id and mastodon.client_secret are required with refresh_token"))
	}
	if c.Sync.FetchLimit <= 0 {
		errs = append(errs, fmt.Errorf("sync.fetch_limit must be positive, got %d", c.Sync.FetchLimit))
	}
	if c.Sync.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("sync.retention_days must be positive, got %d", c.Sync.RetentionDays))
	}
	if c.Sync.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("sync.timeout must be positive, got %s", c.Sync.Timeout))
	}
	switch c.State.Backend {
	case BackendJSON, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("state.backend must be %q or %q, got %q", BackendJSON, BackendSQLite, c.State.Backend))
	}
	switch c.State.Persist {
	case PersistPerCommit, PersistOnExit:
	default:
		errs = append(errs, fmt.Errorf("state.persist must be %q or %q, got %q", PersistPerCommit, PersistOnExit, c.State.Persist))
	}
	if c.State.Backups < 0 {
		errs = append(errs, fmt.Errorf("state.backups must not be negative, got %d", c.State.Backups))
	}

	if len(errs) == 0 {
		return nil
	}
	return apperr.Config(fmt.Sprintf("%d invalid setting(s)", len(errs)), errors.Join(errs...))
}

// RetentionThreshold returns the sweep age threshold.
func (c *Config) RetentionThreshold() time.Duration {
	return time.Duration(c.Sync.RetentionDays) * 24 * time.Hour
}

// StateDir resolves the state directory for this configuration.
func (c *Config) StateDir(override string) string {
	if override == "" {
		override = c.State.Dir
	}
	return util.StateDir(override, c.path)
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return apperr.Config("no file to save to", nil)
	}
	return c.SaveToPath(c.path)
}

// SaveToPath writes the configuration to a specific path.
func (c *Config) SaveToPath(path string) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	// Credentials live in this file.
	return util.WriteFileAtomic(path, data, 0o600)
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// UpdateMastodonTokens stores rotated Mastodon credentials and persists them.
func (c *Config) UpdateMastodonTokens(access, refresh string) error {
	if access == c.Mastodon.AccessToken && refresh == c.Mastodon.RefreshToken {
		return nil
	}
	c.Mastodon.AccessToken = access
	if refresh != "" {
		c.Mastodon.RefreshToken = refresh
	}
	if c.path == "" {
		return nil
	}
	return c.Save()
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Mastodon.ClientSecret = mask(c.Mastodon.ClientSecret)
	out.Mastodon.AccessToken = mask(c.Mastodon.AccessToken)
	out.Mastodon.RefreshToken = mask(c.Mastodon.RefreshToken)
	out.Bluesky.AppPassword = mask(c.Bluesky.AppPassword)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// applyEnvironment applies environment variable overrides.
// Environment variables follow the pattern POSTSYNC_<SECTION>_<KEY>.
func (c *Config) applyEnvironment() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = parseBool(v)
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	// Mastodon
	str("POSTSYNC_MASTODON_BASE_URL", &c.Mastodon.BaseURL)
	str("POSTSYNC_MASTODON_CLIENT_ID", &c.Mastodon.ClientID)
	str("POSTSYNC_MASTODON_CLIENT_SECRET", &c.Mastodon.ClientSecret)
	str("POSTSYNC_MASTODON_ACCESS_TOKEN", &c.Mastodon.AccessToken)
	str("POSTSYNC_MASTODON_REFRESH_TOKEN", &c.Mastodon.RefreshToken)
	str("POSTSYNC_MASTODON_SYNC_HASHTAG", &c.Mastodon.SyncHashtag)
	boolean("POSTSYNC_MASTODON_SYNC_REBLOGS", &c.Mastodon.SyncReblogs)
	boolean("POSTSYNC_MASTODON_DELETE_OLDER_POSTS", &c.Mastodon.DeleteOlderPosts)
	boolean("POSTSYNC_MASTODON_DELETE_OLDER_FAVS", &c.Mastodon.DeleteOlderFavs)

	// Bluesky
	str("POSTSYNC_BLUESKY_BASE_URL", &c.Bluesky.BaseURL)
	str("POSTSYNC_BLUESKY_EMAIL", &c.Bluesky.Email)
	str("POSTSYNC_BLUESKY_APP_PASSWORD", &c.Bluesky.AppPassword)
	str("POSTSYNC_BLUESKY_SYNC_HASHTAG", &c.Bluesky.SyncHashtag)
	boolean("POSTSYNC_BLUESKY_SYNC_REPOSTS", &c.Bluesky.SyncReposts)
	boolean("POSTSYNC_BLUESKY_DELETE_OLDER_POSTS", &c.Bluesky.DeleteOlderPosts)
	boolean("POSTSYNC_BLUESKY_DELETE_OLDER_FAVS", &c.Bluesky.DeleteOlderFavs)

	// Sync settings
	integer("POSTSYNC_SYNC_FETCH_LIMIT", &c.Sync.FetchLimit)
	integer("POSTSYNC_SYNC_RETENTION_DAYS", &c.Sync.RetentionDays)
	integer("POSTSYNC_SYNC_MAX_RETRIES", &c.Sync.MaxRetries)
	boolean("POSTSYNC_SYNC_STRICT_MEDIA", &c.Sync.StrictMedia)
	str("POSTSYNC_SYNC_FFMPEG_PATH", &c.Sync.FFmpegPath)
	if v := os.Getenv("POSTSYNC_SYNC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sync.Timeout = Duration{d}
		}
	}

	// State and logging
	str("POSTSYNC_STATE_BACKEND", &c.State.Backend)
	str("POSTSYNC_STATE_PERSIST", &c.State.Persist)
	integer("POSTSYNC_STATE_BACKUPS", &c.State.Backups)
	str("POSTSYNC_LOG_FILE", &c.Log.File)
	boolean("POSTSYNC_LOG_JSON", &c.Log.JSON)
}

// parseBool parses a boolean from common string representations.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
