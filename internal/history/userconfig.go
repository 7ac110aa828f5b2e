package history

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	dark "github.com/thiagokokada/dark-mode-go"
)

// UserConfigFileName is the TOML config file for user preferences
const UserConfigFileName = "config.toml"

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	// Sessions configures where rollout files live and how much of each is
	// summarized
	Sessions SessionsSettings `toml:"sessions"`

	// Display configures theme and date/time presentation
	Display DisplaySettings `toml:"display"`

	// Search configures result limits and matching
	Search SearchSettings `toml:"search"`

	// Watch configures the filesystem watch mode
	Watch WatchSettings `toml:"watch"`

	// Web configures the local HTTP/WebSocket server
	Web WebSettings `toml:"web"`

	// Logs defines debug log management settings
	Logs LogSettings `toml:"logs"`
}

// SessionsSettings locates and bounds rollout ingestion
type SessionsSettings struct {
	// Root is the sessions directory to index.
	// Default: $CODEX_HOME/sessions, falling back to ~/.codex/sessions
	Root string `toml:"root"`

	// PreviewLimit is the number of conversation messages captured per
	// session summary
	// Default: 5
	PreviewLimit int `toml:"preview_limit"`
}

// DisplaySettings controls presentation
type DisplaySettings struct {
	// Theme sets the color scheme: "dark" (default), "light", or "system"
	Theme string `toml:"theme"`

	// TimeStyle sets the session time label format: "24h" (default) or "12h"
	TimeStyle string `toml:"time_style"`

	// Timezone resolves timestamps to local dates, e.g. "UTC" or
	// "America/New_York"
	// Default: the system local timezone
	Timezone string `toml:"timezone"`
}

// SearchSettings tunes conversation search
type SearchSettings struct {
	// MaxResults caps total hits across all sessions
	// Default: 50
	MaxResults int `toml:"max_results"`

	// CaseSensitive disables the default case-insensitive matching
	CaseSensitive bool `toml:"case_sensitive"`
}

// WatchSettings tunes watch mode refresh behavior
type WatchSettings struct {
	// DebounceMs is the quiet period after a filesystem event before a
	// refresh runs
	// Default: 500
	DebounceMs int `toml:"debounce_ms"`

	// MaxRefreshPerSec rate-limits refreshes during event storms
	// Default: 1
	MaxRefreshPerSec int `toml:"max_refresh_per_sec"`
}

// WebSettings configures the serve command
type WebSettings struct {
	// ListenAddr is the HTTP listen address
	// Default: 127.0.0.1:8460
	ListenAddr string `toml:"listen_addr"`

	// AuthToken, when set, is required as a Bearer token on API requests
	AuthToken string `toml:"auth_token"`
}

// LogSettings defines debug log management configuration
type LogSettings struct {
	// DebugLevel sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	DebugLevel string `toml:"debug_level"`

	// DebugFormat sets the log format: "json" (default) or "text"
	DebugFormat string `toml:"debug_format"`

	// DebugMaxMB is the max size in MB for debug.log before rotation
	// Default: 10
	DebugMaxMB int `toml:"debug_max_mb"`

	// DebugBackups is the number of rotated debug.log files to keep
	// Default: 5
	DebugBackups int `toml:"debug_backups"`

	// DebugRetentionDays is the number of days to keep rotated debug logs
	// Default: 10
	DebugRetentionDays int `toml:"debug_retention_days"`

	// DebugCompress enables gzip compression for rotated debug logs
	// Default: true
	DebugCompress bool `toml:"debug_compress"`

	// RingBufferMB is the in-memory ring buffer size in MB for crash dumps
	// Default: 4
	RingBufferMB int `toml:"ring_buffer_mb"`

	// AggregateIntervalS is the event aggregation flush interval in seconds
	// Default: 30
	AggregateIntervalS int `toml:"aggregate_interval_secs"`
}

// Default user config
var defaultUserConfig = UserConfig{}

// Cache for user config (loaded once per process)
var (
	userConfigCache   *UserConfig
	userConfigCacheMu sync.RWMutex
)

// GetHistoryDeckDir returns the history-deck config directory (~/.history-deck)
func GetHistoryDeckDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".history-deck"), nil
}

// GetUserConfigPath returns the path to the user config file
func GetUserConfigPath() (string, error) {
	dir, err := GetHistoryDeckDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, UserConfigFileName), nil
}

// GetCachePath returns the path to the summary cache artifact
func GetCachePath() (string, error) {
	dir, err := GetHistoryDeckDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CacheFileName), nil
}

// LoadUserConfig loads the user configuration from TOML file
// Returns cached config after first load
func LoadUserConfig() (*UserConfig, error) {
	userConfigCacheMu.RLock()
	if userConfigCache != nil {
		defer userConfigCacheMu.RUnlock()
		return userConfigCache, nil
	}
	userConfigCacheMu.RUnlock()

	userConfigCacheMu.Lock()
	defer userConfigCacheMu.Unlock()

	// Double-check after acquiring write lock
	if userConfigCache != nil {
		return userConfigCache, nil
	}

	configPath, err := GetUserConfigPath()
	if err != nil {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	var config UserConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		// Cache the default so a broken file is not re-parsed on every call,
		// but surface the error for display
		userConfigCache = &defaultUserConfig
		return userConfigCache, fmt.Errorf("config.toml parse error: %w", err)
	}

	userConfigCache = &config
	return userConfigCache, nil
}

// ReloadUserConfig forces a reload of the user config
func ReloadUserConfig() (*UserConfig, error) {
	userConfigCacheMu.Lock()
	userConfigCache = nil
	userConfigCacheMu.Unlock()
	return LoadUserConfig()
}

// SaveUserConfig writes the config to config.toml using atomic write pattern
// This clears the cache so next LoadUserConfig() reads fresh values
func SaveUserConfig(config *UserConfig) error {
	configPath, err := GetUserConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.WriteString("# History Deck Configuration\n\n"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Write temp file, fsync, then rename so a crash never leaves a
	// half-written config behind
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := syncCacheFile(tmpPath); err != nil {
		_ = err
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearUserConfigCache()
	return nil
}

// ClearUserConfigCache clears the cached user config, allowing tests to reset
// state. The next LoadUserConfig() call reads fresh from disk
func ClearUserConfigCache() {
	userConfigCacheMu.Lock()
	userConfigCache = nil
	userConfigCacheMu.Unlock()
}

// expandTilde expands ~ and ~/ prefixes to the user home directory
func expandTilde(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Clean(filepath.Join(home, path[2:]))
		}
	}
	return path
}

// SessionsRoot resolves the rollout sessions directory: config value first,
// then $CODEX_HOME/sessions, then ~/.codex/sessions
func (c *UserConfig) SessionsRoot() string {
	if c != nil && c.Sessions.Root != "" {
		return expandTilde(c.Sessions.Root)
	}
	if codexHome := os.Getenv("CODEX_HOME"); codexHome != "" {
		return filepath.Join(expandTilde(codexHome), "sessions")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".codex", "sessions")
	}
	return filepath.Join(home, ".codex", "sessions")
}

// PreviewLimit returns the configured preview limit with the default applied
func (c *UserConfig) PreviewLimit() int {
	if c != nil && c.Sessions.PreviewLimit > 0 {
		return c.Sessions.PreviewLimit
	}
	return DefaultPreviewLimit
}

// TimeStyle returns "24h" or "12h", defaulting to "24h"
func (c *UserConfig) TimeStyle() string {
	if c != nil && c.Display.TimeStyle == TimeStyle12h {
		return TimeStyle12h
	}
	return TimeStyle24h
}

// TimezoneLocation resolves the configured timezone, falling back to the
// system local timezone on any failure
func (c *UserConfig) TimezoneLocation() *time.Location {
	if c == nil || c.Display.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Display.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DateTimeSettingsKey is an opaque fingerprint of the date/time presentation
// settings. Cached summaries embed formatted labels, so any change here must
// invalidate the cache
func (c *UserConfig) DateTimeSettingsKey() string {
	tz := "Local"
	if c != nil && c.Display.Timezone != "" {
		tz = c.Display.Timezone
	}
	return c.TimeStyle() + "|" + tz
}

// MaxResults returns the configured search hit cap with the default applied
func (c *UserConfig) MaxResults() int {
	if c != nil && c.Search.MaxResults > 0 {
		return c.Search.MaxResults
	}
	return DefaultMaxResults
}

// WatchDebounce returns the watch quiet period with the default applied
func (c *UserConfig) WatchDebounce() time.Duration {
	if c != nil && c.Watch.DebounceMs > 0 {
		return time.Duration(c.Watch.DebounceMs) * time.Millisecond
	}
	return 500 * time.Millisecond
}

// WatchMaxRefreshPerSec returns the refresh rate limit with the default
// applied
func (c *UserConfig) WatchMaxRefreshPerSec() int {
	if c != nil && c.Watch.MaxRefreshPerSec > 0 {
		return c.Watch.MaxRefreshPerSec
	}
	return 1
}

// ListenAddr returns the web listen address with the default applied
func (c *UserConfig) ListenAddr() string {
	if c != nil && c.Web.ListenAddr != "" {
		return c.Web.ListenAddr
	}
	return "127.0.0.1:8460"
}

// GetTheme returns the current theme, defaulting to "dark"
func GetTheme() string {
	config, err := LoadUserConfig()
	if err != nil || config == nil {
		return "dark"
	}
	switch config.Display.Theme {
	case "dark", "light", "system":
		return config.Display.Theme
	default:
		return "dark"
	}
}

// ResolveTheme resolves the configured theme to "dark" or "light".
// If theme is "system", detects the OS dark mode setting.
// Falls back to "dark" on detection failure.
func ResolveTheme() string {
	theme := GetTheme()
	if theme != "system" {
		return theme
	}
	isDark, err := dark.IsDarkMode()
	if err != nil {
		return "dark"
	}
	if isDark {
		return "dark"
	}
	return "light"
}
