package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withTestHome points HOME at a temp dir so config reads and writes never
// touch the real user environment.
func withTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CODEX_HOME", "")
	ClearUserConfigCache()
	t.Cleanup(ClearUserConfigCache)
	return home
}

func TestLoadUserConfigDefaults(t *testing.T) {
	home := withTestHome(t)

	cfg, err := LoadUserConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultPreviewLimit, cfg.PreviewLimit())
	assert.Equal(t, TimeStyle24h, cfg.TimeStyle())
	assert.Equal(t, DefaultMaxResults, cfg.MaxResults())
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounce())
	assert.Equal(t, 1, cfg.WatchMaxRefreshPerSec())
	assert.Equal(t, "127.0.0.1:8460", cfg.ListenAddr())
	assert.Equal(t, "24h|Local", cfg.DateTimeSettingsKey())
	assert.Equal(t, filepath.Join(home, ".codex", "sessions"), cfg.SessionsRoot())
}

func TestLoadUserConfigFromFile(t *testing.T) {
	home := withTestHome(t)
	configDir := filepath.Join(home, ".history-deck")
	require.NoError(t, os.MkdirAll(configDir, 0o700))

	content := `[sessions]
root = "~/archive/sessions"
preview_limit = 9

[display]
theme = "light"
time_style = "12h"
timezone = "UTC"

[search]
max_results = 25
case_sensitive = true

[watch]
debounce_ms = 250
max_refresh_per_sec = 3

[web]
listen_addr = "127.0.0.1:9999"
auth_token = "secret"

[logs]
debug_level = "debug"
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, UserConfigFileName), []byte(content), 0o600))
	ClearUserConfigCache()

	cfg, err := LoadUserConfig()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "archive", "sessions"), cfg.SessionsRoot())
	assert.Equal(t, 9, cfg.PreviewLimit())
	assert.Equal(t, TimeStyle12h, cfg.TimeStyle())
	assert.Equal(t, "12h|UTC", cfg.DateTimeSettingsKey())
	assert.Equal(t, time.UTC, cfg.TimezoneLocation())
	assert.Equal(t, 25, cfg.MaxResults())
	assert.True(t, cfg.Search.CaseSensitive)
	assert.Equal(t, 250*time.Millisecond, cfg.WatchDebounce())
	assert.Equal(t, 3, cfg.WatchMaxRefreshPerSec())
	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr())
	assert.Equal(t, "secret", cfg.Web.AuthToken)
	assert.Equal(t, "debug", cfg.Logs.DebugLevel)
	assert.Equal(t, "light", GetTheme())
}

func TestLoadUserConfigParseError(t *testing.T) {
	home := withTestHome(t)
	configDir := filepath.Join(home, ".history-deck")
	require.NoError(t, os.MkdirAll(configDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, UserConfigFileName), []byte("not [valid toml"), 0o600))
	ClearUserConfigCache()

	cfg, err := LoadUserConfig()
	require.Error(t, err)
	require.NotNil(t, cfg, "broken config still yields usable defaults")
	assert.Equal(t, DefaultPreviewLimit, cfg.PreviewLimit())
}

func TestSessionsRootCodexHome(t *testing.T) {
	withTestHome(t)
	codexHome := t.TempDir()
	t.Setenv("CODEX_HOME", codexHome)

	cfg := &UserConfig{}
	assert.Equal(t, filepath.Join(codexHome, "sessions"), cfg.SessionsRoot())

	// Explicit config wins over the environment
	cfg.Sessions.Root = "/explicit/sessions"
	assert.Equal(t, "/explicit/sessions", cfg.SessionsRoot())
}

func TestSaveUserConfigRoundtrip(t *testing.T) {
	home := withTestHome(t)

	cfg := &UserConfig{}
	cfg.Sessions.PreviewLimit = 7
	cfg.Display.Theme = "light"
	cfg.Search.MaxResults = 10
	require.NoError(t, SaveUserConfig(cfg))

	configPath := filepath.Join(home, ".history-deck", UserConfigFileName)
	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.PreviewLimit())
	assert.Equal(t, "light", loaded.Display.Theme)
	assert.Equal(t, 10, loaded.MaxResults())
}

func TestTimezoneLocationFallback(t *testing.T) {
	cfg := &UserConfig{}
	cfg.Display.Timezone = "Not/AZone"
	assert.Equal(t, time.Local, cfg.TimezoneLocation())

	cfg.Display.Timezone = ""
	assert.Equal(t, time.Local, cfg.TimezoneLocation())
}

func TestGetThemeInvalidFallsBackToDark(t *testing.T) {
	home := withTestHome(t)
	configDir := filepath.Join(home, ".history-deck")
	require.NoError(t, os.MkdirAll(configDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, UserConfigFileName),
		[]byte("[display]\ntheme = \"neon\"\n"), 0o600))
	ClearUserConfigCache()

	assert.Equal(t, "dark", GetTheme())
}
