package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useTempHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TABDECK_HOME", dir)
	ClearCache()
	t.Cleanup(ClearCache)
	return dir
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	useTempHome(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.RestoreTabs)
	assert.True(t, cfg.ConfirmClose)
	assert.Equal(t, "dark", cfg.Theme)
	assert.Equal(t, "local", cfg.Transport.GetMode())
}

func TestLoadParsesFile(t *testing.T) {
	dir := useTempHome(t)

	content := `
restore_tabs = false
confirm_close = false
theme = "light"

[shell]
command = "/bin/zsh"

[transport]
mode = "remote"
remote_url = "ws://localhost:8420"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.RestoreTabs)
	assert.False(t, cfg.ConfirmClose)
	assert.Equal(t, "light", cfg.Theme)
	assert.Equal(t, "/bin/zsh", cfg.Shell.ResolveCommand())
	assert.Equal(t, "remote", cfg.Transport.GetMode())
	assert.Equal(t, "ws://localhost:8420", cfg.Transport.RemoteURL)
}

func TestLoadParseErrorFallsBackToDefaults(t *testing.T) {
	dir := useTempHome(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("not [valid toml"), 0o600))

	cfg, err := Load()
	require.Error(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.RestoreTabs, "parse failure must yield defaults")
}

func TestSaveRoundTrip(t *testing.T) {
	useTempHome(t)

	cfg := defaultConfig
	cfg.ConfirmClose = false
	cfg.Shell.Command = "/bin/bash"
	require.NoError(t, Save(&cfg))

	loaded, err := Load()
	require.NoError(t, err)
	assert.False(t, loaded.ConfirmClose)
	assert.Equal(t, "/bin/bash", loaded.Shell.Command)
}

func TestLoadCaches(t *testing.T) {
	dir := useTempHome(t)

	first, err := Load()
	require.NoError(t, err)

	// Change on disk without clearing the cache: Load must return the cached value
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("restore_tabs = false\n"), 0o600))
	second, err := Load()
	require.NoError(t, err)
	assert.Same(t, first, second)

	reloaded, err := Reload()
	require.NoError(t, err)
	assert.False(t, reloaded.RestoreTabs)
}

func TestShellResolveFallbacks(t *testing.T) {
	t.Setenv("SHELL", "/usr/bin/fish")
	s := ShellSettings{}
	assert.Equal(t, "/usr/bin/fish", s.ResolveCommand())
	assert.Equal(t, "xterm-256color", s.ResolveTerm())

	t.Setenv("SHELL", "")
	assert.Equal(t, "/bin/sh", s.ResolveCommand())
}
