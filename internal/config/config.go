package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file for user preferences.
const FileName = "config.toml"

// Config represents user-facing configuration in TOML format.
type Config struct {
	// RestoreTabs reopens the previous set of tabs on startup (default: true)
	RestoreTabs bool `toml:"restore_tabs"`

	// ConfirmClose asks before closing a tab with a running session (default: true)
	ConfirmClose bool `toml:"confirm_close"`

	// Theme sets the color scheme: "dark" (default), "light", or "system"
	Theme string `toml:"theme"`

	// Shell defines how local shell sessions are launched
	Shell ShellSettings `toml:"shell"`

	// Transport selects how sessions reach their backend
	Transport TransportSettings `toml:"transport"`

	// Logs defines debug log settings
	Logs LogSettings `toml:"logs"`

	// Push defines web-push notification settings
	Push PushSettings `toml:"push"`
}

// ShellSettings defines how local shell sessions are launched.
type ShellSettings struct {
	// Command is the shell executable; empty means $SHELL, falling back to /bin/sh
	Command string `toml:"command"`

	// Args are extra arguments passed to the shell
	Args []string `toml:"args"`

	// Env is extra environment for spawned sessions
	Env map[string]string `toml:"env"`

	// Term overrides the TERM value for spawned sessions (default: xterm-256color)
	Term string `toml:"term"`
}

// ResolveCommand returns the shell command to launch, applying fallbacks.
func (s ShellSettings) ResolveCommand() string {
	if s.Command != "" {
		return s.Command
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// ResolveTerm returns the TERM value for spawned sessions.
func (s ShellSettings) ResolveTerm() string {
	if s.Term != "" {
		return s.Term
	}
	return "xterm-256color"
}

// TransportSettings selects the session backend.
type TransportSettings struct {
	// Mode is "local" (pty subprocesses, default) or "remote" (websocket backend)
	Mode string `toml:"mode"`

	// RemoteURL is the base websocket URL for remote mode, e.g. ws://host:8420
	RemoteURL string `toml:"remote_url"`

	// AuthToken authenticates against a remote backend
	AuthToken string `toml:"auth_token"`

	// InputRatePerSec caps input frames sent to a remote backend (default: 200)
	InputRatePerSec int `toml:"input_rate_per_sec"`
}

// GetMode returns the transport mode with the default applied.
func (t TransportSettings) GetMode() string {
	if t.Mode == "" {
		return "local"
	}
	return t.Mode
}

// GetInputRate returns the input rate cap with the default applied.
func (t TransportSettings) GetInputRate() int {
	if t.InputRatePerSec <= 0 {
		return 200
	}
	return t.InputRatePerSec
}

// LogSettings defines debug log configuration.
type LogSettings struct {
	// Level sets the minimum log level: "debug", "info" (default), "warn", "error"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the max size in MB before rotation (default: 10)
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is rotated files to keep (default: 5)
	MaxBackups int `toml:"max_backups"`
}

// PushSettings defines web-push notification configuration.
type PushSettings struct {
	// Enabled turns on "session exited in background" push notices (default: false)
	Enabled bool `toml:"enabled"`

	// Subject is the VAPID subject, a mailto: or https: URL identifying the sender
	Subject string `toml:"subject"`
}

var defaultConfig = Config{
	RestoreTabs:  true,
	ConfirmClose: true,
	Theme:        "dark",
}

// Cache for user config (loaded once, invalidated by Save/Reload)
var (
	cache   *Config
	cacheMu sync.RWMutex
)

// Dir returns the tabdeck data directory (~/.tabdeck, or $TABDECK_HOME).
func Dir() (string, error) {
	if dir := os.Getenv("TABDECK_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".tabdeck"), nil
}

// Path returns the path to the user config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load loads the user configuration from the TOML file.
// Returns cached config after first load. A missing file yields defaults;
// a parse error yields defaults plus the error so the caller can surface it.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cache != nil {
		return cache, nil
	}

	configPath, err := Path()
	if err != nil {
		c := defaultConfig
		cache = &c
		return cache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		c := defaultConfig
		cache = &c
		return cache, nil
	}

	config := defaultConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		c := defaultConfig
		cache = &c
		return cache, fmt.Errorf("config.toml parse error: %w", err)
	}

	cache = &config
	return cache, nil
}

// Reload forces a reload of the user config.
func Reload() (*Config, error) {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
	return Load()
}

// Save writes the config to config.toml using an atomic write pattern
// (temp file + fsync + rename), then clears the cache.
func Save(config *Config) error {
	configPath, err := Path()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# tabdeck configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearCache()
	return nil
}

// ClearCache clears the cached config so the next Load() reads from disk.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}
