// Package config loads the global lix settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"lix/internal/artifacts"
)

// EnvConfigDir overrides the config directory.
const EnvConfigDir = "LIX_CONFIG_DIR"

// getConfigDir returns the config directory path.
// Uses LIX_CONFIG_DIR env var if set, otherwise defaults to ~/.lix.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lix")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the global settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default
// settings file if none exists.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path := SettingsPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// Settings represents the global settings
type Settings struct {
	LogLevel               string `yaml:"log_level"`                 // Log level: trace, debug, info, warn, off (default: off)
	BusyTimeout            int    `yaml:"busy_timeout"`              // SQLite busy_timeout (ms), 0 = use default
	CacheSize              int    `yaml:"cache_size"`                // Commit graph cache entries, 0 = use default
	DebugVerifyCommitGraph bool   `yaml:"debug_verify_commit_graph"` // Cycle-check every new commit edge
	DefaultAccount         string `yaml:"default_account"`           // Commit author when the store has no active account
}

// loadDefaultSettings parses default settings from embedded artifact.
func loadDefaultSettings() Settings {
	var settings Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	return settings
}

// Defaults returns the embedded default settings.
func Defaults() *Settings {
	s := loadDefaultSettings()
	return &s
}

// Load reads the global settings file. Falls back to embedded defaults if
// the file doesn't exist; fields missing from the file keep their defaults.
func Load() (*Settings, error) {
	settings := loadDefaultSettings()
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &settings, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", SettingsPath(), err)
	}
	return &settings, nil
}

// Save writes the global settings file.
func Save(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# lix settings\n# See: lix --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}

// Level parses LogLevel. "off" and the empty string return ok=false.
func (s *Settings) Level() (log.Level, bool) {
	return ParseLevel(s.LogLevel)
}

// ParseLevel maps a level name (case insensitive) to a logrus level.
// "off", "none" and "" disable logging.
func ParseLevel(name string) (log.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "off", "none":
		return 0, false
	}
	level, err := log.ParseLevel(name)
	if err != nil {
		return 0, false
	}
	return level, true
}
