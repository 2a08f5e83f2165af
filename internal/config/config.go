package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config captures mirror's runtime settings.
type Config struct {
	Server        string
	FreshnessMS   int
	Push          bool
	Subscriptions []string
	StateDir      string
	Persist       bool
	FlushMS       int
	LogLevel      string
}

const (
	defaultConfigPath  = "~/.config/mirror/config.toml"
	defaultStateDir    = "~/.local/share/mirror"
	defaultServer      = "127.0.0.1:3124"
	defaultFreshnessMS = 1000
	defaultFlushMS     = 2000
	defaultLogLevel    = "info"
)

// DefaultPath returns the config file used when none is given.
func DefaultPath() string {
	return defaultConfigPath
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server:      defaultServer,
		FreshnessMS: defaultFreshnessMS,
		Push:        true,
		StateDir:    mustExpand(defaultStateDir),
		Persist:     true,
		FlushMS:     defaultFlushMS,
		LogLevel:    defaultLogLevel,
	}
}

// Load locates and parses the config, falling back to defaults when missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		Server        string   `toml:"server"`
		FreshnessMS   *int     `toml:"freshness_ms"`
		Push          *bool    `toml:"push"`
		Subscriptions []string `toml:"subscriptions"`
		StateDir      string   `toml:"state_dir"`
		Persist       *bool    `toml:"persist"`
		FlushMS       *int     `toml:"flush_ms"`
		LogLevel      string   `toml:"log_level"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if s := strings.TrimSpace(raw.Server); s != "" {
		cfg.Server = s
	}
	if raw.FreshnessMS != nil {
		if *raw.FreshnessMS < 0 {
			return Config{}, fmt.Errorf("parse config: freshness_ms must not be negative")
		}
		cfg.FreshnessMS = *raw.FreshnessMS
	}
	if raw.Push != nil {
		cfg.Push = *raw.Push
	}
	for _, sub := range raw.Subscriptions {
		if s := strings.TrimSpace(sub); s != "" {
			cfg.Subscriptions = append(cfg.Subscriptions, s)
		}
	}
	if dir := strings.TrimSpace(raw.StateDir); dir != "" {
		cfg.StateDir = mustExpand(dir)
	}
	if raw.Persist != nil {
		cfg.Persist = *raw.Persist
	}
	if raw.FlushMS != nil && *raw.FlushMS > 0 {
		cfg.FlushMS = *raw.FlushMS
	}
	if lvl := strings.ToLower(strings.TrimSpace(raw.LogLevel)); lvl != "" {
		cfg.LogLevel = lvl
	}

	return cfg, nil
}

// Freshness returns the refresh window as a duration.
func (c Config) Freshness() time.Duration {
	return time.Duration(c.FreshnessMS) * time.Millisecond
}

// FlushInterval returns how often the cache is written to disk.
func (c Config) FlushInterval() time.Duration {
	if c.FlushMS <= 0 {
		return defaultFlushMS * time.Millisecond
	}
	return time.Duration(c.FlushMS) * time.Millisecond
}

// DatabasePath returns the path of the persisted cache.
func (c Config) DatabasePath() string {
	return filepath.Join(c.stateDir(), "cache.db")
}

// LogPath returns the path of mirror's own log file.
func (c Config) LogPath() string {
	return filepath.Join(c.stateDir(), "mirror.log")
}

func (c Config) stateDir() string {
	if strings.TrimSpace(c.StateDir) == "" {
		return mustExpand(defaultStateDir)
	}
	return c.StateDir
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
