// Package config loads Curio settings from a TOML file with environment
// overrides.
//
// Resolution order:
//  1. Built-in defaults.
//  2. The TOML file (default ~/.config/curio/config.toml); a missing file is not an error.
//  3. CURIO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds runtime settings for the desktop server.
type Config struct {
	Addr           string
	DataDir        string
	RedisURL       string
	LogLevel       string
	LogFormat      string
	PreviewTimeout time.Duration
	UploadWorkers  int
}

const (
	defaultConfigPath     = "~/.config/curio/config.toml"
	defaultDataDir        = "~/.local/share/curio"
	defaultAddr           = "127.0.0.1:8090"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultPreviewTimeout = 10 * time.Second
	defaultUploadWorkers  = 4
)

type fileConfig struct {
	Addr                  string `toml:"addr"`
	DataDir               string `toml:"data_dir"`
	RedisURL              string `toml:"redis_url"`
	LogLevel              string `toml:"log_level"`
	LogFormat             string `toml:"log_format"`
	PreviewTimeoutSeconds int    `toml:"preview_timeout_seconds"`
	UploadWorkers         int    `toml:"upload_workers"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:           defaultAddr,
		DataDir:        mustExpand(defaultDataDir),
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
		PreviewTimeout: defaultPreviewTimeout,
		UploadWorkers:  defaultUploadWorkers,
	}
}

// Load reads path (or the default location when empty), then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		var raw fileConfig
		if err := toml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
		cfg.apply(raw)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) apply(raw fileConfig) {
	if v := strings.TrimSpace(raw.Addr); v != "" {
		c.Addr = v
	}
	if v := strings.TrimSpace(raw.DataDir); v != "" {
		c.DataDir = mustExpand(v)
	}
	c.RedisURL = strings.TrimSpace(raw.RedisURL)
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(raw.LogFormat); v != "" {
		c.LogFormat = v
	}
	if raw.PreviewTimeoutSeconds > 0 {
		c.PreviewTimeout = time.Duration(raw.PreviewTimeoutSeconds) * time.Second
	}
	if raw.UploadWorkers > 0 {
		c.UploadWorkers = raw.UploadWorkers
	}
}

func (c *Config) applyEnv() {
	c.Addr = getenv("CURIO_ADDR", c.Addr)
	if v := getenv("CURIO_DATA_DIR", ""); v != "" {
		c.DataDir = mustExpand(v)
	}
	c.RedisURL = getenv("CURIO_REDIS_URL", c.RedisURL)
	c.LogLevel = getenv("CURIO_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("CURIO_LOG_FORMAT", c.LogFormat)
	if secs := getenvInt("CURIO_PREVIEW_TIMEOUT_SECONDS", 0); secs > 0 {
		c.PreviewTimeout = time.Duration(secs) * time.Second
	}
	if n := getenvInt("CURIO_UPLOAD_WORKERS", 0); n > 0 {
		c.UploadWorkers = n
	}
}

// CloudEnabled reports whether a remote store is configured.
func (c Config) CloudEnabled() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
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
