package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultPath is where the daemon and CLI look for a config file.
const DefaultPath = "/etc/battery-monitor/config.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BATTERY_MONITOR_"

const (
	minCollectionIntervalSeconds = 5
	maxCollectionIntervalSeconds = 3600
	minCollectionTimeoutSeconds  = 1
	minTopApps                   = 1
	maxTopApps                   = 100
	minRetentionDays             = 1
	maxRetentionDays             = 3650
	minCleanupIntervalHours      = 1
	maxCleanupIntervalHours      = 720
	minDefaultDays               = 1
	maxDefaultDays               = 365
)

type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Collection CollectionConfig `toml:"collection"`
	Cleanup    CleanupConfig    `toml:"cleanup"`
	Analytics  AnalyticsConfig  `toml:"analytics"`
}

type StorageConfig struct {
	DBPath     string `toml:"db_path"`
	HistoryDir string `toml:"history_dir"`
}

type CollectionConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
	TopApps         int `toml:"top_apps"`
}

type CleanupConfig struct {
	RetentionDays int `toml:"retention_days"`
	IntervalHours int `toml:"interval_hours"`
}

type AnalyticsConfig struct {
	// Timezone is an IANA name; empty or "Local" uses the system zone.
	Timezone    string `toml:"timezone"`
	DefaultDays int    `toml:"default_days"`
}

// Location resolves Timezone.
func (a AnalyticsConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(a.Timezone)
	if tz == "" || tz == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("analytics.timezone: %w", err)
	}
	return loc, nil
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath:     "/var/lib/battery-monitor/battery.db",
			HistoryDir: "/var/lib/upower",
		},
		Collection: CollectionConfig{
			IntervalSeconds: 60,
			TimeoutSeconds:  10,
			TopApps:         10,
		},
		Cleanup: CleanupConfig{
			RetentionDays: 90,
			IntervalHours: 24,
		},
		Analytics: AnalyticsConfig{
			DefaultDays: 7,
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

// LoadWithEnv is Load with a missing file treated as all defaults and the
// environment applied on top. envFile, if it exists, is loaded into the
// environment first; variables already set win over it.
func LoadWithEnv(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

// ApplyEnv overrides cfg from BATTERY_MONITOR_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"DB_PATH", &cfg.Storage.DBPath},
		{"HISTORY_DIR", &cfg.Storage.HistoryDir},
		{"TIMEZONE", &cfg.Analytics.Timezone},
	}
	for _, s := range strs {
		if v, ok := lookup(EnvPrefix + s.key); ok {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"INTERVAL_SECONDS", &cfg.Collection.IntervalSeconds},
		{"TIMEOUT_SECONDS", &cfg.Collection.TimeoutSeconds},
		{"TOP_APPS", &cfg.Collection.TopApps},
		{"RETENTION_DAYS", &cfg.Cleanup.RetentionDays},
		{"CLEANUP_INTERVAL_HOURS", &cfg.Cleanup.IntervalHours},
		{"DEFAULT_DAYS", &cfg.Analytics.DefaultDays},
	}
	for _, i := range ints {
		v, ok := lookup(EnvPrefix + i.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, i.key, err)
		}
		*i.dst = n
	}
	return nil
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	var err error
	sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	sanitized.Storage.HistoryDir, err = sanitizePath("storage.history_dir", sanitized.Storage.HistoryDir)
	if err != nil {
		return nil, err
	}

	if err := validateRange("collection.interval_seconds", sanitized.Collection.IntervalSeconds, minCollectionIntervalSeconds, maxCollectionIntervalSeconds); err != nil {
		return nil, err
	}
	if err := validateRange("collection.timeout_seconds", sanitized.Collection.TimeoutSeconds, minCollectionTimeoutSeconds, sanitized.Collection.IntervalSeconds); err != nil {
		return nil, err
	}
	if err := validateRange("collection.top_apps", sanitized.Collection.TopApps, minTopApps, maxTopApps); err != nil {
		return nil, err
	}
	if err := validateRange("cleanup.retention_days", sanitized.Cleanup.RetentionDays, minRetentionDays, maxRetentionDays); err != nil {
		return nil, err
	}
	if err := validateRange("cleanup.interval_hours", sanitized.Cleanup.IntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours); err != nil {
		return nil, err
	}
	if err := validateRange("analytics.default_days", sanitized.Analytics.DefaultDays, minDefaultDays, maxDefaultDays); err != nil {
		return nil, err
	}
	sanitized.Analytics.Timezone = strings.TrimSpace(sanitized.Analytics.Timezone)
	if _, err := sanitized.Analytics.Location(); err != nil {
		return nil, err
	}

	return &sanitized, nil
}

// Encode validates cfg and writes it as commented TOML.
func Encode(w io.Writer, cfg *Config) error {
	valid, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "# battery-monitor configuration\n# %s* environment variables override these values.\n\n", EnvPrefix)
	if err := toml.NewEncoder(w).Encode(valid); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}
	return nil
}

// Save writes cfg to path, replacing any existing file atomically.
func Save(path string, cfg *Config) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("config path must not be empty")
	}
	var buf bytes.Buffer
	if err := Encode(&buf, cfg); err != nil {
		return err
	}
	return writeAtomic(path, buf.Bytes(), 0o644)
}

func writeAtomic(path string, data []byte, perm fs.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}
	if err = f.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", f.Name(), err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.Name(), err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}
