package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.DBPath != "/var/lib/battery-monitor/battery.db" {
		t.Fatalf("unexpected DBPath: %q", cfg.Storage.DBPath)
	}
	if cfg.Storage.HistoryDir != "/var/lib/upower" {
		t.Fatalf("unexpected HistoryDir: %q", cfg.Storage.HistoryDir)
	}
	if cfg.Collection.IntervalSeconds != 60 {
		t.Fatalf("unexpected IntervalSeconds: %d", cfg.Collection.IntervalSeconds)
	}
	if cfg.Collection.TimeoutSeconds != 10 {
		t.Fatalf("unexpected TimeoutSeconds: %d", cfg.Collection.TimeoutSeconds)
	}
	if cfg.Collection.TopApps != 10 {
		t.Fatalf("unexpected TopApps: %d", cfg.Collection.TopApps)
	}
	if cfg.Cleanup.RetentionDays != 90 {
		t.Fatalf("unexpected RetentionDays: %d", cfg.Cleanup.RetentionDays)
	}
	if cfg.Cleanup.IntervalHours != 24 {
		t.Fatalf("unexpected IntervalHours: %d", cfg.Cleanup.IntervalHours)
	}
	if cfg.Analytics.DefaultDays != 7 {
		t.Fatalf("unexpected DefaultDays: %d", cfg.Analytics.DefaultDays)
	}
	if _, err := NormalizeAndValidate(cfg); err != nil {
		t.Fatalf("NormalizeAndValidate(DefaultConfig()) error = %v", err)
	}
}

func TestLoad_OverridesAndKeepsDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[storage]
db_path = "/tmp/test.db"

[collection]
interval_seconds = 30

[analytics]
timezone = "Europe/Berlin"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.DBPath != "/tmp/test.db" {
		t.Fatalf("DBPath = %q, want /tmp/test.db", cfg.Storage.DBPath)
	}
	if cfg.Collection.IntervalSeconds != 30 {
		t.Fatalf("IntervalSeconds = %d, want 30", cfg.Collection.IntervalSeconds)
	}
	if cfg.Collection.TopApps != 10 {
		t.Fatalf("TopApps = %d, want default 10", cfg.Collection.TopApps)
	}
	if cfg.Cleanup.RetentionDays != 90 {
		t.Fatalf("RetentionDays = %d, want default 90", cfg.Cleanup.RetentionDays)
	}
	loc, err := cfg.Analytics.Location()
	if err != nil {
		t.Fatalf("Location() error = %v", err)
	}
	if loc.String() != "Europe/Berlin" {
		t.Fatalf("Location() = %v, want Europe/Berlin", loc)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err == nil {
		t.Fatal("Load() error = nil, want missing file error")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("Load() error = %v, want not-exist error", err)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTempConfig(t, "not = [valid")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() error = nil, want TOML parse error")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		contents   string
		wantErrSub string
	}{
		{
			name: "interval_seconds too small",
			contents: `
[collection]
interval_seconds = 1
`,
			wantErrSub: "collection.interval_seconds must be between 5 and 3600",
		},
		{
			name: "timeout longer than interval",
			contents: `
[collection]
interval_seconds = 30
timeout_seconds = 31
`,
			wantErrSub: "collection.timeout_seconds must be between 1 and 30",
		},
		{
			name: "top_apps must be positive",
			contents: `
[collection]
top_apps = 0
`,
			wantErrSub: "collection.top_apps must be between 1 and 100",
		},
		{
			name: "retention_days must be positive",
			contents: `
[cleanup]
retention_days = 0
`,
			wantErrSub: "cleanup.retention_days must be between 1 and 3650",
		},
		{
			name: "interval_hours must be positive",
			contents: `
[cleanup]
interval_hours = 0
`,
			wantErrSub: "cleanup.interval_hours must be between 1 and 720",
		},
		{
			name: "relative db path",
			contents: `
[storage]
db_path = "battery.db"
`,
			wantErrSub: "storage.db_path must be an absolute path",
		},
		{
			name: "unknown timezone",
			contents: `
[analytics]
timezone = "Mars/Olympus_Mons"
`,
			wantErrSub: "analytics.timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.contents)

			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load() error = nil, want error containing %q", tt.wantErrSub)
			}
			if !strings.Contains(err.Error(), tt.wantErrSub) {
				t.Fatalf("Load() error = %q, want contains %q", err.Error(), tt.wantErrSub)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(cfg, mapLookup(map[string]string{
		"BATTERY_MONITOR_DB_PATH":          "/srv/battery.db",
		"BATTERY_MONITOR_INTERVAL_SECONDS": " 120 ",
		"BATTERY_MONITOR_RETENTION_DAYS":   "30",
		"BATTERY_MONITOR_TIMEZONE":         "UTC",
		"UNRELATED":                        "x",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Storage.DBPath != "/srv/battery.db" || cfg.Collection.IntervalSeconds != 120 ||
		cfg.Cleanup.RetentionDays != 30 || cfg.Analytics.Timezone != "UTC" {
		t.Fatalf("ApplyEnv() cfg = %+v", cfg)
	}
	if cfg.Collection.TopApps != 10 {
		t.Fatalf("TopApps = %d, want default kept", cfg.Collection.TopApps)
	}
}

func TestApplyEnv_BadInt(t *testing.T) {
	err := ApplyEnv(DefaultConfig(), mapLookup(map[string]string{"BATTERY_MONITOR_TOP_APPS": "ten"}))
	if err == nil || !strings.Contains(err.Error(), "BATTERY_MONITOR_TOP_APPS") {
		t.Fatalf("ApplyEnv() error = %v, want error naming the variable", err)
	}
}

func TestLoadWithEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("BATTERY_MONITOR_DEFAULT_DAYS=14\nBATTERY_MONITOR_TOP_APPS=3\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("BATTERY_MONITOR_TOP_APPS", "5")
	// godotenv.Load sets variables in the process environment.
	t.Setenv("BATTERY_MONITOR_DEFAULT_DAYS", "")
	os.Unsetenv("BATTERY_MONITOR_DEFAULT_DAYS")

	cfg, err := LoadWithEnv(filepath.Join(dir, "missing.toml"), envFile)
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}
	if cfg.Analytics.DefaultDays != 14 {
		t.Fatalf("DefaultDays = %d, want 14 from env file", cfg.Analytics.DefaultDays)
	}
	if cfg.Collection.TopApps != 5 {
		t.Fatalf("TopApps = %d, want 5 from the environment", cfg.Collection.TopApps)
	}
	if cfg.Storage.DBPath != DefaultConfig().Storage.DBPath {
		t.Fatalf("DBPath = %q, want default", cfg.Storage.DBPath)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.Cleanup.RetentionDays = 45
	cfg.Analytics.Timezone = "UTC"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Cleanup.RetentionDays != 45 {
		t.Fatalf("RetentionDays = %d, want 45", got.Cleanup.RetentionDays)
	}
	loc, err := got.Analytics.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("Location() = %v, %v, want UTC", loc, err)
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Collection.TopApps = 0
	if err := Save(filepath.Join(t.TempDir(), "config.toml"), cfg); err == nil {
		t.Fatal("Save() error = nil, want validation error")
	}
}

func TestSave_WritesHeaderAndNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# battery-monitor configuration") {
		t.Fatalf("config does not start with the header:\n%s", data)
	}
	if !strings.Contains(string(data), "retention_days = 90") {
		t.Fatalf("config missing retention_days:\n%s", data)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want only config.toml", len(entries))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("config mode = %v, want 0644", info.Mode())
	}
}

func TestSave_EmptyPath(t *testing.T) {
	if err := Save("  ", DefaultConfig()); err == nil {
		t.Fatal("Save() error = nil, want empty path error")
	}
}
