package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	percentage INTEGER NOT NULL,
	is_charging INTEGER NOT NULL,
	is_plugged_in INTEGER NOT NULL,
	time_remaining_minutes INTEGER,
	cycle_count INTEGER,
	design_capacity_mah INTEGER,
	max_capacity_mah INTEGER,
	current_capacity_mah INTEGER,
	health_percentage REAL,
	voltage_mv INTEGER,
	amperage_ma INTEGER,
	wattage REAL,
	temperature_celsius REAL,
	cpu_usage_percent REAL,
	display_brightness INTEGER
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(timestamp);

CREATE TABLE IF NOT EXISTS active_apps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	app_name TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_active_apps_snapshot ON active_apps(snapshot_id);

CREATE TABLE IF NOT EXISTS power_assertions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	pid INTEGER NOT NULL,
	process TEXT NOT NULL,
	assertion_type TEXT NOT NULL,
	duration TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_assertions_snapshot ON power_assertions(snapshot_id);

CREATE TABLE IF NOT EXISTS discharge_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	start_time INTEGER NOT NULL,
	start_percentage INTEGER NOT NULL,
	end_time INTEGER,
	end_percentage INTEGER,
	duration_minutes INTEGER,
	drain_rate_per_hour REAL,
	avg_wattage REAL,
	avg_cpu_usage REAL,
	is_active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_sessions_start ON discharge_sessions(start_time);
CREATE INDEX IF NOT EXISTS idx_sessions_active ON discharge_sessions(is_active) WHERE is_active = 1;
`

const snapshotColumns = `id, timestamp, percentage, is_charging, is_plugged_in,
	time_remaining_minutes, cycle_count, design_capacity_mah, max_capacity_mah,
	current_capacity_mah, health_percentage, voltage_mv, amperage_ma, wattage,
	temperature_celsius, cpu_usage_percent, display_brightness`

// DB wraps a SQLite database holding battery snapshots and discharge sessions.
type DB struct {
	db  *sql.DB
	now func() time.Time
	loc *time.Location
}

// Option configures a DB.
type Option func(*DB)

// WithClock replaces time.Now for window calculations.
func WithClock(now func() time.Time) Option {
	return func(d *DB) { d.now = now }
}

// WithLocation sets the location used to bucket snapshots by day and hour.
func WithLocation(loc *time.Location) Option {
	return func(d *DB) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// Open opens or creates the SQLite database at the given path. Write
// transactions take the database lock up front (BEGIN IMMEDIATE).
func Open(path string, opts ...Option) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open db", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storageErr("init schema", err)
	}
	d := &DB{db: db, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Location returns the location used for day and hour buckets.
func (d *DB) Location() *time.Location {
	return d.loc
}

// Ingest validates s and stores it with its active apps and power assertions
// in one transaction. It sets s.ID and returns the new id. Health is derived
// from the capacities when the collector did not provide it.
func (d *DB) Ingest(ctx context.Context, s *collector.Snapshot) (int64, error) {
	if s == nil {
		return 0, invalid("snapshot", "nil")
	}
	if err := validateSnapshot(s); err != nil {
		return 0, err
	}
	if s.HealthPercentage == nil && s.DesignCapacityMAh != nil && s.MaxCapacityMAh != nil && *s.DesignCapacityMAh > 0 {
		s.HealthPercentage = collector.Ptr(roundTo(float64(*s.MaxCapacityMAh)/float64(*s.DesignCapacityMAh)*100, 1))
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("ingest: begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO snapshots (
		timestamp, percentage, is_charging, is_plugged_in,
		time_remaining_minutes, cycle_count, design_capacity_mah, max_capacity_mah,
		current_capacity_mah, health_percentage, voltage_mv, amperage_ma, wattage,
		temperature_celsius, cpu_usage_percent, display_brightness
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Timestamp.Unix(), s.Percentage, boolInt(s.IsCharging), boolInt(s.IsPluggedIn),
		nullable(s.TimeRemainingMinutes), nullable(s.CycleCount), nullable(s.DesignCapacityMAh),
		nullable(s.MaxCapacityMAh), nullable(s.CurrentCapacityMAh), nullable(s.HealthPercentage),
		nullable(s.VoltageMV), nullable(s.AmperageMA), nullable(s.Wattage),
		nullable(s.TemperatureCelsius), nullable(s.CPUUsagePercent), nullable(s.DisplayBrightness),
	)
	if err != nil {
		return 0, storageErr("ingest: insert snapshot", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("ingest: snapshot id", err)
	}

	for _, app := range s.ActiveApps {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO active_apps (snapshot_id, app_name) VALUES (?, ?)", id, app,
		); err != nil {
			return 0, storageErr("ingest: insert app", err)
		}
	}
	for _, a := range s.PowerAssertions {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO power_assertions (snapshot_id, pid, process, assertion_type, duration, reason) VALUES (?, ?, ?, ?, ?, ?)",
			id, a.PID, a.Process, a.Type, a.Duration, a.Reason,
		); err != nil {
			return 0, storageErr("ingest: insert assertion", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("ingest: commit", err)
	}
	s.ID = id
	return id, nil
}

func validateSnapshot(s *collector.Snapshot) error {
	if s.Timestamp.IsZero() || s.Timestamp.Unix() <= 0 {
		return invalid("timestamp", "missing")
	}
	if s.Percentage < 0 || s.Percentage > 100 {
		return invalid("percentage", "%d outside 0-100", s.Percentage)
	}
	nonNegative := []struct {
		field string
		v     *int64
	}{
		{"time_remaining_minutes", s.TimeRemainingMinutes},
		{"cycle_count", s.CycleCount},
		{"design_capacity_mah", s.DesignCapacityMAh},
		{"max_capacity_mah", s.MaxCapacityMAh},
		{"current_capacity_mah", s.CurrentCapacityMAh},
	}
	for _, f := range nonNegative {
		if f.v != nil && *f.v < 0 {
			return invalid(f.field, "%d is negative", *f.v)
		}
	}
	if s.Wattage != nil && *s.Wattage < 0 {
		return invalid("wattage", "%g is negative", *s.Wattage)
	}
	if s.DisplayBrightness != nil && *s.DisplayBrightness < collector.UnknownBrightness {
		return invalid("display_brightness", "%d below -1", *s.DisplayBrightness)
	}
	for _, app := range s.ActiveApps {
		if app == "" {
			return invalid("active_apps", "empty app name")
		}
	}
	return nil
}

// Latest returns the most recent snapshot with its sub-records, or nil if
// the store is empty.
func (d *DB) Latest(ctx context.Context) (*collector.Snapshot, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots ORDER BY timestamp DESC, id DESC LIMIT 1")
	s, err := d.scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("latest snapshot", err)
	}
	if err := d.loadSubRecords(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns one snapshot by id with its sub-records.
func (d *DB) Snapshot(ctx context.Context, id int64) (*collector.Snapshot, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+snapshotColumns+" FROM snapshots WHERE id = ?", id)
	s, err := d.scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get snapshot", err)
	}
	if err := d.loadSubRecords(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Range returns snapshots with start <= timestamp <= end in ascending order.
// Sub-records are not loaded.
func (d *DB) Range(ctx context.Context, start, end time.Time) ([]collector.Snapshot, error) {
	var snaps []collector.Snapshot
	err := d.RangeFunc(ctx, start, end, func(s collector.Snapshot) error {
		snaps = append(snaps, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// RangeFunc streams the snapshots Range would return to fn. An error from fn
// stops the iteration and is returned as is.
func (d *DB) RangeFunc(ctx context.Context, start, end time.Time, fn func(collector.Snapshot) error) error {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id",
		start.Unix(), end.Unix(),
	)
	if err != nil {
		return storageErr("range snapshots", err)
	}
	defer rows.Close()
	for rows.Next() {
		s, err := d.scanSnapshot(rows)
		if err != nil {
			return storageErr("scan snapshot", err)
		}
		if err := fn(*s); err != nil {
			return err
		}
	}
	return storageErr("range snapshots", rows.Err())
}

// LastHours returns the snapshots of the trailing n hours.
func (d *DB) LastHours(ctx context.Context, n int) ([]collector.Snapshot, error) {
	if n < 1 {
		return nil, invalid("hours", "%d must be positive", n)
	}
	now := d.now()
	return d.Range(ctx, now.Add(-time.Duration(n)*time.Hour), now)
}

// SnapshotApps returns the active app names recorded with a snapshot.
func (d *DB) SnapshotApps(ctx context.Context, id int64) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT app_name FROM active_apps WHERE snapshot_id = ? ORDER BY id", id)
	if err != nil {
		return nil, storageErr("snapshot apps", err)
	}
	defer rows.Close()
	var apps []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr("scan app", err)
		}
		apps = append(apps, name)
	}
	return apps, storageErr("snapshot apps", rows.Err())
}

// SnapshotAssertions returns the power assertions recorded with a snapshot.
func (d *DB) SnapshotAssertions(ctx context.Context, id int64) ([]collector.PowerAssertion, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT pid, process, assertion_type, duration, reason FROM power_assertions WHERE snapshot_id = ? ORDER BY id", id)
	if err != nil {
		return nil, storageErr("snapshot assertions", err)
	}
	defer rows.Close()
	var out []collector.PowerAssertion
	for rows.Next() {
		var a collector.PowerAssertion
		if err := rows.Scan(&a.PID, &a.Process, &a.Type, &a.Duration, &a.Reason); err != nil {
			return nil, storageErr("scan assertion", err)
		}
		out = append(out, a)
	}
	return out, storageErr("snapshot assertions", rows.Err())
}

func (d *DB) loadSubRecords(ctx context.Context, s *collector.Snapshot) error {
	apps, err := d.SnapshotApps(ctx, s.ID)
	if err != nil {
		return err
	}
	assertions, err := d.SnapshotAssertions(ctx, s.ID)
	if err != nil {
		return err
	}
	s.ActiveApps = apps
	s.PowerAssertions = assertions
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (d *DB) scanSnapshot(row rowScanner) (*collector.Snapshot, error) {
	var (
		s                 collector.Snapshot
		ts                int64
		charging, plugged int
	)
	err := row.Scan(&s.ID, &ts, &s.Percentage, &charging, &plugged,
		&s.TimeRemainingMinutes, &s.CycleCount, &s.DesignCapacityMAh, &s.MaxCapacityMAh,
		&s.CurrentCapacityMAh, &s.HealthPercentage, &s.VoltageMV, &s.AmperageMA, &s.Wattage,
		&s.TemperatureCelsius, &s.CPUUsagePercent, &s.DisplayBrightness)
	if err != nil {
		return nil, err
	}
	s.Timestamp = time.Unix(ts, 0).In(d.loc)
	s.IsCharging = charging != 0
	s.IsPluggedIn = plugged != 0
	return &s, nil
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
