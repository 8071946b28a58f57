package storage

import (
	"context"
	"time"
)

// CleanupResult counts the rows removed by one retention pass.
type CleanupResult struct {
	Cutoff     time.Time `json:"cutoff" yaml:"cutoff"`
	Snapshots  int64     `json:"snapshots" yaml:"snapshots"`
	Apps       int64     `json:"apps" yaml:"apps"`
	Assertions int64     `json:"assertions" yaml:"assertions"`
	Sessions   int64     `json:"sessions" yaml:"sessions"`
}

// Total returns the number of rows removed across all tables.
func (r CleanupResult) Total() int64 {
	return r.Snapshots + r.Apps + r.Assertions + r.Sessions
}

// Cleanup deletes everything older than retentionDays and then compacts the
// database file. The active session is kept whatever its age.
func (d *DB) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	if retentionDays < 1 {
		return CleanupResult{}, invalid("retention_days", "%d must be positive", retentionDays)
	}
	cutoff := d.now().Add(-time.Duration(retentionDays) * 24 * time.Hour).In(d.loc)
	res, err := d.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return CleanupResult{}, err
	}
	if err := d.Compact(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// DeleteOlderThan removes, in one transaction, the snapshots taken before
// cutoff together with their sub-records, then the closed sessions that
// started before cutoff. Children go first so nothing is orphaned.
func (d *DB) DeleteOlderThan(ctx context.Context, cutoff time.Time) (CleanupResult, error) {
	res := CleanupResult{Cutoff: cutoff}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return CleanupResult{}, storageErr("cleanup: begin tx", err)
	}
	defer tx.Rollback()

	steps := []struct {
		table string
		query string
		count *int64
	}{
		{"power_assertions", "DELETE FROM power_assertions WHERE snapshot_id IN (SELECT id FROM snapshots WHERE timestamp < ?)", &res.Assertions},
		{"active_apps", "DELETE FROM active_apps WHERE snapshot_id IN (SELECT id FROM snapshots WHERE timestamp < ?)", &res.Apps},
		{"snapshots", "DELETE FROM snapshots WHERE timestamp < ?", &res.Snapshots},
		{"discharge_sessions", "DELETE FROM discharge_sessions WHERE is_active = 0 AND start_time < ?", &res.Sessions},
	}
	for _, s := range steps {
		r, err := tx.ExecContext(ctx, s.query, cutoff.Unix())
		if err != nil {
			return CleanupResult{}, storageErr("cleanup: delete from "+s.table, err)
		}
		*s.count, _ = r.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return CleanupResult{}, storageErr("cleanup: commit", err)
	}
	return res, nil
}

// Compact rebuilds the database file to reclaim space freed by deletes.
func (d *DB) Compact(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, "VACUUM")
	return storageErr("compact", err)
}
