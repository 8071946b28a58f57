package storage

import (
	"context"
	"database/sql"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
)

// ImportResult counts what Import did with each event.
type ImportResult struct {
	Imported int `json:"imported" yaml:"imported"`
	Skipped  int `json:"skipped" yaml:"skipped"`
	Invalid  int `json:"invalid" yaml:"invalid"`
}

const (
	insertEventSQL = `INSERT INTO snapshots (timestamp, percentage, is_charging, is_plugged_in)
		VALUES (?, ?, ?, ?)`
	insertEventIfNewSQL = `INSERT INTO snapshots (timestamp, percentage, is_charging, is_plugged_in)
		SELECT ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM snapshots WHERE timestamp = ?)`
)

// Import stores coarse history events as snapshots with only timestamp,
// percentage and charge state set. With avoidDuplicates an event whose
// timestamp is already stored is skipped; the check and the insert are one
// statement. Malformed events are counted and skipped, but if no event is
// usable Import fails before writing anything.
func (d *DB) Import(ctx context.Context, events []collector.HistoryEvent, avoidDuplicates bool) (ImportResult, error) {
	var res ImportResult
	if len(events) == 0 {
		return res, nil
	}

	valid := make([]collector.HistoryEvent, 0, len(events))
	for _, e := range events {
		if e.Timestamp.IsZero() || e.Timestamp.Unix() <= 0 || e.Percentage < 0 || e.Percentage > 100 {
			res.Invalid++
			continue
		}
		valid = append(valid, e)
	}
	if len(valid) == 0 {
		return res, invalid("events", "all %d events are malformed", len(events))
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return ImportResult{}, storageErr("import: begin tx", err)
	}
	defer tx.Rollback()

	query := insertEventSQL
	if avoidDuplicates {
		query = insertEventIfNewSQL
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return ImportResult{}, storageErr("import: prepare", err)
	}
	defer stmt.Close()

	for _, e := range valid {
		ts := e.Timestamp.Unix()
		args := []any{ts, e.Percentage, boolInt(e.IsCharging), boolInt(e.IsPluggedIn)}
		if avoidDuplicates {
			args = append(args, ts)
		}
		r, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return ImportResult{}, storageErr("import: insert", err)
		}
		if inserted(r) {
			res.Imported++
		} else {
			res.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return ImportResult{}, storageErr("import: commit", err)
	}
	return res, nil
}

func inserted(r sql.Result) bool {
	n, err := r.RowsAffected()
	return err == nil && n > 0
}
