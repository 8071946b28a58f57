package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
)

// DischargeSession is a stretch of on-battery use bounded by plug-in events.
// The end fields stay nil while the session is active.
type DischargeSession struct {
	ID               int64      `json:"id" yaml:"id"`
	StartTime        time.Time  `json:"start_time" yaml:"start_time"`
	StartPercentage  int        `json:"start_percentage" yaml:"start_percentage"`
	EndTime          *time.Time `json:"end_time" yaml:"end_time"`
	EndPercentage    *int64     `json:"end_percentage" yaml:"end_percentage"`
	DurationMinutes  *int64     `json:"duration_minutes" yaml:"duration_minutes"`
	DrainRatePerHour *float64   `json:"drain_rate_per_hour" yaml:"drain_rate_per_hour"`
	AvgWattage       *float64   `json:"avg_wattage" yaml:"avg_wattage"`
	AvgCPUUsage      *float64   `json:"avg_cpu_usage" yaml:"avg_cpu_usage"`
	IsActive         bool       `json:"is_active" yaml:"is_active"`
}

// Transition describes what Observe did to the session table.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionOpened
	TransitionClosed
)

func (t Transition) String() string {
	switch t {
	case TransitionOpened:
		return "opened"
	case TransitionClosed:
		return "closed"
	default:
		return "none"
	}
}

const sessionColumns = `id, start_time, start_percentage, end_time, end_percentage,
	duration_minutes, drain_rate_per_hour, avg_wattage, avg_cpu_usage, is_active`

// SessionTracker derives discharge sessions from the ingested snapshot
// stream. At most one session is active at any time.
type SessionTracker struct {
	mu  sync.Mutex
	db  *DB
	log *slog.Logger
}

// NewSessionTracker creates a tracker over db.
func NewSessionTracker(db *DB, logger *slog.Logger) *SessionTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionTracker{db: db, log: logger}
}

// Observe advances the session state machine with one stored snapshot.
// Snapshots must be observed in ingestion order. A snapshot on external
// power closes the active session; one on battery opens a session when none
// is active. Anything else is a no-op.
func (t *SessionTracker) Observe(ctx context.Context, s *collector.Snapshot) (Transition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.db.db.BeginTx(ctx, nil)
	if err != nil {
		return TransitionNone, storageErr("observe: begin tx", err)
	}
	defer tx.Rollback()

	active, err := t.db.activeSession(ctx, tx)
	if err != nil {
		return TransitionNone, err
	}

	var tr Transition
	switch {
	case s.OnExternalPower() && active != nil:
		if err := closeSession(ctx, tx, active, s); err != nil {
			return TransitionNone, err
		}
		tr = TransitionClosed
	case !s.OnExternalPower() && active == nil:
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO discharge_sessions (start_time, start_percentage, is_active) VALUES (?, ?, 1)",
			s.Timestamp.Unix(), s.Percentage,
		); err != nil {
			return TransitionNone, storageErr("observe: open session", err)
		}
		tr = TransitionOpened
	default:
		return TransitionNone, nil
	}

	if err := tx.Commit(); err != nil {
		return TransitionNone, storageErr("observe: commit", err)
	}
	t.log.Debug("discharge session "+tr.String(), "percentage", s.Percentage, "at", s.Timestamp)
	return tr, nil
}

// IngestAndTrack stores s and then feeds it to Observe.
func (t *SessionTracker) IngestAndTrack(ctx context.Context, s *collector.Snapshot) (int64, Transition, error) {
	id, err := t.db.Ingest(ctx, s)
	if err != nil {
		return 0, TransitionNone, err
	}
	tr, err := t.Observe(ctx, s)
	if err != nil {
		return id, TransitionNone, err
	}
	return id, tr, nil
}

// ActiveSession returns the open discharge session, or nil.
func (t *SessionTracker) ActiveSession(ctx context.Context) (*DischargeSession, error) {
	return t.db.ActiveSession(ctx)
}

// ActiveSession returns the open discharge session, or nil.
func (d *DB) ActiveSession(ctx context.Context) (*DischargeSession, error) {
	return d.activeSession(ctx, d.db)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) activeSession(ctx context.Context, q queryRower) (*DischargeSession, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM discharge_sessions WHERE is_active = 1 ORDER BY id LIMIT 1")
	sess, err := d.scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("active session", err)
	}
	return sess, nil
}

// closeSession writes the end fields. Averages cover every snapshot between
// the start and s inclusive, s itself included.
func closeSession(ctx context.Context, tx *sql.Tx, active *DischargeSession, s *collector.Snapshot) error {
	elapsed := s.Timestamp.Sub(active.StartTime)
	duration := max(int64(elapsed/time.Minute), 0)
	drain := active.StartPercentage - s.Percentage
	rate := 0.0
	if duration > 0 {
		rate = roundTo(float64(drain)/(float64(duration)/60), 2)
	}

	var avgWatt, avgCPU sql.NullFloat64
	err := tx.QueryRowContext(ctx,
		"SELECT AVG(wattage), AVG(cpu_usage_percent) FROM snapshots WHERE timestamp >= ? AND timestamp <= ?",
		active.StartTime.Unix(), s.Timestamp.Unix(),
	).Scan(&avgWatt, &avgCPU)
	if err != nil {
		return storageErr("observe: session averages", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE discharge_sessions
		SET end_time = ?, end_percentage = ?, duration_minutes = ?, drain_rate_per_hour = ?,
			avg_wattage = ?, avg_cpu_usage = ?, is_active = 0
		WHERE id = ? AND is_active = 1`,
		s.Timestamp.Unix(), s.Percentage, duration, rate, avgWatt, avgCPU, active.ID,
	)
	return storageErr("observe: close session", err)
}

func (d *DB) scanSession(row rowScanner) (*DischargeSession, error) {
	var (
		sess     DischargeSession
		start    int64
		end      sql.NullInt64
		isActive int
	)
	err := row.Scan(&sess.ID, &start, &sess.StartPercentage, &end, &sess.EndPercentage,
		&sess.DurationMinutes, &sess.DrainRatePerHour, &sess.AvgWattage, &sess.AvgCPUUsage, &isActive)
	if err != nil {
		return nil, err
	}
	sess.StartTime = time.Unix(start, 0).In(d.loc)
	if end.Valid {
		t := time.Unix(end.Int64, 0).In(d.loc)
		sess.EndTime = &t
	}
	sess.IsActive = isActive != 0
	return &sess, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
