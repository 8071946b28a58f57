// Package monitor runs the sampling loop: collect a snapshot, store it,
// advance the discharge session, and prune old data on a slower schedule.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
	"github.com/cptspacemanspiff/battery-monitor/internal/storage"
)

// Collector takes one snapshot of the machine.
type Collector interface {
	Collect(ctx context.Context) (*collector.Snapshot, error)
}

// Notifier is told about every snapshot that was stored.
type Notifier interface {
	NotifySnapshot(s *collector.Snapshot)
}

// Options tune a Monitor. Zero values fall back to the defaults below.
type Options struct {
	CollectTimeout  time.Duration
	RetentionDays   int
	CleanupInterval time.Duration
	Notifier        Notifier
	Logger          *slog.Logger
}

const (
	defaultCollectTimeout  = 10 * time.Second
	defaultRetentionDays   = 90
	defaultCleanupInterval = 24 * time.Hour
)

type Monitor struct {
	collector Collector
	store     *storage.DB
	tracker   *storage.SessionTracker
	notifier  Notifier
	opts      Options

	collectLog *slog.Logger
	sessionLog *slog.Logger
	cleanupLog *slog.Logger
}

// New wires a Monitor around an open store.
func New(c Collector, store *storage.DB, opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CollectTimeout <= 0 {
		opts.CollectTimeout = defaultCollectTimeout
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = defaultRetentionDays
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	sessionLog := opts.Logger.With("topic", "session")
	return &Monitor{
		collector:  c,
		store:      store,
		tracker:    storage.NewSessionTracker(store, sessionLog),
		notifier:   opts.Notifier,
		opts:       opts,
		collectLog: opts.Logger.With("topic", "collect"),
		sessionLog: sessionLog,
		cleanupLog: opts.Logger.With("topic", "cleanup"),
	}
}

// Tick collects, stores and tracks a single snapshot. A collection failure
// stores nothing. Once collection succeeds the write runs to completion even
// if ctx is cancelled meanwhile.
func (m *Monitor) Tick(ctx context.Context) (*collector.Snapshot, error) {
	cctx, cancel := context.WithTimeout(ctx, m.opts.CollectTimeout)
	snap, err := m.collector.Collect(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	id, tr, err := m.tracker.IngestAndTrack(context.WithoutCancel(ctx), snap)
	if err != nil {
		return nil, err
	}
	m.collectLog.Info("sample",
		"id", id,
		"percentage", snap.Percentage,
		"charging", snap.IsCharging,
		"plugged_in", snap.IsPluggedIn,
		"apps", len(snap.ActiveApps),
		"assertions", len(snap.PowerAssertions))
	if tr != storage.TransitionNone {
		m.sessionLog.Info("discharge session "+tr.String(), "percentage", snap.Percentage)
	}

	if m.notifier != nil {
		m.notifier.NotifySnapshot(snap)
	}
	return snap, nil
}

// Cleanup applies the retention policy once.
func (m *Monitor) Cleanup(ctx context.Context) (storage.CleanupResult, error) {
	res, err := m.store.Cleanup(ctx, m.opts.RetentionDays)
	if err != nil {
		return res, err
	}
	m.cleanupLog.Info("cleanup done",
		"cutoff", res.Cutoff,
		"snapshots", res.Snapshots,
		"apps", res.Apps,
		"assertions", res.Assertions,
		"sessions", res.Sessions)
	return res, nil
}

// Run ticks immediately, then every interval and on every value from wake,
// until ctx is done. Ticks run one at a time; a ticker fire that arrives while
// a tick is running is dropped. wake may be nil.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, wake <-chan struct{}) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(m.opts.CleanupInterval)
	defer cleanup.Stop()

	m.tick(ctx)
	lastTick := time.Now().Round(0)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now().Round(0)
			if gap := now.Sub(lastTick); gap > 3*interval {
				m.collectLog.Info("wall-clock jump detected", "gap_secs", int(gap.Seconds()))
			}
			lastTick = now
			m.tick(ctx)
		case <-wake:
			m.collectLog.Info("wake signal received, sampling now")
			lastTick = time.Now().Round(0)
			m.tick(ctx)
		case <-cleanup.C:
			if _, err := m.Cleanup(ctx); err != nil {
				m.cleanupLog.Error("cleanup failed", "err", err)
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if _, err := m.Tick(ctx); err != nil {
		m.collectLog.Error("tick failed", "err", err)
	}
}
