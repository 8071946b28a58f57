package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
)

func TestCleanup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tr := NewSessionTracker(db, nil)

	old := testNow.Add(-100 * 24 * time.Hour)
	recent := testNow.Add(-24 * time.Hour)

	withSubs := func(s *collector.Snapshot) *collector.Snapshot {
		s.ActiveApps = []string{"firefox", "code"}
		s.PowerAssertions = []collector.PowerAssertion{{PID: 1, Process: "vlc", Type: "idle"}}
		return s
	}

	// old closed session, then an old session that is still open
	track(t, tr, withSubs(snap(old, 90, false, false)))
	track(t, tr, withSubs(snap(old.Add(time.Hour), 70, false, true)))
	track(t, tr, withSubs(snap(old.Add(2*time.Hour), 95, false, false)))
	mustIngest(t, db, withSubs(snap(recent, 60, false, false)))
	if _, err := db.db.Exec(
		"INSERT INTO discharge_sessions (start_time, start_percentage, end_time, end_percentage, is_active) VALUES (?, 80, ?, 60, 0)",
		recent.Add(-time.Hour).Unix(), recent.Unix(),
	); err != nil {
		t.Fatalf("insert recent session: %v", err)
	}

	res, err := db.Cleanup(ctx, 90)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	want := CleanupResult{
		Cutoff:     testNow.Add(-90 * 24 * time.Hour),
		Snapshots:  3,
		Apps:       6,
		Assertions: 3,
		Sessions:   1,
	}
	if !res.Cutoff.Equal(want.Cutoff) || res.Snapshots != want.Snapshots || res.Apps != want.Apps ||
		res.Assertions != want.Assertions || res.Sessions != want.Sessions {
		t.Fatalf("Cleanup(90) = %+v, want %+v", res, want)
	}
	if res.Total() != 13 {
		t.Fatalf("Total() = %d, want 13", res.Total())
	}

	for table, wantRows := range map[string]int{
		"snapshots":          1,
		"active_apps":        2,
		"power_assertions":   1,
		"discharge_sessions": 2,
	} {
		if got := countRows(t, db, table); got != wantRows {
			t.Fatalf("%s rows after cleanup = %d, want %d", table, got, wantRows)
		}
	}

	active, err := db.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("ActiveSession() error = %v", err)
	}
	if active == nil || !active.StartTime.Equal(old.Add(2*time.Hour)) {
		t.Fatalf("ActiveSession() = %+v, want the old open session kept", active)
	}
}

func TestCleanupKeepsCutoffBoundary(t *testing.T) {
	db := openTestDB(t)
	cutoff := testNow.Add(-90 * 24 * time.Hour)
	mustIngest(t, db, snap(cutoff.Add(-time.Second), 50, false, false))
	mustIngest(t, db, snap(cutoff, 50, false, false))

	res, err := db.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if res.Snapshots != 1 || countRows(t, db, "snapshots") != 1 {
		t.Fatalf("DeleteOlderThan() deleted %d, want only the row before the cutoff", res.Snapshots)
	}
}

func TestCleanupRejectsNonPositiveDays(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Cleanup(context.Background(), 0); !IsValidation(err) {
		t.Fatalf("Cleanup(0) error = %v, want ValidationError", err)
	}
}
