package storage

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
)

func TestSummaryEmpty(t *testing.T) {
	db := openTestDB(t)

	sum, err := db.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if sum.TotalSnapshots != 0 || sum.FirstSnapshotTS != nil || sum.LastSnapshotTS != nil ||
		sum.CurrentCycleCount != nil || sum.AvgHealth != 0 || sum.AvgDischargeWattage != 0 {
		t.Fatalf("Summary() on empty store = %+v, want zero values", sum)
	}
}

func TestSummary(t *testing.T) {
	db := openTestDB(t)
	first := testNow.Add(-48 * time.Hour)

	a := snap(first, 90, false, false)
	a.Wattage = collector.Ptr(10.0)
	a.CycleCount = collector.Ptr(int64(100))
	a.HealthPercentage = collector.Ptr(92.0)
	b := snap(testNow.Add(-time.Hour), 70, true, true)
	b.Wattage = collector.Ptr(40.0)
	b.CycleCount = collector.Ptr(int64(101))
	b.HealthPercentage = collector.Ptr(90.0)
	c := snap(testNow, 60, false, false)
	c.Wattage = collector.Ptr(14.0)
	for _, s := range []*collector.Snapshot{a, b, c} {
		mustIngest(t, db, s)
	}

	sum, err := db.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if sum.TotalSnapshots != 3 {
		t.Fatalf("TotalSnapshots = %d, want 3", sum.TotalSnapshots)
	}
	if !sum.FirstSnapshotTS.Equal(first) || !sum.LastSnapshotTS.Equal(testNow) {
		t.Fatalf("first/last = %v / %v, want %v / %v", sum.FirstSnapshotTS, sum.LastSnapshotTS, first, testNow)
	}
	if sum.CurrentCycleCount == nil || *sum.CurrentCycleCount != 101 {
		t.Fatalf("CurrentCycleCount = %v, want 101", sum.CurrentCycleCount)
	}
	if sum.AvgHealth != 91 {
		t.Fatalf("AvgHealth = %v, want 91", sum.AvgHealth)
	}
	if sum.AvgDischargeWattage != 12 {
		t.Fatalf("AvgDischargeWattage = %v, want 12 (charging sample excluded)", sum.AvgDischargeWattage)
	}
}

func seedDaily(t *testing.T, db *DB) {
	t.Helper()
	day := func(d, h int) time.Time { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC) }

	rows := []struct {
		ts       time.Time
		pct      int
		charging bool
		watt     *float64
		cpu      *float64
		temp     *float64
	}{
		{day(15, 8), 90, false, collector.Ptr(10.0), collector.Ptr(20.0), collector.Ptr(30.0)},
		{day(15, 9), 80, false, collector.Ptr(14.0), nil, collector.Ptr(32.0)},
		{day(15, 10), 85, true, nil, collector.Ptr(40.0), nil},
		{day(14, 22), 50, false, collector.Ptr(8.0), collector.Ptr(5.0), collector.Ptr(29.0)},
		{day(1, 12), 10, false, collector.Ptr(99.0), nil, nil},
	}
	for _, r := range rows {
		s := snap(r.ts, r.pct, r.charging, r.charging)
		s.Wattage, s.CPUUsagePercent, s.TemperatureCelsius = r.watt, r.cpu, r.temp
		mustIngest(t, db, s)
	}
}

func TestDailyStats(t *testing.T) {
	db := openTestDB(t)
	seedDaily(t, db)

	stats, err := db.DailyStats(context.Background(), 7)
	if err != nil {
		t.Fatalf("DailyStats() error = %v", err)
	}
	want := []DailyStat{
		{
			Date: "2026-03-15", MinPercentage: 80, MaxPercentage: 90, AvgPercentage: 85,
			AvgWattage: 12, AvgCPU: 30, AvgTemp: 31, SampleCount: 3, DischargeSampleCount: 2,
		},
		{
			Date: "2026-03-14", MinPercentage: 50, MaxPercentage: 50, AvgPercentage: 50,
			AvgWattage: 8, AvgCPU: 5, AvgTemp: 29, SampleCount: 1, DischargeSampleCount: 1,
		},
	}
	if !reflect.DeepEqual(stats, want) {
		t.Fatalf("DailyStats(7) = %+v\nwant %+v", stats, want)
	}
}

func TestDailyStatsUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	db := openTestDB(t, WithLocation(loc))
	// 22:30 UTC on the 14th is 01:30 on the 15th at +3.
	mustIngest(t, db, snap(time.Date(2026, 3, 14, 22, 30, 0, 0, time.UTC), 70, false, false))

	stats, err := db.DailyStats(context.Background(), 1)
	if err != nil {
		t.Fatalf("DailyStats() error = %v", err)
	}
	if len(stats) != 1 || stats[0].Date != "2026-03-15" {
		t.Fatalf("DailyStats() = %+v, want one row dated 2026-03-15", stats)
	}
}

func TestDrainPatterns(t *testing.T) {
	db := openTestDB(t)
	at := func(h, m int) time.Time { return time.Date(2026, 3, 15, h, m, 0, 0, time.UTC) }

	seq := []struct {
		ts       time.Time
		pct      int
		charging bool
		watt     *float64
	}{
		{at(9, 0), 80, false, collector.Ptr(9.0)},
		{at(9, 10), 78, false, collector.Ptr(10.0)},
		{at(9, 20), 79, true, collector.Ptr(30.0)},
		{at(9, 30), 77, false, collector.Ptr(14.0)},
		{at(10, 0), 77, false, collector.Ptr(50.0)},
		{at(10, 10), 78, false, collector.Ptr(50.0)},
		{at(10, 20), 75, false, nil},
	}
	for _, r := range seq {
		s := snap(r.ts, r.pct, r.charging, r.charging)
		s.Wattage = r.watt
		mustIngest(t, db, s)
	}

	got, err := db.DrainPatterns(context.Background())
	if err != nil {
		t.Fatalf("DrainPatterns() error = %v", err)
	}
	want := []DrainPattern{
		{HourOfDay: 9, AvgDrainPerSample: -2, AvgWattage: 12, SampleCount: 2},
		{HourOfDay: 10, AvgDrainPerSample: -3, AvgWattage: 0, SampleCount: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DrainPatterns() = %+v\nwant %+v", got, want)
	}
}

func TestDrainPatternsEmpty(t *testing.T) {
	db := openTestDB(t)
	mustIngest(t, db, snap(testNow, 50, false, false))

	got, err := db.DrainPatterns(context.Background())
	if err != nil {
		t.Fatalf("DrainPatterns() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("DrainPatterns() = %#v, want empty non-nil slice", got)
	}
}

func TestAppFrequency(t *testing.T) {
	db := openTestDB(t)
	add := func(ts time.Time, charging bool, watt float64, apps ...string) {
		s := snap(ts, 50, charging, charging)
		s.Wattage = collector.Ptr(watt)
		s.ActiveApps = apps
		mustIngest(t, db, s)
	}
	add(testNow.Add(-3*time.Hour), false, 10, "firefox", "slack")
	add(testNow.Add(-2*time.Hour), false, 20, "firefox", "code")
	add(testNow.Add(-time.Hour), true, 40, "firefox", "code", "code-helper")
	add(testNow.Add(-30*24*time.Hour), false, 5, "ancient")

	got, err := db.AppFrequency(context.Background(), 7)
	if err != nil {
		t.Fatalf("AppFrequency() error = %v", err)
	}
	want := []AppUsage{
		{AppName: "firefox", Frequency: 2, AvgWattageWhenActive: 15},
		{AppName: "code", Frequency: 1, AvgWattageWhenActive: 20},
		{AppName: "slack", Frequency: 1, AvgWattageWhenActive: 10},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AppFrequency(7) = %+v\nwant %+v", got, want)
	}
}

func TestAppFrequencyTopN(t *testing.T) {
	db := openTestDB(t)
	s := snap(testNow, 50, false, false)
	for i := range 25 {
		s.ActiveApps = append(s.ActiveApps, string(rune('a'+i)))
	}
	mustIngest(t, db, s)

	got, err := db.AppFrequency(context.Background(), 1)
	if err != nil {
		t.Fatalf("AppFrequency() error = %v", err)
	}
	if len(got) != topN {
		t.Fatalf("AppFrequency() len = %d, want %d", len(got), topN)
	}
}

func TestAssertionStats(t *testing.T) {
	db := openTestDB(t)
	add := func(ts time.Time, assertions ...collector.PowerAssertion) {
		s := snap(ts, 50, false, false)
		s.PowerAssertions = assertions
		mustIngest(t, db, s)
	}
	vlc := func(reason string) collector.PowerAssertion {
		return collector.PowerAssertion{PID: 10, Process: "vlc", Type: "idle", Reason: reason}
	}
	lid := collector.PowerAssertion{PID: 20, Process: "gnome-shell", Type: "handle-lid-switch"}

	add(testNow.Add(-3*time.Hour), vlc("Playing video"), lid)
	add(testNow.Add(-2*time.Hour), vlc("Playing video"))
	add(testNow.Add(-time.Hour), vlc("Playing audio"))

	got, err := db.AssertionStats(context.Background(), 7)
	if err != nil {
		t.Fatalf("AssertionStats() error = %v", err)
	}
	want := []AssertionStat{
		{Process: "vlc", AssertionType: "idle", Frequency: 3, DistinctReasons: []string{"Playing video", "Playing audio"}},
		{Process: "gnome-shell", AssertionType: "handle-lid-switch", Frequency: 1, DistinctReasons: []string{}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AssertionStats(7) = %+v\nwant %+v", got, want)
	}
}

func TestAnalyticsRejectsNonPositiveDays(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.DailyStats(ctx, 0); !IsValidation(err) {
		t.Fatalf("DailyStats(0) error = %v, want ValidationError", err)
	}
	if _, err := db.AppFrequency(ctx, -1); !IsValidation(err) {
		t.Fatalf("AppFrequency(-1) error = %v, want ValidationError", err)
	}
	if _, err := db.ExportSnapshot(ctx, 0); !IsValidation(err) {
		t.Fatalf("ExportSnapshot(0) error = %v, want ValidationError", err)
	}
}

func TestWindowStart(t *testing.T) {
	db := openTestDB(t)
	want := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	if got := db.WindowStart(7); !got.Equal(want) {
		t.Fatalf("WindowStart(7) = %v, want %v", got, want)
	}
}

func TestExportSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedDaily(t, db)
	tr := NewSessionTracker(db, nil)
	track(t, tr, snap(testNow.Add(-40*time.Minute), 60, false, false))
	track(t, tr, snap(testNow.Add(-10*time.Minute), 55, false, true))

	exp, err := db.ExportSnapshot(ctx, 7)
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	data, err := json.Marshal(exp)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var back Export
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	sum, err := db.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if back.Summary.TotalSnapshots != sum.TotalSnapshots ||
		!back.Summary.FirstSnapshotTS.Equal(*sum.FirstSnapshotTS) ||
		!back.Summary.LastSnapshotTS.Equal(*sum.LastSnapshotTS) ||
		back.Summary.AvgHealth != sum.AvgHealth ||
		back.Summary.AvgDischargeWattage != sum.AvgDischargeWattage {
		t.Fatalf("round-tripped Summary = %+v, want %+v", back.Summary, sum)
	}

	daily, err := db.DailyStats(ctx, 7)
	if err != nil {
		t.Fatalf("DailyStats() error = %v", err)
	}
	if !reflect.DeepEqual(back.DailyStats, daily) {
		t.Fatalf("round-tripped DailyStats = %+v, want %+v", back.DailyStats, daily)
	}
	if len(back.DischargeSessions) != 1 || len(back.Snapshots) != 6 {
		t.Fatalf("round-tripped sessions/snapshots = %d/%d, want 1/6", len(back.DischargeSessions), len(back.Snapshots))
	}
}
