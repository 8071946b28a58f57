package storage

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
)

// topN bounds the app and assertion rankings.
const topN = 20

// Summary aggregates the whole history.
type Summary struct {
	TotalSnapshots      int64      `json:"total_snapshots" yaml:"total_snapshots"`
	FirstSnapshotTS     *time.Time `json:"first_snapshot_ts" yaml:"first_snapshot_ts"`
	LastSnapshotTS      *time.Time `json:"last_snapshot_ts" yaml:"last_snapshot_ts"`
	CurrentCycleCount   *int64     `json:"current_cycle_count" yaml:"current_cycle_count"`
	AvgHealth           float64    `json:"avg_health" yaml:"avg_health"`
	AvgDischargeWattage float64    `json:"avg_discharge_wattage" yaml:"avg_discharge_wattage"`
}

// DailyStat rolls up one calendar day.
type DailyStat struct {
	Date                 string  `json:"date" yaml:"date"`
	MinPercentage        int     `json:"min_percentage" yaml:"min_percentage"`
	MaxPercentage        int     `json:"max_percentage" yaml:"max_percentage"`
	AvgPercentage        float64 `json:"avg_percentage" yaml:"avg_percentage"`
	AvgWattage           float64 `json:"avg_wattage" yaml:"avg_wattage"`
	AvgCPU               float64 `json:"avg_cpu" yaml:"avg_cpu"`
	AvgTemp              float64 `json:"avg_temp" yaml:"avg_temp"`
	SampleCount          int64   `json:"sample_count" yaml:"sample_count"`
	DischargeSampleCount int64   `json:"discharge_sample_count" yaml:"discharge_sample_count"`
}

// DrainPattern is the average per-sample drain for one hour of the day.
type DrainPattern struct {
	HourOfDay         int     `json:"hour_of_day" yaml:"hour_of_day"`
	AvgDrainPerSample float64 `json:"avg_drain_per_sample" yaml:"avg_drain_per_sample"`
	AvgWattage        float64 `json:"avg_wattage" yaml:"avg_wattage"`
	AvgCPU            float64 `json:"avg_cpu" yaml:"avg_cpu"`
	SampleCount       int64   `json:"sample_count" yaml:"sample_count"`
}

// AppUsage counts how often an app was active while on battery.
type AppUsage struct {
	AppName              string  `json:"app_name" yaml:"app_name"`
	Frequency            int64   `json:"frequency" yaml:"frequency"`
	AvgWattageWhenActive float64 `json:"avg_wattage_when_active" yaml:"avg_wattage_when_active"`
	AvgCPUWhenActive     float64 `json:"avg_cpu_when_active" yaml:"avg_cpu_when_active"`
}

// AssertionStat counts sightings of a process holding a sleep assertion.
type AssertionStat struct {
	Process         string   `json:"process" yaml:"process"`
	AssertionType   string   `json:"assertion_type" yaml:"assertion_type"`
	Frequency       int64    `json:"frequency" yaml:"frequency"`
	DistinctReasons []string `json:"distinct_reasons" yaml:"distinct_reasons"`
}

// Export bundles every analytics view with the raw snapshots of the window.
type Export struct {
	Summary           Summary              `json:"summary" yaml:"summary"`
	DailyStats        []DailyStat          `json:"daily_stats" yaml:"daily_stats"`
	DrainPatterns     []DrainPattern       `json:"drain_patterns" yaml:"drain_patterns"`
	AppFrequency      []AppUsage           `json:"app_frequency" yaml:"app_frequency"`
	PowerAssertions   []AssertionStat      `json:"power_assertions" yaml:"power_assertions"`
	DischargeSessions []DischargeSession   `json:"discharge_sessions" yaml:"discharge_sessions"`
	Snapshots         []collector.Snapshot `json:"snapshots" yaml:"snapshots"`
}

// WindowStart returns midnight, in the store's location, days days ago.
func (d *DB) WindowStart(days int) time.Time {
	y, m, day := d.now().In(d.loc).Date()
	return time.Date(y, m, day-days, 0, 0, 0, 0, d.loc)
}

func (d *DB) window(days int) (int64, error) {
	if days < 1 {
		return 0, invalid("days", "%d must be positive", days)
	}
	return d.WindowStart(days).Unix(), nil
}

// Summary aggregates every stored snapshot. Averages are 0 when no snapshot
// carries the value.
func (d *DB) Summary(ctx context.Context) (Summary, error) {
	var (
		sum         Summary
		first, last sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx, `SELECT
		COUNT(*), MIN(timestamp), MAX(timestamp), MAX(cycle_count),
		COALESCE(AVG(health_percentage), 0),
		COALESCE(AVG(CASE WHEN is_charging = 0 THEN wattage END), 0)
	FROM snapshots`).Scan(&sum.TotalSnapshots, &first, &last, &sum.CurrentCycleCount,
		&sum.AvgHealth, &sum.AvgDischargeWattage)
	if err != nil {
		return Summary{}, storageErr("summary", err)
	}
	if first.Valid {
		t := time.Unix(first.Int64, 0).In(d.loc)
		sum.FirstSnapshotTS = &t
	}
	if last.Valid {
		t := time.Unix(last.Int64, 0).In(d.loc)
		sum.LastSnapshotTS = &t
	}
	return sum, nil
}

// mean accumulates an average that skips NULLs.
type mean struct {
	sum float64
	n   int64
}

func (m *mean) add(v sql.NullFloat64) {
	if v.Valid {
		m.sum += v.Float64
		m.n++
	}
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// DailyStats rolls up the trailing window by calendar date in the store's
// location, newest day first.
func (d *DB) DailyStats(ctx context.Context, days int) ([]DailyStat, error) {
	from, err := d.window(days)
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, `SELECT timestamp, percentage, is_charging,
		wattage, cpu_usage_percent, temperature_celsius
		FROM snapshots WHERE timestamp >= ? ORDER BY timestamp, id`, from)
	if err != nil {
		return nil, storageErr("daily stats", err)
	}
	defer rows.Close()

	type acc struct {
		stat                 DailyStat
		pct, watt, cpu, temp mean
	}
	byDate := make(map[string]*acc)
	for rows.Next() {
		var (
			ts             int64
			pct, charging  int
			watt, cpu, tmp sql.NullFloat64
		)
		if err := rows.Scan(&ts, &pct, &charging, &watt, &cpu, &tmp); err != nil {
			return nil, storageErr("scan daily stats", err)
		}
		date := time.Unix(ts, 0).In(d.loc).Format(time.DateOnly)
		a, ok := byDate[date]
		if !ok {
			a = &acc{stat: DailyStat{Date: date, MinPercentage: pct, MaxPercentage: pct}}
			byDate[date] = a
		}
		a.stat.MinPercentage = min(a.stat.MinPercentage, pct)
		a.stat.MaxPercentage = max(a.stat.MaxPercentage, pct)
		a.stat.SampleCount++
		if charging == 0 {
			a.stat.DischargeSampleCount++
		}
		a.pct.add(sql.NullFloat64{Float64: float64(pct), Valid: true})
		a.watt.add(watt)
		a.cpu.add(cpu)
		a.temp.add(tmp)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("daily stats", err)
	}

	stats := make([]DailyStat, 0, len(byDate))
	for _, a := range byDate {
		a.stat.AvgPercentage = a.pct.value()
		a.stat.AvgWattage = a.watt.value()
		a.stat.AvgCPU = a.cpu.value()
		a.stat.AvgTemp = a.temp.value()
		stats = append(stats, a.stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date > stats[j].Date })
	return stats, nil
}

// DrainPatterns averages the per-sample drain by hour of day over the full
// history. A pair counts when the later snapshot is not charging and the
// percentage fell from the snapshot immediately before it, whatever that
// snapshot's charge state.
func (d *DB) DrainPatterns(ctx context.Context) ([]DrainPattern, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT timestamp, percentage, is_charging,
		wattage, cpu_usage_percent FROM snapshots ORDER BY timestamp, id`)
	if err != nil {
		return nil, storageErr("drain patterns", err)
	}
	defer rows.Close()

	type acc struct {
		drain, watt, cpu mean
	}
	var (
		hours   [24]*acc
		prevPct int
		hasPrev bool
	)
	for rows.Next() {
		var (
			ts            int64
			pct, charging int
			watt, cpu     sql.NullFloat64
		)
		if err := rows.Scan(&ts, &pct, &charging, &watt, &cpu); err != nil {
			return nil, storageErr("scan drain patterns", err)
		}
		if hasPrev && charging == 0 {
			if drain := pct - prevPct; drain < 0 {
				h := time.Unix(ts, 0).In(d.loc).Hour()
				if hours[h] == nil {
					hours[h] = &acc{}
				}
				hours[h].drain.add(sql.NullFloat64{Float64: float64(drain), Valid: true})
				hours[h].watt.add(watt)
				hours[h].cpu.add(cpu)
			}
		}
		prevPct, hasPrev = pct, true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("drain patterns", err)
	}

	patterns := []DrainPattern{}
	for h, a := range hours {
		if a == nil {
			continue
		}
		patterns = append(patterns, DrainPattern{
			HourOfDay:         h,
			AvgDrainPerSample: a.drain.value(),
			AvgWattage:        a.watt.value(),
			AvgCPU:            a.cpu.value(),
			SampleCount:       a.drain.n,
		})
	}
	return patterns, nil
}

// AppFrequency ranks the apps seen in on-battery snapshots of the window.
func (d *DB) AppFrequency(ctx context.Context, days int) ([]AppUsage, error) {
	from, err := d.window(days)
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, `SELECT
		a.app_name, COUNT(*) AS frequency,
		COALESCE(AVG(s.wattage), 0), COALESCE(AVG(s.cpu_usage_percent), 0)
	FROM active_apps a
	JOIN snapshots s ON a.snapshot_id = s.id
	WHERE s.timestamp >= ? AND s.is_charging = 0
	GROUP BY a.app_name
	ORDER BY frequency DESC, a.app_name
	LIMIT ?`, from, topN)
	if err != nil {
		return nil, storageErr("app frequency", err)
	}
	defer rows.Close()

	apps := []AppUsage{}
	for rows.Next() {
		var u AppUsage
		if err := rows.Scan(&u.AppName, &u.Frequency, &u.AvgWattageWhenActive, &u.AvgCPUWhenActive); err != nil {
			return nil, storageErr("scan app frequency", err)
		}
		apps = append(apps, u)
	}
	return apps, storageErr("app frequency", rows.Err())
}

// AssertionStats ranks (process, assertion type) pairs seen in the window and
// lists the distinct non-empty reasons in first-seen order.
func (d *DB) AssertionStats(ctx context.Context, days int) ([]AssertionStat, error) {
	from, err := d.window(days)
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, `SELECT p.process, p.assertion_type, p.reason
	FROM power_assertions p
	JOIN snapshots s ON p.snapshot_id = s.id
	WHERE s.timestamp >= ?
	ORDER BY s.timestamp, p.id`, from)
	if err != nil {
		return nil, storageErr("assertion stats", err)
	}
	defer rows.Close()

	type key struct{ process, kind string }
	var (
		order []key
		stats = make(map[key]*AssertionStat)
		seen  = make(map[key]map[string]bool)
	)
	for rows.Next() {
		var k key
		var reason string
		if err := rows.Scan(&k.process, &k.kind, &reason); err != nil {
			return nil, storageErr("scan assertion stats", err)
		}
		st, ok := stats[k]
		if !ok {
			st = &AssertionStat{Process: k.process, AssertionType: k.kind, DistinctReasons: []string{}}
			stats[k] = st
			seen[k] = make(map[string]bool)
			order = append(order, k)
		}
		st.Frequency++
		if reason != "" && !seen[k][reason] {
			seen[k][reason] = true
			st.DistinctReasons = append(st.DistinctReasons, reason)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("assertion stats", err)
	}

	out := make([]AssertionStat, 0, len(order))
	for _, k := range order {
		out = append(out, *stats[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// CompletedSessions returns closed sessions that started in the window,
// newest first.
func (d *DB) CompletedSessions(ctx context.Context, days int) ([]DischargeSession, error) {
	from, err := d.window(days)
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM discharge_sessions WHERE is_active = 0 AND start_time >= ? ORDER BY start_time DESC, id DESC",
		from)
	if err != nil {
		return nil, storageErr("completed sessions", err)
	}
	defer rows.Close()

	sessions := []DischargeSession{}
	for rows.Next() {
		sess, err := d.scanSession(rows)
		if err != nil {
			return nil, storageErr("scan session", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, storageErr("completed sessions", rows.Err())
}

// ExportSnapshot gathers every analytics view plus the raw snapshots of the
// trailing days*24 hours.
func (d *DB) ExportSnapshot(ctx context.Context, days int) (*Export, error) {
	if days < 1 {
		return nil, invalid("days", "%d must be positive", days)
	}
	var (
		exp Export
		err error
	)
	if exp.Summary, err = d.Summary(ctx); err != nil {
		return nil, err
	}
	if exp.DailyStats, err = d.DailyStats(ctx, days); err != nil {
		return nil, err
	}
	if exp.DrainPatterns, err = d.DrainPatterns(ctx); err != nil {
		return nil, err
	}
	if exp.AppFrequency, err = d.AppFrequency(ctx, days); err != nil {
		return nil, err
	}
	if exp.PowerAssertions, err = d.AssertionStats(ctx, days); err != nil {
		return nil, err
	}
	if exp.DischargeSessions, err = d.CompletedSessions(ctx, days); err != nil {
		return nil, err
	}
	if exp.Snapshots, err = d.LastHours(ctx, days*24); err != nil {
		return nil, err
	}
	if exp.Snapshots == nil {
		exp.Snapshots = []collector.Snapshot{}
	}
	return &exp, nil
}
