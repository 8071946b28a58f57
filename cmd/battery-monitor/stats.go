package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
	"github.com/cptspacemanspiff/battery-monitor/internal/config"
	"github.com/cptspacemanspiff/battery-monitor/internal/storage"
)

const (
	maxListedDays     = 10
	minPatternSamples = 5
	maxListedApps     = 15
	maxListedHolders  = 10
	maxListedSessions = 20
	maxListedHistory  = 30
)

func newStatsCmd(g *globals) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show historical statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(func(ctx context.Context, store *storage.DB, cfg *config.Config) error {
				days := daysOr(days, cfg)
				sum, err := store.Summary(ctx)
				if err != nil {
					return err
				}
				daily, err := store.DailyStats(ctx, days)
				if err != nil {
					return err
				}
				patterns, err := store.DrainPatterns(ctx)
				if err != nil {
					return err
				}
				renderStats(cmd.OutOrStdout(), days, sum, daily, patterns)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 0, "days to analyse (default from config)")
	return cmd
}

func renderStats(w io.Writer, days int, sum storage.Summary, daily []storage.DailyStat, patterns []storage.DrainPattern) {
	printTitle(w, fmt.Sprintf("Battery Statistics (Last %d Days)", days))

	fmt.Fprintln(w, headerStyle.Render("\nOverall:"))
	fmt.Fprintf(w, "   Total snapshots: %d\n", sum.TotalSnapshots)
	fmt.Fprintf(w, "   First record:    %s\n", optTime(sum.FirstSnapshotTS, "2006-01-02"))
	fmt.Fprintf(w, "   Battery cycles:  %s\n", optInt(sum.CurrentCycleCount, "%d"))
	fmt.Fprintf(w, "   Avg health:      %.1f%%\n", sum.AvgHealth)
	fmt.Fprintf(w, "   Avg drain power: %.1fW\n", sum.AvgDischargeWattage)

	if len(daily) > 0 {
		fmt.Fprintln(w, headerStyle.Render("\nDaily Breakdown:"))
		fmt.Fprintf(w, "   %-12s %6s %6s %7s %8s\n", "Date", "Min%", "Max%", "Avg W", "Samples")
		for i, d := range daily {
			if i == maxListedDays {
				break
			}
			fmt.Fprintf(w, "   %-12s %5d%% %5d%% %6.1fW %8d\n",
				d.Date, d.MinPercentage, d.MaxPercentage, d.AvgWattage, d.SampleCount)
		}
	}

	var shown []storage.DrainPattern
	for _, p := range patterns {
		if p.SampleCount > minPatternSamples {
			shown = append(shown, p)
		}
	}
	if len(shown) > 0 {
		fmt.Fprintln(w, headerStyle.Render("\nHourly Drain Patterns:"))
		fmt.Fprintf(w, "   %6s %12s %12s %10s\n", "Hour", "Avg Drain", "Avg Power", "Samples")
		for _, p := range shown {
			drain := -p.AvgDrainPerSample
			fmt.Fprintf(w, "   %3d:00 %11.2f%% %11.1fW %10d\n", p.HourOfDay, drain, p.AvgWattage, p.SampleCount)
		}
	}
	fmt.Fprintln(w)
}

func newAppsCmd(g *globals) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Show apps correlated with battery drain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(func(ctx context.Context, store *storage.DB, cfg *config.Config) error {
				days := daysOr(days, cfg)
				apps, err := store.AppFrequency(ctx, days)
				if err != nil {
					return err
				}
				holders, err := store.AssertionStats(ctx, days)
				if err != nil {
					return err
				}
				renderApps(cmd.OutOrStdout(), days, apps, holders)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 0, "days to analyse (default from config)")
	return cmd
}

func wattageStyle(w float64) string {
	s := fmt.Sprintf("%8.1fW", w)
	switch {
	case w > 15:
		return badStyle.Render(s)
	case w > 8:
		return warnStyle.Render(s)
	default:
		return goodStyle.Render(s)
	}
}

func renderApps(w io.Writer, days int, apps []storage.AppUsage, holders []storage.AssertionStat) {
	printTitle(w, fmt.Sprintf("App Battery Impact (Last %d Days)", days))

	if len(apps) == 0 {
		fmt.Fprintln(w, "\nNo app data available yet. Run the daemon for a while first.")
	} else {
		fmt.Fprintf(w, "\n%-30s %12s %9s %7s\n", "App", "Times Active", "Avg Power", "Avg CPU")
		for i, a := range apps {
			if i == maxListedApps {
				break
			}
			fmt.Fprintf(w, "%-30s %12d %s %6.1f%%\n",
				truncate(a.AppName, 30), a.Frequency, wattageStyle(a.AvgWattageWhenActive), a.AvgCPUWhenActive)
		}
	}

	if len(holders) > 0 {
		fmt.Fprintln(w, warnStyle.Render("\nApps Preventing Sleep:"))
		fmt.Fprintf(w, "   %-25s %-20s %10s\n", "Process", "Type", "Frequency")
		for i, a := range holders {
			if i == maxListedHolders {
				break
			}
			fmt.Fprintf(w, "   %-25s %-20s %10d\n", truncate(a.Process, 25), truncate(a.AssertionType, 20), a.Frequency)
		}
	}
	fmt.Fprintln(w)
}

func newSessionsCmd(g *globals) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show discharge sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(func(ctx context.Context, store *storage.DB, cfg *config.Config) error {
				days := daysOr(days, cfg)
				sessions, err := store.CompletedSessions(ctx, days)
				if err != nil {
					return err
				}
				active, err := store.ActiveSession(ctx)
				if err != nil {
					return err
				}
				renderSessions(cmd.OutOrStdout(), days, sessions, active)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 0, "days to show (default from config)")
	return cmd
}

func renderSessions(w io.Writer, days int, sessions []storage.DischargeSession, active *storage.DischargeSession) {
	printTitle(w, fmt.Sprintf("Discharge Sessions (Last %d Days)", days))

	if active != nil {
		fmt.Fprintf(w, "\nActive: since %s, started at %d%%\n",
			active.StartTime.Format("2006-01-02 15:04"), active.StartPercentage)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "\nNo discharge sessions recorded yet.")
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, "\n%-17s %10s %6s %10s %10s\n", "Start", "Duration", "Drain", "Rate", "Avg Power")
	for i, s := range sessions {
		if i == maxListedSessions {
			break
		}
		drain := "?"
		if s.EndPercentage != nil {
			drain = fmt.Sprintf("%d%%", int64(s.StartPercentage)-*s.EndPercentage)
		}
		duration := "?"
		if s.DurationMinutes != nil {
			duration = formatMinutes(*s.DurationMinutes)
		}
		rate := fmt.Sprintf("%10s", optFloat(s.DrainRatePerHour, "%.1f%%/h"))
		if s.DrainRatePerHour != nil && *s.DrainRatePerHour > 20 {
			rate = badStyle.Render(rate)
		} else {
			rate = goodStyle.Render(rate)
		}
		fmt.Fprintf(w, "%-17s %10s %6s %s %10s\n",
			s.StartTime.Format("2006-01-02 15:04"), duration, drain, rate, optFloat(s.AvgWattage, "%.1fW"))
	}
	fmt.Fprintln(w)
}

func newHistoryCmd(g *globals) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(func(ctx context.Context, store *storage.DB, _ *config.Config) error {
				snaps, err := store.LastHours(ctx, hours)
				if err != nil {
					return err
				}
				renderHistory(cmd.OutOrStdout(), hours, snaps)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&hours, "hours", "H", 24, "hours to show")
	return cmd
}

func renderHistory(w io.Writer, hours int, snaps []collector.Snapshot) {
	printTitle(w, fmt.Sprintf("Recent Battery History (Last %d Hours)", hours))

	if len(snaps) == 0 {
		fmt.Fprintln(w, "\nNo history available yet. Start the daemon to collect data.")
		fmt.Fprintln(w)
		return
	}
	if len(snaps) > maxListedHistory {
		snaps = snaps[len(snaps)-maxListedHistory:]
	}

	fmt.Fprintf(w, "\n%-19s %5s %8s %8s %7s %10s\n", "Time", "%", "Power", "Temp", "CPU", "Status")
	for _, s := range snaps {
		status := "Drain"
		switch {
		case s.IsCharging:
			status = "Charge"
		case s.IsPluggedIn:
			status = "AC"
		}
		fmt.Fprintf(w, "%-19s %4d%% %8s %8s %7s %10s\n",
			s.Timestamp.Format("2006-01-02 15:04:05"),
			s.Percentage,
			optFloat(s.Wattage, "%.1fW"),
			optFloat(s.TemperatureCelsius, "%.1f°C"),
			optFloat(s.CPUUsagePercent, "%.1f%%"),
			status)
	}
	fmt.Fprintln(w)
}
