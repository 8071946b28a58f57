package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
	"github.com/cptspacemanspiff/battery-monitor/internal/config"
	"github.com/cptspacemanspiff/battery-monitor/internal/storage"
)

const maxListedAssertions = 5

// currentSnapshot samples the machine now. When that fails it falls back to
// the newest stored snapshot and reports live=false.
func currentSnapshot(ctx context.Context, store *storage.DB, cfg *config.Config) (*collector.Snapshot, bool, error) {
	var inhibitors collector.InhibitorSource
	if logind, err := collector.NewLogind(slog.Default()); err == nil {
		defer logind.Close()
		inhibitors = logind
	}

	cctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Collection.TimeoutSeconds)*time.Second)
	defer cancel()
	snap, err := collector.New(cfg.Collection.TopApps, inhibitors, slog.Default()).Collect(cctx)
	if err == nil {
		return snap, true, nil
	}

	latest, lerr := store.Latest(ctx)
	if lerr != nil {
		return nil, false, lerr
	}
	if latest == nil {
		return nil, false, fmt.Errorf("no live battery data (%v) and nothing recorded yet", err)
	}
	return latest, false, nil
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current battery status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(func(ctx context.Context, store *storage.DB, cfg *config.Config) error {
				snap, live, err := currentSnapshot(ctx, store, cfg)
				if err != nil {
					return err
				}
				active, err := store.ActiveSession(ctx)
				if err != nil {
					return err
				}
				renderStatus(cmd.OutOrStdout(), snap, live, active)
				return nil
			})
		},
	}
}

func renderStatus(w io.Writer, s *collector.Snapshot, live bool, active *storage.DischargeSession) {
	title := "Current Battery Status"
	if !live {
		title += " (last recorded " + s.Timestamp.Format("2006-01-02 15:04") + ")"
	}
	printTitle(w, title)

	state := warnStyle.Render("On Battery")
	switch {
	case s.IsCharging:
		state = goodStyle.Render("Charging")
	case s.IsPluggedIn:
		state = goodStyle.Render("Plugged In")
	}
	fmt.Fprintf(w, "\nStatus: %s\n", state)
	fmt.Fprintf(w, "   %s\n", percentBar(float64(s.Percentage), 20))
	if s.TimeRemainingMinutes != nil && !s.OnExternalPower() {
		fmt.Fprintf(w, "   Remaining: %s\n", formatMinutes(*s.TimeRemainingMinutes))
	}

	fmt.Fprintln(w, headerStyle.Render("\nMetrics:"))
	direction := "(draining)"
	if s.AmperageMA != nil && *s.AmperageMA > 0 {
		direction = "(charging)"
	}
	fmt.Fprintf(w, "   Power:    %s %s\n", optFloat(s.Wattage, "%.1fW"), direction)
	fmt.Fprintf(w, "   Temp:     %s\n", optFloat(s.TemperatureCelsius, "%.1f°C"))
	fmt.Fprintf(w, "   CPU:      %s\n", optFloat(s.CPUUsagePercent, "%.1f%%"))
	if s.DisplayBrightness != nil && *s.DisplayBrightness >= 0 {
		fmt.Fprintf(w, "   Display:  %d%%\n", *s.DisplayBrightness)
	}

	fmt.Fprintln(w, headerStyle.Render("\nBattery Health:"))
	if s.HealthPercentage != nil {
		fmt.Fprintf(w, "   %s\n", percentBar(*s.HealthPercentage, 20))
	}
	fmt.Fprintf(w, "   Cycles:   %s\n", optInt(s.CycleCount, "%d"))
	fmt.Fprintf(w, "   Capacity: %s/%s mAh\n", optInt(s.MaxCapacityMAh, "%d"), optInt(s.DesignCapacityMAh, "%d"))

	if active != nil {
		fmt.Fprintf(w, "\nDischarge session since %s (started at %d%%)\n",
			active.StartTime.Format("15:04"), active.StartPercentage)
	}

	if len(s.PowerAssertions) > 0 {
		fmt.Fprintln(w, warnStyle.Render("\nApps Preventing Sleep:"))
		for i, a := range s.PowerAssertions {
			if i == maxListedAssertions {
				break
			}
			fmt.Fprintf(w, "   • %s: %s\n", a.Process, truncate(a.Reason, 50))
		}
	}
	fmt.Fprintln(w)
}

func newHealthCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Analyse battery health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(func(ctx context.Context, store *storage.DB, cfg *config.Config) error {
				snap, _, err := currentSnapshot(ctx, store, cfg)
				if err != nil {
					return err
				}
				daily, err := store.DailyStats(ctx, 30)
				if err != nil {
					return err
				}
				renderHealth(cmd.OutOrStdout(), snap, averageTemp(daily))
				return nil
			})
		},
	}
}

// averageTemp averages the per-day temperatures, weighted by samples. Days
// with no temperature readings report 0 and are skipped.
func averageTemp(daily []storage.DailyStat) *float64 {
	var sum float64
	var n int64
	for _, d := range daily {
		if d.AvgTemp == 0 {
			continue
		}
		sum += d.AvgTemp * float64(d.SampleCount)
		n += d.SampleCount
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

func renderHealth(w io.Writer, s *collector.Snapshot, avgTemp *float64) {
	printTitle(w, "Battery Health Analysis")

	if s.HealthPercentage == nil {
		fmt.Fprintln(w, "\nHealth unknown: the battery does not report its design capacity.")
	} else {
		health := *s.HealthPercentage
		class := classifyHealth(health)
		style := goodStyle
		switch class.Label {
		case "Fair":
			style = warnStyle
		case "Poor":
			style = badStyle
		}
		fmt.Fprintf(w, "\nHealth: %s\n", percentBar(health, 20))
		fmt.Fprintf(w, "   Status: %s\n", style.Render(class.Label))
		fmt.Fprintf(w, "   Advice: %s\n", class.Advice)
	}

	fmt.Fprintln(w, headerStyle.Render("\nCapacity:"))
	fmt.Fprintf(w, "   Design:  %s mAh\n", optInt(s.DesignCapacityMAh, "%d"))
	fmt.Fprintf(w, "   Current: %s mAh\n", optInt(s.MaxCapacityMAh, "%d"))
	if s.DesignCapacityMAh != nil && s.MaxCapacityMAh != nil {
		fmt.Fprintf(w, "   Lost:    %d mAh\n", *s.DesignCapacityMAh-*s.MaxCapacityMAh)
	}

	if s.CycleCount != nil {
		fmt.Fprintf(w, "\nCycle Count: %d\n", *s.CycleCount)
		fmt.Fprintf(w, "   Expected life: ~%d cycles\n", ratedCycles)
		fmt.Fprintf(w, "   Cycle progress: %s\n", percentBar(cycleProgress(*s.CycleCount), 20))
	}

	if avgTemp != nil {
		fmt.Fprintln(w, headerStyle.Render("\nTemperature:"))
		if *avgTemp > 35 {
			fmt.Fprintf(w, "   %s average temperature (%.1f°C) is high; heat degrades batteries faster.\n",
				warnStyle.Render("Warning:"), *avgTemp)
		} else {
			fmt.Fprintf(w, "   Average operating temperature: %.1f°C (Good)\n", *avgTemp)
		}
	}
	fmt.Fprintln(w)
}
