package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
	"github.com/cptspacemanspiff/battery-monitor/internal/config"
	"github.com/cptspacemanspiff/battery-monitor/internal/export"
	"github.com/cptspacemanspiff/battery-monitor/internal/storage"
)

func newExportCmd(g *globals) *cobra.Command {
	var (
		days   int
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export analytics and raw snapshots to JSON or YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(func(ctx context.Context, store *storage.DB, cfg *config.Config) error {
				f, path, err := exportTarget(format, output, time.Now())
				if err != nil {
					return err
				}
				exp, err := store.ExportSnapshot(ctx, daysOr(days, cfg))
				if err != nil {
					return err
				}
				if path == "-" {
					return export.Encode(cmd.OutOrStdout(), exp, f)
				}
				if err := export.WriteFile(path, exp, f); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d snapshots to %s\n", len(exp.Snapshots), path)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 30, "days to export")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, or - for stdout (default battery_export_<time>.<format>)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "json or yaml (default from the output extension, else json)")
	return cmd
}

// exportTarget resolves the format and output path from the flags.
func exportTarget(format, output string, now time.Time) (export.Format, string, error) {
	var f export.Format
	switch {
	case format != "":
		var err error
		if f, err = export.ParseFormat(format); err != nil {
			return "", "", err
		}
	case output != "" && output != "-":
		f = export.FormatFromPath(output)
	default:
		f = export.JSON
	}
	if output == "" {
		output = fmt.Sprintf("battery_export_%s.%s", now.Format("20060102_150405"), f)
	}
	return f, output, nil
}

func newImportHistoryCmd(g *globals) *cobra.Command {
	var (
		dir   string
		force bool
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "import-history",
		Short: "Import historical battery data from UPower history files",
		Long: `Import coarse battery history recorded by UPower
(history-charge-*.dat). Events already stored at the same timestamp are
skipped unless --force is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(func(ctx context.Context, store *storage.DB, cfg *config.Config) error {
				if dir == "" {
					dir = cfg.Storage.HistoryDir
				}
				out := cmd.OutOrStdout()
				printTitle(out, "Importing Historical Battery Data")

				events, err := collector.ReadUPowerHistory(dir, slog.Default())
				if err != nil {
					return err
				}
				if len(events) == 0 {
					fmt.Fprintln(out, warnStyle.Render("\nNo battery events found in "+dir+"."))
					return nil
				}
				fmt.Fprintf(out, "\nFound %d battery events.\n", len(events))
				fmt.Fprintf(out, "Date range: %s to %s\n",
					events[0].Timestamp.Format("2006-01-02"),
					events[len(events)-1].Timestamp.Format("2006-01-02"))

				if !yes {
					if !isTTY() {
						return fmt.Errorf("refusing to import without confirmation; pass --yes")
					}
					ok, err := confirm(cmd.InOrStdin(), out, "Import these events?")
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(out, "Import cancelled.")
						return nil
					}
				}

				res, err := store.Import(ctx, events, !force)
				if err != nil {
					return err
				}
				renderImport(out, res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "UPower history directory (default from config)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "import even if an event's timestamp is already stored")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "\n%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func renderImport(w io.Writer, res storage.ImportResult) {
	fmt.Fprintln(w, goodStyle.Render(fmt.Sprintf("\nImported: %d events", res.Imported)))
	if res.Skipped > 0 {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("Skipped (duplicates): %d events", res.Skipped)))
	}
	if res.Invalid > 0 {
		fmt.Fprintln(w, badStyle.Render(fmt.Sprintf("Invalid: %d events", res.Invalid)))
	}
	fmt.Fprintln(w)
}

func newCleanupCmd(g *globals) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete data older than the retention period and compact the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withStore(func(ctx context.Context, store *storage.DB, cfg *config.Config) error {
				if days == 0 {
					days = cfg.Cleanup.RetentionDays
				}
				res, err := store.Cleanup(ctx, days)
				if err != nil {
					return err
				}
				renderCleanup(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 0, "keep this many days (default from config)")
	return cmd
}

func renderCleanup(w io.Writer, res storage.CleanupResult) {
	if res.Total() == 0 {
		fmt.Fprintf(w, "Nothing older than %s to remove.\n", res.Cutoff.Format("2006-01-02 15:04"))
		return
	}
	fmt.Fprintf(w, "Removed data older than %s:\n", res.Cutoff.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "  snapshots:  %d\n", res.Snapshots)
	fmt.Fprintf(w, "  apps:       %d\n", res.Apps)
	fmt.Fprintf(w, "  assertions: %d\n", res.Assertions)
	fmt.Fprintf(w, "  sessions:   %d\n", res.Sessions)
}
