package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/battery-monitor/internal/config"
	"github.com/cptspacemanspiff/battery-monitor/internal/storage"
)

var version = "dev" // set via ldflags at build time

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globals holds the persistent flags every subcommand reads.
type globals struct {
	configPath string
	envFile    string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "battery-monitor",
		Short: "Battery statistics and insights",
		Long: `battery-monitor reads the database written by battery-monitor-daemon
and reports drain rates, discharge sessions, app impact and battery health.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", config.DefaultPath, "path to the TOML config file")
	root.PersistentFlags().StringVar(&g.envFile, "env", ".env", "optional file of BATTERY_MONITOR_* overrides")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "database path (overrides the config)")

	root.AddCommand(
		newStatusCmd(g),
		newStatsCmd(g),
		newAppsCmd(g),
		newSessionsCmd(g),
		newHistoryCmd(g),
		newHealthCmd(g),
		newExportCmd(g),
		newImportHistoryCmd(g),
		newCleanupCmd(g),
		newSnapshotCmd(g),
		newConfigCmd(g),
	)
	return root
}

// loadConfig applies the --db override after the file and environment.
func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(g.configPath, g.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.dbPath != "" {
		cfg.Storage.DBPath = g.dbPath
		if cfg, err = config.NormalizeAndValidate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStore opens the configured database. The caller closes it.
func (g *globals) openStore() (*storage.DB, *config.Config, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Analytics.Location()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(cfg.Storage.DBPath, storage.WithLocation(loc))
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

// withStore runs fn against an open store and closes it afterwards.
func (g *globals) withStore(fn func(ctx context.Context, store *storage.DB, cfg *config.Config) error) error {
	store, cfg, err := g.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), store, cfg)
}

// daysOr returns days when the flag was set, else the configured default.
// Negative values pass through so the store can reject them.
func daysOr(days int, cfg *config.Config) int {
	if days != 0 {
		return days
	}
	return cfg.Analytics.DefaultDays
}
