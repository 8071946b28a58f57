package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
	"github.com/cptspacemanspiff/battery-monitor/internal/config"
	dbussvc "github.com/cptspacemanspiff/battery-monitor/internal/dbus"
	"github.com/cptspacemanspiff/battery-monitor/internal/export"
	"github.com/cptspacemanspiff/battery-monitor/internal/monitor"
	"github.com/cptspacemanspiff/battery-monitor/internal/storage"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the TOML config file")
	envFile := flag.String("env", ".env", "optional file of BATTERY_MONITOR_* overrides")
	verbose := flag.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := flag.String("log", "", "comma-separated log topics: collect,session,cleanup,import,dbus (or 'all')")
	resetDB := flag.Bool("reset-db", false, "delete the database and exit")
	once := flag.Bool("once", false, "take a single sample, print it as JSON and exit")
	bus := flag.String("bus", "system", "bus to publish the D-Bus service on: system, session or none")
	importHistory := flag.Bool("import-history", false, "import UPower history files before sampling")
	flag.Parse()

	handler := newTopicHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		parseTopics(*logFlag, *verbose),
	)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if err := run(logger, options{
		configPath:    *configPath,
		envFile:       *envFile,
		resetDB:       *resetDB,
		once:          *once,
		bus:           *bus,
		importHistory: *importHistory,
	}); err != nil {
		logger.Error("battery-monitor-daemon failed", "err", err)
		os.Exit(1)
	}
}

type options struct {
	configPath    string
	envFile       string
	resetDB       bool
	once          bool
	bus           string
	importHistory bool
}

func run(logger *slog.Logger, opts options) error {
	cfg, err := config.LoadWithEnv(opts.configPath, opts.envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loc, err := cfg.Analytics.Location()
	if err != nil {
		return err
	}

	dbPath := cfg.Storage.DBPath
	if opts.resetDB {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete database: %w", err)
			}
		}
		logger.Info("database deleted", "path", dbPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.Open(dbPath, storage.WithLocation(loc))
	if err != nil {
		return err
	}
	defer store.Close()

	// logind is optional: without it there are no power assertions and no
	// wake notifications.
	var inhibitors collector.InhibitorSource
	var wake <-chan struct{}
	logind, err := collector.NewLogind(logger.With("topic", "collect"))
	if err != nil {
		logger.Warn("logind unavailable", "err", err)
	} else {
		defer logind.Close()
		inhibitors = logind
		wake = logind.Wake()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.importHistory {
		importUPowerHistory(ctx, store, cfg.Storage.HistoryDir, logger.With("topic", "import"))
	}

	var notifier monitor.Notifier
	if !opts.once {
		svc, err := exportService(store, opts.bus, logger.With("topic", "dbus"))
		if err != nil {
			return err
		}
		if svc != nil {
			notifier = svc
		}
	}

	mon := monitor.New(collector.New(cfg.Collection.TopApps, inhibitors, logger.With("topic", "collect")), store, monitor.Options{
		CollectTimeout:  time.Duration(cfg.Collection.TimeoutSeconds) * time.Second,
		RetentionDays:   cfg.Cleanup.RetentionDays,
		CleanupInterval: time.Duration(cfg.Cleanup.IntervalHours) * time.Hour,
		Notifier:        notifier,
		Logger:          logger,
	})

	if opts.once {
		snap, err := mon.Tick(ctx)
		if err != nil {
			return err
		}
		return export.Encode(os.Stdout, snap, export.JSON)
	}

	interval := time.Duration(cfg.Collection.IntervalSeconds) * time.Second
	logger.Info("battery-monitor-daemon started",
		"db", dbPath,
		"interval", interval,
		"retention_days", cfg.Cleanup.RetentionDays)
	err = mon.Run(ctx, interval, wake)
	logger.Info("shutting down")
	return err
}

// exportService publishes the analytics service on the chosen bus. It
// returns nil for bus "none".
func exportService(store *storage.DB, bus string, logger *slog.Logger) (*dbussvc.Service, error) {
	var conn *godbus.Conn
	var err error
	switch bus {
	case "none":
		return nil, nil
	case "system":
		conn, err = godbus.SystemBus()
	case "session":
		conn, err = godbus.SessionBus()
	default:
		return nil, fmt.Errorf("unknown bus %q (want system, session or none)", bus)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", bus, err)
	}

	svc := dbussvc.NewService(store, logger)
	if err := svc.Export(conn); err != nil {
		return nil, fmt.Errorf("export dbus service: %w", err)
	}
	logger.Info("D-Bus service registered", "name", dbussvc.BusName, "bus", bus)
	return svc, nil
}

func importUPowerHistory(ctx context.Context, store *storage.DB, dir string, logger *slog.Logger) {
	events, err := collector.ReadUPowerHistory(dir, logger)
	if err != nil {
		logger.Warn("read UPower history", "dir", dir, "err", err)
		return
	}
	if len(events) == 0 {
		logger.Debug("no UPower history events", "dir", dir)
		return
	}
	res, err := store.Import(ctx, events, true)
	if err != nil {
		logger.Error("import UPower history", "err", err)
		return
	}
	logger.Info("imported UPower history",
		"imported", res.Imported,
		"skipped", res.Skipped,
		"invalid", res.Invalid)
}
