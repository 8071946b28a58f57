package dbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
	"github.com/cptspacemanspiff/battery-monitor/internal/storage"
)

const (
	BusName   = "org.gnome.BatteryMonitor"
	ObjPath   = godbus.ObjectPath("/org/gnome/BatteryMonitor")
	IfaceName = "org.gnome.BatteryMonitor"
)

const (
	maxDays         = 365
	maxRangeSeconds = 365 * 86400
	queryTimeout    = 10 * time.Second
	errInvalidArgs  = "org.freedesktop.DBus.Error.InvalidArgs"
)

const introspectXML = `
<node>
  <interface name="` + IfaceName + `">
    <method name="GetSummary">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetLatest">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetHistory">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetDailyStats">
      <arg direction="in" type="i" name="days"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetDrainPatterns">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetAppFrequency">
      <arg direction="in" type="i" name="days"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetAssertionStats">
      <arg direction="in" type="i" name="days"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetSessions">
      <arg direction="in" type="i" name="days"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetActiveSession">
      <arg direction="out" type="s" name="json"/>
    </method>
    <signal name="SnapshotRecorded">
      <arg type="x" name="timestamp"/>
      <arg type="i" name="percentage"/>
    </signal>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// Store is the read side of the battery database.
type Store interface {
	Latest(ctx context.Context) (*collector.Snapshot, error)
	Range(ctx context.Context, start, end time.Time) ([]collector.Snapshot, error)
	Summary(ctx context.Context) (storage.Summary, error)
	DailyStats(ctx context.Context, days int) ([]storage.DailyStat, error)
	DrainPatterns(ctx context.Context) ([]storage.DrainPattern, error)
	AppFrequency(ctx context.Context, days int) ([]storage.AppUsage, error)
	AssertionStats(ctx context.Context, days int) ([]storage.AssertionStat, error)
	CompletedSessions(ctx context.Context, days int) ([]storage.DischargeSession, error)
	ActiveSession(ctx context.Context) (*storage.DischargeSession, error)
}

// Service exposes battery analytics over D-Bus. Every method returns JSON.
type Service struct {
	store Store
	log   *slog.Logger
	conn  *godbus.Conn
}

// NewService creates a new D-Bus service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, log: logger}
}

// Export registers the service on conn and claims BusName.
func (s *Service) Export(conn *godbus.Conn) error {
	if err := conn.Export(s, ObjPath, IfaceName); err != nil {
		return fmt.Errorf("export service: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", BusName)
	}
	s.conn = conn
	return nil
}

// NotifySnapshot emits SnapshotRecorded. It does nothing before Export.
func (s *Service) NotifySnapshot(snap *collector.Snapshot) {
	if s.conn == nil || snap == nil {
		return
	}
	err := s.conn.Emit(ObjPath, IfaceName+".SnapshotRecorded", snap.Timestamp.Unix(), int32(snap.Percentage))
	if err != nil {
		s.log.Warn("emit SnapshotRecorded", "err", err)
	}
}

// GetSummary returns the whole-history summary.
func (s *Service) GetSummary() (string, *godbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	v, err := s.store.Summary(ctx)
	return s.reply("GetSummary", v, err)
}

// GetLatest returns the most recent snapshot, or null.
func (s *Service) GetLatest() (string, *godbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	v, err := s.store.Latest(ctx)
	return s.reply("GetLatest", v, err)
}

// GetHistory returns the snapshots between two unix times, inclusive.
func (s *Service) GetHistory(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := validateRange(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	v, err := s.store.Range(ctx, time.Unix(fromEpoch, 0), time.Unix(toEpoch, 0))
	if v == nil && err == nil {
		v = []collector.Snapshot{}
	}
	return s.reply("GetHistory", v, err)
}

// GetDailyStats returns per-day rollups for the trailing days.
func (s *Service) GetDailyStats(days int32) (string, *godbus.Error) {
	if err := validateDays(days); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	v, err := s.store.DailyStats(ctx, int(days))
	return s.reply("GetDailyStats", v, err)
}

// GetDrainPatterns returns the hourly drain averages.
func (s *Service) GetDrainPatterns() (string, *godbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	v, err := s.store.DrainPatterns(ctx)
	return s.reply("GetDrainPatterns", v, err)
}

// GetAppFrequency returns the apps most often active on battery.
func (s *Service) GetAppFrequency(days int32) (string, *godbus.Error) {
	if err := validateDays(days); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	v, err := s.store.AppFrequency(ctx, int(days))
	return s.reply("GetAppFrequency", v, err)
}

// GetAssertionStats returns the processes most often blocking sleep.
func (s *Service) GetAssertionStats(days int32) (string, *godbus.Error) {
	if err := validateDays(days); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	v, err := s.store.AssertionStats(ctx, int(days))
	return s.reply("GetAssertionStats", v, err)
}

// GetSessions returns completed discharge sessions, newest first.
func (s *Service) GetSessions(days int32) (string, *godbus.Error) {
	if err := validateDays(days); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	v, err := s.store.CompletedSessions(ctx, int(days))
	return s.reply("GetSessions", v, err)
}

// GetActiveSession returns the open discharge session, or null.
func (s *Service) GetActiveSession() (string, *godbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	v, err := s.store.ActiveSession(ctx)
	return s.reply("GetActiveSession", v, err)
}

func (s *Service) reply(method string, v any, err error) (string, *godbus.Error) {
	if err != nil {
		s.log.Error("dbus query failed", "method", method, "err", err)
		if storage.IsValidation(err) {
			return "", godbus.NewError(errInvalidArgs, []any{err.Error()})
		}
		return "", godbus.MakeFailedError(err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

func validateDays(days int32) *godbus.Error {
	if days < 1 || days > maxDays {
		return godbus.NewError(errInvalidArgs, []any{fmt.Sprintf("days must be between 1 and %d, got %d", maxDays, days)})
	}
	return nil
}

func validateRange(from, to int64) *godbus.Error {
	switch {
	case from < 0:
		return godbus.NewError(errInvalidArgs, []any{"from_epoch must not be negative"})
	case to < from:
		return godbus.NewError(errInvalidArgs, []any{"to_epoch must not be before from_epoch"})
	case to-from > maxRangeSeconds:
		return godbus.NewError(errInvalidArgs, []any{fmt.Sprintf("range must not exceed %d seconds", maxRangeSeconds)})
	}
	return nil
}
