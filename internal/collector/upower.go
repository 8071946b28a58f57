package collector

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultUPowerDir is where upowerd keeps its per-battery history files.
const DefaultUPowerDir = "/var/lib/upower"

// ReadUPowerHistory parses every history-charge-*.dat file in dir and returns
// the events ordered by timestamp.
func ReadUPowerHistory(dir string, logger *slog.Logger) ([]HistoryEvent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	paths, err := filepath.Glob(filepath.Join(dir, "history-charge-*.dat"))
	if err != nil {
		return nil, fmt.Errorf("glob history: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no history-charge files in %s", dir)
	}

	var events []HistoryEvent
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		parsed, err := ParseUPowerHistory(f, logger.With("file", filepath.Base(path)))
		f.Close()
		if err != nil {
			return nil, err
		}
		events = append(events, parsed...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// ParseUPowerHistory parses lines of the form "<unix>\t<percent>\t<state>".
// Malformed lines are logged and skipped.
func ParseUPowerHistory(r io.Reader, logger *slog.Logger) ([]HistoryEvent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var events []HistoryEvent
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		evt, err := parseUPowerLine(text)
		if err != nil {
			logger.Warn("skip malformed line", "line", line, "err", err)
			continue
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return events, nil
}

func parseUPowerLine(text string) (HistoryEvent, error) {
	fields := strings.Fields(text)
	if len(fields) != 3 {
		return HistoryEvent{}, fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || ts <= 0 {
		return HistoryEvent{}, fmt.Errorf("bad timestamp %q", fields[0])
	}
	pct, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return HistoryEvent{}, fmt.Errorf("bad percentage %q", fields[1])
	}

	state := fields[2]
	evt := HistoryEvent{
		Timestamp:  time.Unix(ts, 0),
		EventType:  state,
		Percentage: int(math.Round(pct)),
	}
	switch state {
	case "charging":
		evt.IsCharging = true
		evt.IsPluggedIn = true
	case "fully-charged", "pending-charge":
		evt.IsPluggedIn = true
	case "discharging", "pending-discharge", "empty":
	default:
		return HistoryEvent{}, fmt.Errorf("unknown state %q", state)
	}
	return evt, nil
}
