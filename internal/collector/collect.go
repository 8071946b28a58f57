package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Collector assembles a Snapshot from sysfs, procfs and logind. A failure to
// read the battery fails the whole collection; the other sources are optional
// and leave their fields unset.
type Collector struct {
	mu         sync.Mutex
	cpu        CPUSampler
	procs      *ProcessCollector
	inhibitors InhibitorSource
	log        *slog.Logger
	now        func() time.Time
}

// New creates a Collector. inhibitors may be nil when logind is unavailable.
func New(topApps int, inhibitors InhibitorSource, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		procs:      NewProcessCollector(topApps),
		inhibitors: inhibitors,
		log:        logger,
		now:        time.Now,
	}
}

// Collect takes one sample. It returns ctx's error if the deadline passes
// before the sample is complete, so no partial snapshot escapes.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bat, err := readBattery()
	if err != nil {
		return nil, fmt.Errorf("collect battery: %w", err)
	}
	s := &Snapshot{Timestamp: c.now().Truncate(time.Second)}
	bat.fill(s, isACOnline())

	if usage, err := c.cpu.Sample(); err == nil {
		s.CPUUsagePercent = Ptr(usage)
	}
	brightness, _ := ReadBrightness()
	s.DisplayBrightness = Ptr(brightness)

	if apps, err := c.procs.Collect(); err == nil {
		s.ActiveApps = apps
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	if c.inhibitors != nil {
		inhibitors, err := c.inhibitors.ListInhibitors(ctx)
		if err != nil {
			c.log.Debug("power assertions unavailable", "err", err)
		} else {
			s.PowerAssertions = AssertionsFromInhibitors(inhibitors)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	return s, nil
}
