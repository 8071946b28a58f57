package collector

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procRoot is overridden in tests.
var procRoot = "/proc"

// CPUSampler computes aggregate CPU utilisation between successive calls.
type CPUSampler struct {
	prevIdle  uint64
	prevTotal uint64
}

// Sample returns the busy percentage since the previous call. The first call
// reports the average since boot.
func (c *CPUSampler) Sample() (float64, error) {
	idle, total, err := readCPUTimes()
	if err != nil {
		return 0, err
	}
	prevIdle, prevTotal := c.prevIdle, c.prevTotal
	c.prevIdle, c.prevTotal = idle, total
	if total <= prevTotal || idle < prevIdle {
		return 0, nil
	}
	dIdle := idle - prevIdle
	dTotal := total - prevTotal
	if dIdle > dTotal {
		dIdle = dTotal
	}
	return round(float64(dTotal-dIdle)/float64(dTotal)*100, 1), nil
}

// readCPUTimes parses the aggregate "cpu" line of /proc/stat.
func readCPUTimes() (idle, total uint64, err error) {
	f, err := os.Open(filepath.Join(procRoot, "stat"))
	if err != nil {
		return 0, 0, fmt.Errorf("open stat: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, field := range fields[1:] {
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("parse cpu field %d: %w", i, err)
			}
			total += v
			// idle and iowait
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return idle, total, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("scan stat: %w", err)
	}
	return 0, 0, fmt.Errorf("no aggregate cpu line in stat")
}
