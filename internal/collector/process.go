package collector

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ProcessCollector tracks per-process CPU tick deltas across sampling intervals
// and reports the busiest process names as the snapshot's active apps.
type ProcessCollector struct {
	prevTicks map[int]int64 // pid -> previous utime+stime
	topN      int
}

// NewProcessCollector creates a ProcessCollector keeping the topN busiest names.
func NewProcessCollector(topN int) *ProcessCollector {
	if topN <= 0 {
		topN = 10
	}
	return &ProcessCollector{
		prevTicks: make(map[int]int64),
		topN:      topN,
	}
}

type procEntry struct {
	pid   int
	comm  string
	ticks int64 // utime + stime
}

// Collect reads /proc/*/stat, computes tick deltas from the previous call and
// returns up to topN distinct process names ordered by CPU use. The first call
// only establishes a baseline and returns no names.
func (pc *ProcessCollector) Collect() ([]string, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", procRoot, err)
	}

	currentTicks := make(map[int]int64, len(entries))
	byName := make(map[string]int64)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		pe, err := readProcStat(pid)
		if err != nil {
			continue
		}
		currentTicks[pid] = pe.ticks

		prev, ok := pc.prevTicks[pid]
		if !ok {
			continue // first observation, no delta
		}
		if delta := pe.ticks - prev; delta > 0 {
			byName[pe.comm] += delta
		}
	}
	pc.prevTicks = currentTicks

	procs := make([]procEntry, 0, len(byName))
	for name, ticks := range byName {
		procs = append(procs, procEntry{comm: name, ticks: ticks})
	}
	sort.Slice(procs, func(i, j int) bool {
		if procs[i].ticks != procs[j].ticks {
			return procs[i].ticks > procs[j].ticks
		}
		return procs[i].comm < procs[j].comm
	})
	if len(procs) > pc.topN {
		procs = procs[:pc.topN]
	}

	names := make([]string, len(procs))
	for i, p := range procs {
		names[i] = p.comm
	}
	return names, nil
}

// readProcStat parses /proc/[pid]/stat for comm, utime and stime.
func readProcStat(pid int) (procEntry, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return procEntry{}, err
	}

	// comm is in parens and may contain spaces/parens, so find last ')'
	start := bytes.IndexByte(data, '(')
	end := bytes.LastIndexByte(data, ')')
	if start < 0 || end < 0 || end >= len(data)-1 {
		return procEntry{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	comm := string(data[start+1 : end])

	// Fields after ')' start at state; utime and stime are at 11 and 12.
	fields := strings.Fields(string(data[end+2:]))
	if len(fields) < 13 {
		return procEntry{}, fmt.Errorf("too few fields for pid %d", pid)
	}

	utime, _ := strconv.ParseInt(fields[11], 10, 64)
	stime, _ := strconv.ParseInt(fields[12], 10, 64)

	return procEntry{
		pid:   pid,
		comm:  comm,
		ticks: utime + stime,
	}, nil
}
