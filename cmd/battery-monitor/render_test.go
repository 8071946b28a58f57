package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/cptspacemanspiff/battery-monitor/internal/collector"
	"github.com/cptspacemanspiff/battery-monitor/internal/storage"
)

func TestPercentBar(t *testing.T) {
	tests := []struct {
		pct        float64
		wantFilled int
		wantLabel  string
	}{
		{0, 0, "0.0%"},
		{50, 5, "50.0%"},
		{100, 10, "100.0%"},
		{120, 10, "120.0%"},
		{-5, 0, "-5.0%"},
	}
	for _, tt := range tests {
		got := percentBar(tt.pct, 10)
		if n := strings.Count(got, "█"); n != tt.wantFilled {
			t.Errorf("percentBar(%v) filled = %d, want %d (%q)", tt.pct, n, tt.wantFilled, got)
		}
		if n := strings.Count(got, "█") + strings.Count(got, "░"); n != 10 {
			t.Errorf("percentBar(%v) width = %d, want 10", tt.pct, n)
		}
		if !strings.HasSuffix(got, tt.wantLabel) {
			t.Errorf("percentBar(%v) = %q, want suffix %q", tt.pct, got, tt.wantLabel)
		}
	}
}

func TestFormatMinutes(t *testing.T) {
	for m, want := range map[int64]string{0: "0m", 59: "59m", 60: "1h 0m", 125: "2h 5m"} {
		if got := formatMinutes(m); got != want {
			t.Errorf("formatMinutes(%d) = %q, want %q", m, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a much longer reason", 10, "a much ..."},
		{"héllo wörld", 8, "héllo..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestAverageTemp(t *testing.T) {
	if got := averageTemp(nil); got != nil {
		t.Fatalf("averageTemp(nil) = %v, want nil", *got)
	}
	got := averageTemp([]storage.DailyStat{
		{AvgTemp: 30, SampleCount: 1},
		{AvgTemp: 0, SampleCount: 50},
		{AvgTemp: 40, SampleCount: 3},
	})
	if got == nil || *got != 37.5 {
		t.Fatalf("averageTemp() = %v, want 37.5", got)
	}
}

func TestRenderStatus_OptionalFields(t *testing.T) {
	var buf bytes.Buffer
	s := &collector.Snapshot{
		Timestamp:  time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC),
		Percentage: 42,
		PowerAssertions: []collector.PowerAssertion{
			{Process: "firefox", Reason: "Playing video in a tab that has a very long descriptive title"},
		},
	}
	renderStatus(&buf, s, false, nil)

	out := buf.String()
	for _, want := range []string{"last recorded 2026-03-15 09:30", "On Battery", "Power:    ?", "firefox: Playing video", "..."} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Display:") {
		t.Errorf("status output shows unknown brightness:\n%s", out)
	}
}

func TestRenderHealth(t *testing.T) {
	var buf bytes.Buffer
	temp := 36.5
	renderHealth(&buf, &collector.Snapshot{
		HealthPercentage:  collector.Ptr(85.0),
		DesignCapacityMAh: collector.Ptr(int64(5000)),
		MaxCapacityMAh:    collector.Ptr(int64(4250)),
		CycleCount:        collector.Ptr(int64(300)),
	}, &temp)

	out := buf.String()
	for _, want := range []string{"Status: Good", "Lost:    750 mAh", "Cycle Count: 300", "30.0%", "36.5°C) is high"} {
		if !strings.Contains(out, want) {
			t.Errorf("health output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSessions_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderSessions(&buf, 7, nil, nil)
	if !strings.Contains(buf.String(), "No discharge sessions recorded yet.") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}

func TestExportTarget(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 30, 5, 0, time.UTC)
	tests := []struct {
		format, output string
		wantFormat     string
		wantPath       string
		wantErr        bool
	}{
		{"", "", "json", "battery_export_20260315_093005.json", false},
		{"yaml", "", "yaml", "battery_export_20260315_093005.yaml", false},
		{"", "out.yml", "yaml", "out.yml", false},
		{"json", "out.yml", "json", "out.yml", false},
		{"", "-", "json", "-", false},
		{"xml", "", "", "", true},
	}
	for _, tt := range tests {
		f, path, err := exportTarget(tt.format, tt.output, now)
		if (err != nil) != tt.wantErr {
			t.Fatalf("exportTarget(%q, %q) error = %v, wantErr %v", tt.format, tt.output, err, tt.wantErr)
		}
		if err != nil {
			continue
		}
		if string(f) != tt.wantFormat || path != tt.wantPath {
			t.Errorf("exportTarget(%q, %q) = %q, %q, want %q, %q", tt.format, tt.output, f, path, tt.wantFormat, tt.wantPath)
		}
	}
}

func TestConfirm(t *testing.T) {
	for in, want := range map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false} {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(in), &out, "Import?")
		if err != nil {
			t.Fatalf("confirm(%q) error = %v", in, err)
		}
		if got != want {
			t.Errorf("confirm(%q) = %v, want %v", in, got, want)
		}
		if !strings.Contains(out.String(), "Import? [y/N]") {
			t.Errorf("confirm prompt = %q", out.String())
		}
	}
}
