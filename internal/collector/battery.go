package collector

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sysfsRoot is overridden in tests.
var sysfsRoot = "/sys"

// batteryReading holds the raw power_supply uevent values for one battery.
// Units follow the kernel: micro-volts, micro-amps, micro-watts, micro-amp-hours
// and micro-watt-hours.
type batteryReading struct {
	Status              string
	CapacityPct         int
	VoltageUV           int64
	CurrentUA           int64
	PowerUW             int64
	ChargeNowUAH        int64
	ChargeFullUAH       int64
	ChargeFullDesignUAH int64
	EnergyNowUWH        int64
	EnergyFullUWH       int64
	EnergyFullDesignUWH int64
	VoltageMinDesignUV  int64
	CycleCount          *int64
	TempDeciC           *int64
	TimeToEmptySecs     int64
	TimeToFullSecs      int64
}

// readBattery reads the first battery found under class/power_supply.
func readBattery() (*batteryReading, error) {
	matches, err := filepath.Glob(filepath.Join(sysfsRoot, "class/power_supply/BAT*"))
	if err != nil {
		return nil, fmt.Errorf("glob battery: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no battery found")
	}

	data, err := os.ReadFile(filepath.Join(matches[0], "uevent"))
	if err != nil {
		return nil, fmt.Errorf("read uevent: %w", err)
	}

	props := parseUevent(string(data))
	r := &batteryReading{Status: props["POWER_SUPPLY_STATUS"]}
	capacity, ok := propInt(props, "POWER_SUPPLY_CAPACITY")
	if !ok {
		return nil, fmt.Errorf("battery %s reports no capacity", filepath.Base(matches[0]))
	}
	r.CapacityPct = int(capacity)
	r.VoltageUV, _ = propInt(props, "POWER_SUPPLY_VOLTAGE_NOW")
	r.CurrentUA, _ = propInt(props, "POWER_SUPPLY_CURRENT_NOW")
	r.PowerUW, _ = propInt(props, "POWER_SUPPLY_POWER_NOW")
	r.ChargeNowUAH, _ = propInt(props, "POWER_SUPPLY_CHARGE_NOW")
	r.ChargeFullUAH, _ = propInt(props, "POWER_SUPPLY_CHARGE_FULL")
	r.ChargeFullDesignUAH, _ = propInt(props, "POWER_SUPPLY_CHARGE_FULL_DESIGN")
	r.EnergyNowUWH, _ = propInt(props, "POWER_SUPPLY_ENERGY_NOW")
	r.EnergyFullUWH, _ = propInt(props, "POWER_SUPPLY_ENERGY_FULL")
	r.EnergyFullDesignUWH, _ = propInt(props, "POWER_SUPPLY_ENERGY_FULL_DESIGN")
	r.VoltageMinDesignUV, _ = propInt(props, "POWER_SUPPLY_VOLTAGE_MIN_DESIGN")
	r.TimeToEmptySecs, _ = propInt(props, "POWER_SUPPLY_TIME_TO_EMPTY_NOW")
	r.TimeToFullSecs, _ = propInt(props, "POWER_SUPPLY_TIME_TO_FULL_NOW")
	if v, ok := propInt(props, "POWER_SUPPLY_CYCLE_COUNT"); ok {
		r.CycleCount = &v
	}
	if v, ok := propInt(props, "POWER_SUPPLY_TEMP"); ok {
		r.TempDeciC = &v
	}

	// Some firmware reports "Discharging" at full capacity while on AC power.
	if r.Status == "Discharging" && r.CapacityPct >= 100 && isACOnline() {
		r.Status = "Full"
	}

	return r, nil
}

// fill copies the battery reading into s, converting to the snapshot's units.
func (r *batteryReading) fill(s *Snapshot, acOnline bool) {
	s.Percentage = min(max(r.CapacityPct, 0), 100)
	s.IsCharging = r.Status == "Charging"
	s.IsPluggedIn = acOnline || s.IsCharging || r.Status == "Full" || r.Status == "Not charging"
	s.CycleCount = r.CycleCount

	if r.VoltageUV > 0 {
		s.VoltageMV = Ptr(r.VoltageUV / 1000)
	}

	currentMA := abs64(r.CurrentUA) / 1000
	if r.Status == "Discharging" {
		currentMA = -currentMA
	}
	s.AmperageMA = Ptr(currentMA)

	watts := float64(r.PowerUW) / 1e6
	if r.PowerUW == 0 {
		watts = float64(r.VoltageUV) / 1e6 * float64(abs64(r.CurrentUA)) / 1e6
	}
	s.Wattage = Ptr(round(math.Abs(watts), 2))

	if r.TempDeciC != nil {
		s.TemperatureCelsius = Ptr(round(float64(*r.TempDeciC)/10, 1))
	}

	design, full, now := r.capacitiesMAh()
	if design > 0 {
		s.DesignCapacityMAh = Ptr(design)
	}
	if full > 0 {
		s.MaxCapacityMAh = Ptr(full)
	}
	if now > 0 {
		s.CurrentCapacityMAh = Ptr(now)
	}
	if design > 0 && full > 0 {
		s.HealthPercentage = Ptr(round(float64(full)/float64(design)*100, 1))
	}

	if mins, ok := r.timeRemainingMinutes(); ok {
		s.TimeRemainingMinutes = Ptr(mins)
	}
}

// capacitiesMAh returns design, full and current capacity in mAh. Batteries
// that only report energy are converted using the minimum design voltage.
func (r *batteryReading) capacitiesMAh() (design, full, now int64) {
	if r.ChargeFullDesignUAH > 0 || r.ChargeFullUAH > 0 {
		return r.ChargeFullDesignUAH / 1000, r.ChargeFullUAH / 1000, r.ChargeNowUAH / 1000
	}
	volts := r.VoltageMinDesignUV
	if volts <= 0 {
		volts = r.VoltageUV
	}
	if volts <= 0 {
		return 0, 0, 0
	}
	toMAh := func(uwh int64) int64 { return uwh * 1000 / volts }
	return toMAh(r.EnergyFullDesignUWH), toMAh(r.EnergyFullUWH), toMAh(r.EnergyNowUWH)
}

// timeRemainingMinutes prefers the kernel's own estimate and otherwise derives
// one from the present draw. It reports false while idle on AC.
func (r *batteryReading) timeRemainingMinutes() (int64, bool) {
	switch r.Status {
	case "Discharging":
		if r.TimeToEmptySecs > 0 {
			return r.TimeToEmptySecs / 60, true
		}
		if cur := abs64(r.CurrentUA); cur > 0 && r.ChargeNowUAH > 0 {
			return r.ChargeNowUAH * 60 / cur, true
		}
		if p := abs64(r.PowerUW); p > 0 && r.EnergyNowUWH > 0 {
			return r.EnergyNowUWH * 60 / p, true
		}
	case "Charging":
		if r.TimeToFullSecs > 0 {
			return r.TimeToFullSecs / 60, true
		}
		if cur := abs64(r.CurrentUA); cur > 0 && r.ChargeFullUAH > r.ChargeNowUAH {
			return (r.ChargeFullUAH - r.ChargeNowUAH) * 60 / cur, true
		}
		if p := abs64(r.PowerUW); p > 0 && r.EnergyFullUWH > r.EnergyNowUWH {
			return (r.EnergyFullUWH - r.EnergyNowUWH) * 60 / p, true
		}
	}
	return 0, false
}

// isACOnline checks if any mains or USB-PD adapter is online.
func isACOnline() bool {
	matches, err := filepath.Glob(filepath.Join(sysfsRoot, "class/power_supply/*/online"))
	if err != nil {
		return false
	}
	for _, path := range matches {
		kind, err := os.ReadFile(filepath.Join(filepath.Dir(path), "type"))
		if err == nil && strings.TrimSpace(string(kind)) == "Battery" {
			continue
		}
		data, err := os.ReadFile(path)
		if err == nil && strings.TrimSpace(string(data)) == "1" {
			return true
		}
	}
	return false
}

func parseUevent(data string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	return props
}

func propInt(props map[string]string, key string) (int64, bool) {
	raw, ok := props[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
