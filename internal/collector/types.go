package collector

import "time"

// Snapshot holds one point-in-time sample of battery and system state.
// Optional fields are nil when the source could not provide them, which is
// always the case for records imported from history logs.
type Snapshot struct {
	ID                   int64            `json:"id,omitempty" yaml:"id,omitempty"`
	Timestamp            time.Time        `json:"timestamp" yaml:"timestamp"`
	Percentage           int              `json:"percentage" yaml:"percentage"`
	IsCharging           bool             `json:"is_charging" yaml:"is_charging"`
	IsPluggedIn          bool             `json:"is_plugged_in" yaml:"is_plugged_in"`
	TimeRemainingMinutes *int64           `json:"time_remaining_minutes" yaml:"time_remaining_minutes"`
	CycleCount           *int64           `json:"cycle_count" yaml:"cycle_count"`
	DesignCapacityMAh    *int64           `json:"design_capacity_mah" yaml:"design_capacity_mah"`
	MaxCapacityMAh       *int64           `json:"max_capacity_mah" yaml:"max_capacity_mah"`
	CurrentCapacityMAh   *int64           `json:"current_capacity_mah" yaml:"current_capacity_mah"`
	HealthPercentage     *float64         `json:"health_percentage" yaml:"health_percentage"`
	VoltageMV            *int64           `json:"voltage_mv" yaml:"voltage_mv"`
	AmperageMA           *int64           `json:"amperage_ma" yaml:"amperage_ma"` // positive while charging
	Wattage              *float64         `json:"wattage" yaml:"wattage"`
	TemperatureCelsius   *float64         `json:"temperature_celsius" yaml:"temperature_celsius"`
	CPUUsagePercent      *float64         `json:"cpu_usage_percent" yaml:"cpu_usage_percent"`
	DisplayBrightness    *int64           `json:"display_brightness" yaml:"display_brightness"` // -1 = unknown
	ActiveApps           []string         `json:"active_apps,omitempty" yaml:"active_apps,omitempty"`
	PowerAssertions      []PowerAssertion `json:"power_assertions,omitempty" yaml:"power_assertions,omitempty"`
}

// OnExternalPower reports whether the snapshot was taken plugged in or charging.
func (s Snapshot) OnExternalPower() bool {
	return s.IsPluggedIn || s.IsCharging
}

// PowerAssertion is a claim by a process that keeps the system from sleeping.
type PowerAssertion struct {
	PID      int    `json:"pid" yaml:"pid"`
	Process  string `json:"process" yaml:"process"`
	Type     string `json:"assertion_type" yaml:"assertion_type"`
	Duration string `json:"duration" yaml:"duration"`
	Reason   string `json:"reason" yaml:"reason"`
}

// HistoryEvent is a coarse battery event recovered from a platform log.
type HistoryEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	Percentage  int       `json:"percentage"`
	IsCharging  bool      `json:"is_charging"`
	IsPluggedIn bool      `json:"is_plugged_in"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
