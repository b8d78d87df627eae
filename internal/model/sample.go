// Package model holds the per-tick sample exchanged between the sampler,
// the session aggregator and the observers.
package model

import "time"

// ProcessShare is the top CPU consumer of one interval.
type ProcessShare struct {
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_pct"`
}

// MemoryShare is the largest resident-memory process of one interval.
type MemoryShare struct {
	Name     string  `json:"name"`
	MemoryMB float64 `json:"mem_mb"`
}

// Sample is one interval's raw and derived reading. Samples are immutable
// once handed to the aggregator.
type Sample struct {
	Session        string        `json:"session"`
	Timestamp      time.Time     `json:"ts"`
	CPULoadPct     float64       `json:"cpu_load_pct"`
	ClockMHz       float64       `json:"clock_mhz"`
	MaxClockMHz    float64       `json:"max_clock_mhz"`
	RAMUsedMB      float64       `json:"ram_used_mb"`
	RAMAvailMB     float64       `json:"ram_avail_mb"`
	TopCPU         *ProcessShare `json:"top_cpu"`
	TopMem         *MemoryShare  `json:"top_mem"`
	ThermalEvents  int           `json:"thermal_events"`
	LowClock       bool          `json:"low_clock"`
	LowClockStreak int           `json:"low_clock_streak"`
	Alert          bool          `json:"alert"`
}

// TopCPUName returns the top CPU process name or "" when none was attributed.
func (s Sample) TopCPUName() string {
	if s.TopCPU == nil {
		return ""
	}
	return s.TopCPU.Name
}

// TopMemName returns the top memory process name or "".
func (s Sample) TopMemName() string {
	if s.TopMem == nil {
		return ""
	}
	return s.TopMem.Name
}
