package probe

import (
	"fmt"
	"time"
)

// Process is one entry of the host process list.
type Process struct {
	// ID identifies the process for as long as it lives. PIDs alone are
	// recycled by the OS, so the creation time is folded in.
	ID         string  `json:"id"`
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	CPUSeconds float64 `json:"cpu_seconds"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

// Snapshot is everything read from the host during one tick.
type Snapshot struct {
	Timestamp     time.Time `json:"ts"`
	CPULoadPct    float64   `json:"cpu_load_pct"`
	ClockMHz      float64   `json:"clock_mhz"`
	MaxClockMHz   float64   `json:"max_clock_mhz"`
	RAMTotalMB    float64   `json:"ram_total_mb"`
	RAMFreeMB     float64   `json:"ram_free_mb"`
	LogicalCores  int       `json:"logical_cores"`
	Processes     []Process `json:"processes"`
	ThermalEvents int       `json:"thermal_events"`
	// Degraded names the metrics that fell back to their previous value
	// (or to the unavailable sentinel) during this read.
	Degraded []string `json:"degraded,omitempty"`
}

// RAMUsedMB derives used memory from the totals.
func (s Snapshot) RAMUsedMB() float64 {
	used := s.RAMTotalMB - s.RAMFreeMB
	if used < 0 {
		return 0
	}
	return used
}

const (
	metricCPULoad   = "cpu_load"
	metricClock     = "clock"
	metricMemory    = "memory"
	metricProcesses = "processes"
	metricThermal   = "thermal_events"
)

// processID builds the identity of a process from its PID and creation time
// in ms. It reports false when the creation time is unknown.
func processID(pid int32, createdMS int64, err error) (string, bool) {
	if err != nil || createdMS <= 0 {
		return "", false
	}
	return fmt.Sprintf("%d@%d", pid, createdMS), true
}
