// Package procscan turns cumulative per-process CPU time into per-interval
// CPU percentages and picks the top consumers of each tick.
package procscan

import (
	"math"
	"time"

	"github.com/l473n7dR34m/hotdiag/internal/probe"
)

const bytesPerMB = 1024 * 1024

// Usage is the derived CPU share of one process for one interval. Processes
// seen for the first time have no prior observation and are not listed.
type Usage struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_pct"`
}

// Attribution is the tracker output for one tick.
type Attribution struct {
	Usages []Usage
	// TopCPU is nil when no eligible process used any CPU this interval.
	TopCPU *Usage
	// TopMem is nil only for an empty process list.
	TopMem *probe.Process
}

// TopMemMB returns the resident size of TopMem in MB.
func (a Attribution) TopMemMB() float64 {
	if a.TopMem == nil {
		return 0
	}
	return float64(a.TopMem.RSSBytes) / bytesPerMB
}

type observation struct {
	name       string
	cpuSeconds float64
}

// Tracker keeps the last cumulative CPU reading of every live process. It is
// owned by the sampling loop and not safe for concurrent use.
type Tracker struct {
	excluded map[string]struct{}
	prev     map[string]observation
}

// NewTracker builds a Tracker. extraExclusions are added to the built-in
// housekeeping list.
func NewTracker(extraExclusions []string) *Tracker {
	return &Tracker{
		excluded: buildExclusions(extraExclusions),
		prev:     make(map[string]observation),
	}
}

// Excluded reports whether name is never eligible for top-CPU attribution.
func (t *Tracker) Excluded(name string) bool {
	_, ok := t.excluded[normalizeName(name)]
	return ok
}

// Tracked returns the number of processes with a stored observation.
func (t *Tracker) Tracked() int {
	return len(t.prev)
}

// Observe computes CPU percentages against the previous tick and replaces the
// stored history with procs.
func (t *Tracker) Observe(procs []probe.Process, interval time.Duration, logicalCores int) Attribution {
	var out Attribution
	seconds := interval.Seconds()
	if logicalCores < 1 {
		logicalCores = 1
	}

	next := make(map[string]observation, len(procs))
	topIdx, memIdx := -1, -1
	for i, proc := range procs {
		next[proc.ID] = observation{name: proc.Name, cpuSeconds: proc.CPUSeconds}

		if memIdx < 0 || proc.RSSBytes > procs[memIdx].RSSBytes {
			memIdx = i
		}

		prev, ok := t.prev[proc.ID]
		if !ok || seconds <= 0 {
			continue
		}
		pct := cpuPercent(prev.cpuSeconds, proc.CPUSeconds, seconds, logicalCores)
		out.Usages = append(out.Usages, Usage{ID: proc.ID, Name: proc.Name, CPUPercent: pct})

		if pct <= 0 || t.Excluded(proc.Name) {
			continue
		}
		if topIdx < 0 || pct > out.Usages[topIdx].CPUPercent {
			topIdx = len(out.Usages) - 1
		}
	}
	t.prev = next

	if topIdx >= 0 {
		top := out.Usages[topIdx]
		out.TopCPU = &top
	}
	if memIdx >= 0 {
		mem := procs[memIdx]
		out.TopMem = &mem
	}
	return out
}

func cpuPercent(prev, cur, intervalSeconds float64, cores int) float64 {
	delta := math.Max(0, cur-prev)
	pct := delta / intervalSeconds * (100 / float64(cores))
	return math.Round(pct*10) / 10
}
