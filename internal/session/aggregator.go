// Package session accumulates the running counters and statistics of one
// sampling session.
package session

import (
	"fmt"
	"math"
	"time"

	"github.com/l473n7dR34m/hotdiag/internal/model"
)

// DefaultHighLoadPct is the CPU load at or above which a sample counts as
// high load.
const DefaultHighLoadPct = 70

// Stats are min/max/avg over every sample added.
type Stats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Hit is one row of a process frequency table.
type Hit struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary is an immutable view of the session state.
type Summary struct {
	ID               string    `json:"id"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end,omitempty"`
	Samples          int       `json:"samples"`
	LowClockSamples  int       `json:"low_clock_samples"`
	HighLoadSamples  int       `json:"high_load_samples"`
	HighLoadLowClock int       `json:"high_load_low_clock_samples"`
	ThermalEvents    int       `json:"thermal_events"`
	Clock            Stats     `json:"clock_mhz"`
	Load             Stats     `json:"load_pct"`
	MaxClockMHz      float64   `json:"max_clock_mhz"`
	CPUHits          []Hit     `json:"cpu_hits"`
	MemHits          []Hit     `json:"mem_hits"`
}

// TopCPU returns the most frequent top-CPU name; ties go to the name seen
// first.
func (s Summary) TopCPU() (Hit, bool) {
	return mostFrequent(s.CPUHits)
}

// TopMem returns the most frequent top-memory name.
func (s Summary) TopMem() (Hit, bool) {
	return mostFrequent(s.MemHits)
}

func mostFrequent(hits []Hit) (Hit, bool) {
	var best Hit
	found := false
	for _, h := range hits {
		if !found || h.Count > best.Count {
			best = h
			found = true
		}
	}
	return best, found
}

type runningStats struct {
	min, max, sum float64
	n             int
}

func (r *runningStats) add(v float64) {
	if r.n == 0 || v < r.min {
		r.min = v
	}
	if r.n == 0 || v > r.max {
		r.max = v
	}
	r.sum += v
	r.n++
}

func (r runningStats) stats() Stats {
	if r.n == 0 {
		return Stats{}
	}
	return Stats{Min: r.min, Max: r.max, Avg: r.sum / float64(r.n)}
}

type hitTable struct {
	order []string
	count map[string]int
}

func newHitTable() hitTable {
	return hitTable{count: make(map[string]int)}
}

func (h *hitTable) inc(name string) {
	if name == "" {
		return
	}
	if _, ok := h.count[name]; !ok {
		h.order = append(h.order, name)
	}
	h.count[name]++
}

func (h hitTable) snapshot() []Hit {
	out := make([]Hit, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, Hit{Name: name, Count: h.count[name]})
	}
	return out
}

// Aggregator owns the session state. It is mutated only by the sampling
// loop and is not safe for concurrent use.
type Aggregator struct {
	id           string
	start        time.Time
	end          time.Time
	highLoadPct  float64
	historyLimit int

	samples          int
	lowClock         int
	highLoad         int
	highLoadLowClock int
	thermal          int
	maxClock         float64

	clock   runningStats
	load    runningStats
	cpuHits hitTable
	memHits hitTable
	history []model.Sample
}

// NewAggregator starts a session. historyLimit bounds the retained samples
// (0 keeps none); counters and statistics always cover every sample.
func NewAggregator(id string, start time.Time, highLoadPct float64, historyLimit int) (*Aggregator, error) {
	if highLoadPct <= 0 || highLoadPct > 100 {
		return nil, fmt.Errorf("high load threshold must be in (0, 100], got %v", highLoadPct)
	}
	if historyLimit < 0 {
		return nil, fmt.Errorf("history limit must be >= 0")
	}
	return &Aggregator{
		id:           id,
		start:        start,
		highLoadPct:  highLoadPct,
		historyLimit: historyLimit,
		cpuHits:      newHitTable(),
		memHits:      newHitTable(),
	}, nil
}

// Add folds one sample into the session.
func (a *Aggregator) Add(sample model.Sample) {
	a.samples++
	high := sample.CPULoadPct >= a.highLoadPct
	if sample.LowClock {
		a.lowClock++
	}
	if high {
		a.highLoad++
		if sample.LowClock {
			a.highLoadLowClock++
		}
	}
	// cumulative since session start, so the latest figure wins
	a.thermal = sample.ThermalEvents
	a.maxClock = math.Max(a.maxClock, sample.MaxClockMHz)

	a.clock.add(sample.ClockMHz)
	a.load.add(sample.CPULoadPct)
	a.cpuHits.inc(sample.TopCPUName())
	a.memHits.inc(sample.TopMemName())

	if a.historyLimit == 0 {
		return
	}
	if len(a.history) >= a.historyLimit {
		copy(a.history, a.history[1:])
		a.history = a.history[:len(a.history)-1]
	}
	a.history = append(a.history, sample)
}

// Close records the session end time.
func (a *Aggregator) Close(end time.Time) {
	a.end = end
}

// Samples returns the number of samples added.
func (a *Aggregator) Samples() int {
	return a.samples
}

// History returns a copy of the newest limit retained samples, oldest first.
// A limit <= 0 returns all of them.
func (a *Aggregator) History(limit int) []model.Sample {
	src := a.history
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]model.Sample, len(src))
	copy(out, src)
	return out
}

// Summary returns a copy of the current state.
func (a *Aggregator) Summary() Summary {
	return Summary{
		ID:               a.id,
		Start:            a.start,
		End:              a.end,
		Samples:          a.samples,
		LowClockSamples:  a.lowClock,
		HighLoadSamples:  a.highLoad,
		HighLoadLowClock: a.highLoadLowClock,
		ThermalEvents:    a.thermal,
		Clock:            a.clock.stats(),
		Load:             a.load.stats(),
		MaxClockMHz:      a.maxClock,
		CPUHits:          a.cpuHits.snapshot(),
		MemHits:          a.memHits.snapshot(),
	}
}
