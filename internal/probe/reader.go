// Package probe reads CPU, memory, process and thermal-throttle figures from
// the host. Every metric is read best-effort: a failing source keeps its
// previous value instead of failing the whole snapshot.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"
)

const bytesPerMB = 1024 * 1024

// Reader produces Snapshots. It is not safe for concurrent ReadSnapshot calls;
// the sampling loop is its only caller.
type Reader struct {
	sysfsRoot string
	maxPIDs   int
	logger    *slog.Logger
	now       func() time.Time

	cpuTimes  func(ctx context.Context) ([]cpu.TimesStat, error)
	cpuInfo   func(ctx context.Context) ([]cpu.InfoStat, error)
	memory    func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	processes func(ctx context.Context, limit int) ([]Process, error)

	cores     int
	prevBusy  float64
	prevTotal float64

	last    Snapshot
	hasLast bool

	thermalSince  time.Time
	thermalBase   int64
	thermalBaseOK bool
}

// NewReader constructs a Reader. sysfsRoot is normally "/sys"; maxPIDs bounds
// process enumeration (0 = unbounded).
func NewReader(sysfsRoot string, maxPIDs int, logger *slog.Logger) (*Reader, error) {
	if maxPIDs < 0 {
		return nil, fmt.Errorf("maxPIDs must be >= 0")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reader{
		sysfsRoot: sysfsRoot,
		maxPIDs:   maxPIDs,
		logger:    logger,
		now:       time.Now,
		cpuTimes: func(ctx context.Context) ([]cpu.TimesStat, error) {
			return cpu.TimesWithContext(ctx, false)
		},
		cpuInfo:   cpu.InfoWithContext,
		memory:    mem.VirtualMemoryWithContext,
		processes: listProcesses,
	}

	ctx := context.Background()
	r.cores = logicalCores(ctx)
	// Prime the CPU counters so the first tick already has a delta.
	r.readLoad(ctx)

	return r, nil
}

// LogicalCores reports the core count used for per-process normalisation.
func (r *Reader) LogicalCores() int {
	return r.cores
}

// ReadSnapshot collects one snapshot. ThermalEvents counts throttle events
// recorded at or after since. The only error is context cancellation, in
// which case the caller must discard the tick.
func (r *Reader) ReadSnapshot(ctx context.Context, since time.Time) (Snapshot, error) {
	snap := Snapshot{
		Timestamp:    r.now().UTC(),
		LogicalCores: r.cores,
	}

	var (
		load     float64
		loadOK   bool
		curMHz   float64
		maxMHz   float64
		curOK    bool
		maxOK    bool
		totalMB  float64
		freeMB   float64
		memOK    bool
		procs    []Process
		procErr  error
		throttle int64
		thermOK  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		load, loadOK = r.readLoad(gctx)
		return nil
	})
	g.Go(func() error {
		curMHz, curOK, maxMHz, maxOK = r.readClocks(gctx)
		return nil
	})
	g.Go(func() error {
		totalMB, freeMB, memOK = r.readMemory(gctx)
		return nil
	})
	g.Go(func() error {
		procs, procErr = r.processes(gctx, r.maxPIDs)
		return nil
	})
	g.Go(func() error {
		throttle, thermOK = readThrottleCount(r.sysfsRoot)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	prev := r.last

	if loadOK {
		snap.CPULoadPct = load
	} else {
		snap.CPULoadPct = prev.CPULoadPct
		snap.Degraded = append(snap.Degraded, metricCPULoad)
	}

	switch {
	case curOK && maxOK:
		snap.ClockMHz, snap.MaxClockMHz = curMHz, maxMHz
	case r.hasLast && prev.MaxClockMHz > 0:
		snap.ClockMHz, snap.MaxClockMHz = prev.ClockMHz, prev.MaxClockMHz
		if curOK {
			snap.ClockMHz = curMHz
		}
		snap.Degraded = append(snap.Degraded, metricClock)
	default:
		// No usable current clock: a zero maximum disables low-clock detection.
		snap.Degraded = append(snap.Degraded, metricClock)
	}

	if memOK {
		snap.RAMTotalMB, snap.RAMFreeMB = totalMB, freeMB
	} else {
		snap.RAMTotalMB, snap.RAMFreeMB = prev.RAMTotalMB, prev.RAMFreeMB
		snap.Degraded = append(snap.Degraded, metricMemory)
	}

	if procErr == nil {
		snap.Processes = procs
	} else {
		snap.Processes = prev.Processes
		snap.Degraded = append(snap.Degraded, metricProcesses)
		r.logger.Debug("process enumeration failed", "err", procErr)
	}

	snap.ThermalEvents = r.thermalSinceCount(since, throttle, thermOK, prev.ThermalEvents)
	if !thermOK {
		snap.Degraded = append(snap.Degraded, metricThermal)
	}

	if len(snap.Degraded) > 0 {
		r.logger.Debug("snapshot degraded", "metrics", snap.Degraded)
	}

	r.last = snap
	r.hasLast = true
	return snap, nil
}

func (r *Reader) thermalSinceCount(since time.Time, current int64, ok bool, prev int) int {
	if !ok {
		return prev
	}
	if !r.thermalBaseOK || !since.Equal(r.thermalSince) {
		r.thermalSince = since
		r.thermalBase = current
		r.thermalBaseOK = true
		return 0
	}
	if current < r.thermalBase {
		// Counters went backwards (CPU hotplug); keep what was already reported.
		r.thermalBase = current - int64(prev)
		return prev
	}
	return int(current - r.thermalBase)
}

func (r *Reader) readLoad(ctx context.Context) (float64, bool) {
	times, err := r.cpuTimes(ctx)
	if err != nil || len(times) == 0 {
		return 0, false
	}
	cur := times[0]
	total := cur.User + cur.System + cur.Idle + cur.Nice + cur.Iowait + cur.Irq + cur.Softirq + cur.Steal
	busy := total - cur.Idle - cur.Iowait

	primed := r.prevTotal > 0
	dt := total - r.prevTotal
	db := busy - r.prevBusy
	r.prevTotal, r.prevBusy = total, busy

	if !primed || dt <= 0 {
		return 0, false
	}
	return clamp(100*db/dt, 0, 100), true
}

// readClocks prefers cpufreq sysfs. Whatever it lacks comes from cpu.Info:
// the per-core MHz average stands in for the current clock (on Linux that is
// "cpu MHz" from /proc/cpuinfo) and the highest per-core MHz for the maximum.
func (r *Reader) readClocks(ctx context.Context) (curMHz float64, curOK bool, maxMHz float64, maxOK bool) {
	curMHz, curOK, maxMHz, maxOK = readSysfsClocks(r.sysfsRoot)
	if curOK && maxOK {
		return curMHz, curOK, maxMHz, maxOK
	}
	infos, err := r.cpuInfo(ctx)
	if err != nil {
		return curMHz, curOK, maxMHz, maxOK
	}

	var sum, infoMax float64
	var n int
	for _, info := range infos {
		if info.Mhz <= 0 {
			continue
		}
		sum += info.Mhz
		n++
		infoMax = math.Max(infoMax, info.Mhz)
	}
	if !maxOK && n > 0 {
		maxMHz, maxOK = infoMax, true
	}
	if !curOK && n > 0 {
		curMHz, curOK = sum/float64(n), true
	}
	return curMHz, curOK, maxMHz, maxOK
}

func (r *Reader) readMemory(ctx context.Context) (totalMB, freeMB float64, ok bool) {
	vm, err := r.memory(ctx)
	if err != nil || vm == nil || vm.Total == 0 {
		return 0, 0, false
	}
	return float64(vm.Total) / bytesPerMB, float64(vm.Available) / bytesPerMB, true
}

// listProcesses enumerates processes through gopsutil. Processes that exit
// while being read, or whose creation time cannot be read, are skipped.
func listProcesses(ctx context.Context, limit int) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		times, err := p.TimesWithContext(ctx)
		if err != nil || times == nil {
			continue
		}
		var rss uint64
		if info, err := p.MemoryInfoWithContext(ctx); err == nil && info != nil {
			rss = info.RSS
		}
		created, err := p.CreateTimeWithContext(ctx)
		id, ok := processID(p.Pid, created, err)
		if !ok {
			// Without a creation time a recycled PID would inherit the
			// previous owner's CPU history.
			continue
		}

		out = append(out, Process{
			ID:         id,
			PID:        p.Pid,
			Name:       name,
			CPUSeconds: times.User + times.System,
			RSSBytes:   rss,
		})
	}
	return out, nil
}

func logicalCores(ctx context.Context) int {
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func clamp(value, min, max float64) float64 {
	return math.Max(min, math.Min(max, value))
}
