package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	times    []cpu.TimesStat
	timesErr error
	infos    []cpu.InfoStat
	infoErr  error
	vm       *mem.VirtualMemoryStat
	memErr   error
	procs    []Process
	procErr  error
}

func newTestReader(t *testing.T, sysfsRoot string, host *fakeHost) *Reader {
	t.Helper()
	return &Reader{
		sysfsRoot: sysfsRoot,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       func() time.Time { return time.Unix(1700000000, 0) },
		cpuTimes: func(context.Context) ([]cpu.TimesStat, error) {
			return host.times, host.timesErr
		},
		cpuInfo: func(context.Context) ([]cpu.InfoStat, error) {
			return host.infos, host.infoErr
		},
		memory: func(context.Context) (*mem.VirtualMemoryStat, error) {
			return host.vm, host.memErr
		},
		processes: func(ctx context.Context, limit int) ([]Process, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return host.procs, host.procErr
		},
		cores: 4,
	}
}

func writeCPU(t *testing.T, root string, id int, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, cpuDevicesPath, "cpu"+strconv.Itoa(id))
	for name, value := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(value+"\n"), 0o644))
	}
}

func TestReadSnapshotHealthyHost(t *testing.T) {
	root := t.TempDir()
	writeCPU(t, root, 0, map[string]string{curFreqFilename: "2000000", maxFreqFilename: "4000000"})
	writeCPU(t, root, 1, map[string]string{curFreqFilename: "3000000", maxFreqFilename: "4200000"})

	host := &fakeHost{
		times: []cpu.TimesStat{{User: 10, System: 10, Idle: 80}},
		vm:    &mem.VirtualMemoryStat{Total: 8192 * bytesPerMB, Available: 2048 * bytesPerMB},
		procs: []Process{{ID: "1@0", PID: 1, Name: "init", CPUSeconds: 1}},
	}
	r := newTestReader(t, root, host)

	_, _ = r.ReadSnapshot(context.Background(), time.Time{})
	host.times = []cpu.TimesStat{{User: 40, System: 20, Idle: 140}}

	snap, err := r.ReadSnapshot(context.Background(), time.Time{})
	require.NoError(t, err)

	// busy 20 -> 60, total 100 -> 200
	assert.InDelta(t, 40.0, snap.CPULoadPct, 1e-9)
	assert.InDelta(t, 2500.0, snap.ClockMHz, 1e-9)
	assert.InDelta(t, 4200.0, snap.MaxClockMHz, 1e-9)
	assert.InDelta(t, 8192.0, snap.RAMTotalMB, 1e-9)
	assert.InDelta(t, 6144.0, snap.RAMUsedMB(), 1e-9)
	assert.Equal(t, 4, snap.LogicalCores)
	assert.Len(t, snap.Processes, 1)
	assert.Equal(t, 0, snap.ThermalEvents)
	assert.Equal(t, []string{metricThermal}, snap.Degraded)
}

func TestReadSnapshotFallsBackToPriorValues(t *testing.T) {
	root := t.TempDir()
	writeCPU(t, root, 0, map[string]string{curFreqFilename: "1800000", maxFreqFilename: "3600000"})

	host := &fakeHost{
		times: []cpu.TimesStat{{User: 10, Idle: 90}},
		vm:    &mem.VirtualMemoryStat{Total: 4096 * bytesPerMB, Available: 1024 * bytesPerMB},
		procs: []Process{{ID: "7@1", PID: 7, Name: "editor", CPUSeconds: 3}},
	}
	r := newTestReader(t, root, host)

	first, err := r.ReadSnapshot(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, first.Processes, 1)

	host.timesErr = errors.New("permission denied")
	host.memErr = errors.New("permission denied")
	host.procErr = errors.New("permission denied")
	require.NoError(t, os.RemoveAll(filepath.Join(root, cpuDevicesPath)))
	host.infoErr = errors.New("unsupported")

	second, err := r.ReadSnapshot(context.Background(), time.Time{})
	require.NoError(t, err)

	assert.Equal(t, first.CPULoadPct, second.CPULoadPct)
	assert.Equal(t, first.ClockMHz, second.ClockMHz)
	assert.Equal(t, first.MaxClockMHz, second.MaxClockMHz)
	assert.Equal(t, first.RAMTotalMB, second.RAMTotalMB)
	assert.Equal(t, first.Processes, second.Processes)
	assert.Subset(t, second.Degraded, []string{metricCPULoad, metricClock, metricMemory, metricProcesses})
}

func TestReadSnapshotWithoutClockDisablesDetection(t *testing.T) {
	host := &fakeHost{infoErr: errors.New("unsupported")}
	r := newTestReader(t, t.TempDir(), host)

	snap, err := r.ReadSnapshot(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, snap.ClockMHz)
	assert.Zero(t, snap.MaxClockMHz)
	assert.Contains(t, snap.Degraded, metricClock)
}

func TestReadClocksFallsBackToCPUInfo(t *testing.T) {
	root := t.TempDir()
	writeCPU(t, root, 0, map[string]string{curFreqFilename: "1200000"})

	host := &fakeHost{infos: []cpu.InfoStat{{Mhz: 2800}, {Mhz: 3100}}}
	r := newTestReader(t, root, host)

	cur, curOK, maxMHz, maxOK := r.readClocks(context.Background())
	assert.True(t, curOK)
	assert.True(t, maxOK)
	assert.InDelta(t, 1200.0, cur, 1e-9)
	assert.InDelta(t, 3100.0, maxMHz, 1e-9)
}

func TestReadSnapshotUsesCPUInfoWithoutCpufreq(t *testing.T) {
	host := &fakeHost{infos: []cpu.InfoStat{{Mhz: 2800}, {Mhz: 3100}, {Mhz: 0}}}
	r := newTestReader(t, t.TempDir(), host)

	for tick := 0; tick < 3; tick++ {
		snap, err := r.ReadSnapshot(context.Background(), time.Time{})
		require.NoError(t, err)
		assert.InDelta(t, 2950.0, snap.ClockMHz, 1e-9, "tick %d", tick)
		assert.InDelta(t, 3100.0, snap.MaxClockMHz, 1e-9, "tick %d", tick)
		assert.NotContains(t, snap.Degraded, metricClock, "tick %d", tick)
	}

	host.infos = []cpu.InfoStat{{Mhz: 1200}, {Mhz: 1400}}
	snap, err := r.ReadSnapshot(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.InDelta(t, 1300.0, snap.ClockMHz, 1e-9)
	assert.InDelta(t, 1400.0, snap.MaxClockMHz, 1e-9)
}

func TestReadClocksKeepsSysfsMaxWhenOnlyCurrentIsMissing(t *testing.T) {
	root := t.TempDir()
	writeCPU(t, root, 0, map[string]string{maxFreqFilename: "4000000"})

	r := newTestReader(t, root, &fakeHost{infos: []cpu.InfoStat{{Mhz: 2200}}})
	cur, curOK, maxMHz, maxOK := r.readClocks(context.Background())
	assert.True(t, curOK)
	assert.True(t, maxOK)
	assert.InDelta(t, 2200.0, cur, 1e-9)
	assert.InDelta(t, 4000.0, maxMHz, 1e-9)
}

func TestProcessIDRequiresCreationTime(t *testing.T) {
	id, ok := processID(42, 1700000000123, nil)
	require.True(t, ok)
	assert.Equal(t, "42@1700000000123", id)

	_, ok = processID(42, 0, nil)
	assert.False(t, ok)

	_, ok = processID(42, 1700000000123, errors.New("no such process"))
	assert.False(t, ok)
}

func TestThermalEventsRelativeToSince(t *testing.T) {
	root := t.TempDir()
	for id := 0; id < 4; id++ {
		writeCPU(t, root, id, map[string]string{
			coreThrottleFile:    "2",
			packageThrottleFile: "10",
			packageIDFile:       strconv.Itoa(id / 2),
		})
	}

	total, ok := readThrottleCount(root)
	require.True(t, ok)
	// four cores plus two packages counted once each
	assert.Equal(t, int64(4*2+2*10), total)

	r := newTestReader(t, root, &fakeHost{})
	start := time.Unix(1700000000, 0)

	snap, err := r.ReadSnapshot(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ThermalEvents)

	writeCPU(t, root, 0, map[string]string{coreThrottleFile: "5"})
	writeCPU(t, root, 2, map[string]string{packageThrottleFile: "12"})

	snap, err = r.ReadSnapshot(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.ThermalEvents)

	// counter reset: keep the last reported figure
	writeCPU(t, root, 0, map[string]string{coreThrottleFile: "0"})
	writeCPU(t, root, 2, map[string]string{packageThrottleFile: "0"})
	snap, err = r.ReadSnapshot(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.ThermalEvents)
}

func TestReadSnapshotHonoursCancellation(t *testing.T) {
	r := newTestReader(t, t.TempDir(), &fakeHost{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ReadSnapshot(ctx, time.Time{})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, r.hasLast)
}

func TestNewReaderRejectsNegativeLimit(t *testing.T) {
	_, err := NewReader("/sys", -1, nil)
	require.Error(t, err)
}
