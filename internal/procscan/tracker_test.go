package procscan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l473n7dR34m/hotdiag/internal/probe"
)

func proc(id, name string, cpuSeconds float64, rssMB uint64) probe.Process {
	return probe.Process{ID: id, Name: name, CPUSeconds: cpuSeconds, RSSBytes: rssMB * bytesPerMB}
}

func TestObserveComputesIntervalPercent(t *testing.T) {
	tracker := NewTracker(nil)

	first := tracker.Observe([]probe.Process{proc("10@1", "build", 2.0, 100)}, 5*time.Second, 4)
	assert.Empty(t, first.Usages)
	assert.Nil(t, first.TopCPU)

	second := tracker.Observe([]probe.Process{proc("10@1", "build", 7.0, 100)}, 5*time.Second, 4)
	require.NotNil(t, second.TopCPU)
	assert.Equal(t, "build", second.TopCPU.Name)
	assert.InDelta(t, 25.0, second.TopCPU.CPUPercent, 1e-9)
}

func TestObserveFirstSightingContributesNothing(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Observe([]probe.Process{proc("1@1", "old", 1, 1)}, time.Second, 1)

	// a newcomer with a large lifetime total must not be attributed
	attr := tracker.Observe([]probe.Process{
		proc("1@1", "old", 1, 1),
		proc("2@9", "newcomer", 5000, 1),
	}, time.Second, 1)

	assert.Nil(t, attr.TopCPU)
	require.Len(t, attr.Usages, 1)
	assert.Equal(t, "old", attr.Usages[0].Name)
	assert.Zero(t, attr.Usages[0].CPUPercent)
	assert.Equal(t, 2, tracker.Tracked())
}

func TestObserveSkipsExcludedNames(t *testing.T) {
	tracker := NewTracker([]string{"Chrome"})
	procs := func(scale float64) []probe.Process {
		return []probe.Process{
			proc("4@1", "System", 10*scale, 1),
			proc("5@1", "MsMpEng.exe", 20*scale, 1),
			proc("6@1", "chrome.EXE", 30*scale, 1),
			proc("7@1", "svchost.exe", 40*scale, 1),
			proc("8@1", "game", 1*scale, 1),
		}
	}
	tracker.Observe(procs(1), time.Second, 1)
	attr := tracker.Observe(procs(2), time.Second, 1)

	require.NotNil(t, attr.TopCPU)
	assert.Equal(t, "game", attr.TopCPU.Name)
	assert.Len(t, attr.Usages, 5)
	assert.True(t, tracker.Excluded("MEMORY COMPRESSION"))
	assert.True(t, tracker.Excluded("wmiprvse.exe"))
	assert.False(t, tracker.Excluded("game"))
}

func TestObserveTiesGoToFirstSeen(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Observe([]probe.Process{proc("a@1", "alpha", 0, 50), proc("b@1", "beta", 0, 50)}, time.Second, 2)

	attr := tracker.Observe([]probe.Process{proc("a@1", "alpha", 1, 50), proc("b@1", "beta", 1, 50)}, time.Second, 2)
	require.NotNil(t, attr.TopCPU)
	assert.Equal(t, "alpha", attr.TopCPU.Name)
	assert.InDelta(t, 50.0, attr.TopCPU.CPUPercent, 1e-9)
	require.NotNil(t, attr.TopMem)
	assert.Equal(t, "alpha", attr.TopMem.Name)
	assert.InDelta(t, 50.0, attr.TopMemMB(), 1e-9)
}

func TestObserveIdleTickHasNoTopCPU(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Observe([]probe.Process{proc("a@1", "alpha", 3, 10)}, time.Second, 1)

	attr := tracker.Observe([]probe.Process{proc("a@1", "alpha", 3, 10)}, time.Second, 1)
	assert.Nil(t, attr.TopCPU)
	require.NotNil(t, attr.TopMem)
	assert.Equal(t, "alpha", attr.TopMem.Name)
}

func TestObserveHandlesVanishingAndRecycledProcesses(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Observe([]probe.Process{proc("42@100", "worker", 50, 1), proc("43@100", "other", 1, 1)}, time.Second, 1)

	// worker exits, pid 42 is recycled by a new process
	attr := tracker.Observe([]probe.Process{proc("42@200", "worker", 0.5, 1), proc("43@100", "other", 1.2, 1)}, time.Second, 1)
	require.NotNil(t, attr.TopCPU)
	assert.Equal(t, "other", attr.TopCPU.Name)
	assert.InDelta(t, 20.0, attr.TopCPU.CPUPercent, 1e-9)
	assert.Equal(t, 2, tracker.Tracked())

	attr = tracker.Observe(nil, time.Second, 1)
	assert.Nil(t, attr.TopCPU)
	assert.Nil(t, attr.TopMem)
	assert.Zero(t, tracker.Tracked())
}

func TestObserveClampsDecreasingCounters(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Observe([]probe.Process{proc("a@1", "alpha", 10, 1)}, time.Second, 1)

	attr := tracker.Observe([]probe.Process{proc("a@1", "alpha", 4, 1)}, time.Second, 1)
	require.Len(t, attr.Usages, 1)
	assert.Zero(t, attr.Usages[0].CPUPercent)
	assert.Nil(t, attr.TopCPU)
}

func TestCPUPercentRoundsToOneDecimal(t *testing.T) {
	assert.InDelta(t, 33.3, cpuPercent(0, 1, 3, 1), 1e-9)
	assert.InDelta(t, 16.7, cpuPercent(0, 1, 3, 2), 1e-9)
}
