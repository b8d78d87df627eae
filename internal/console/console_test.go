package console

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l473n7dR34m/hotdiag/internal/diagnosis"
	"github.com/l473n7dR34m/hotdiag/internal/model"
	"github.com/l473n7dR34m/hotdiag/internal/report"
	"github.com/l473n7dR34m/hotdiag/internal/session"
)

func TestObserveSamplePrintsOneLine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.ObserveSample(model.Sample{
		Timestamp:      time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC),
		CPULoadPct:     91.5,
		ClockMHz:       1600,
		MaxClockMHz:    4000,
		RAMAvailMB:     2048,
		TopCPU:         &model.ProcessShare{Name: "chrome", CPUPercent: 25},
		TopMem:         &model.MemoryShare{Name: "firefox", MemoryMB: 812},
		LowClock:       true,
		LowClockStreak: 3,
		Alert:          true,
		ThermalEvents:  2,
	})

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "\n"))
	for _, want := range []string{"12:00:05", "91.5%", "1600/4000 MHz", "LOW x3", "ALERT", "chrome 25.0%", "firefox 812 MB", "thermal 2"} {
		assert.Contains(t, out, want)
	}
}

func TestFormatSampleWithoutClockOrAttribution(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{})
	line := p.FormatSample(model.Sample{Timestamp: time.Unix(0, 0).UTC(), CPULoadPct: 3})

	assert.Contains(t, line, "clock n/a")
	assert.NotContains(t, line, "LOW")
	assert.NotContains(t, line, "ALERT")
	assert.NotContains(t, line, "top ")
}

func testSummary() session.Summary {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return session.Summary{
		ID:               "s1",
		Start:            start,
		End:              start.Add(10 * time.Minute),
		Samples:          10,
		LowClockSamples:  4,
		HighLoadSamples:  6,
		HighLoadLowClock: 4,
		Clock:            session.Stats{Min: 1600, Max: 3900, Avg: 2800},
		Load:             session.Stats{Min: 10, Max: 99, Avg: 70},
		MaxClockMHz:      4000,
		CPUHits:          []session.Hit{{Name: "code", Count: 3}, {Name: "chrome", Count: 6}, {Name: "slack", Count: 1}},
		MemHits:          []session.Hit{{Name: "firefox", Count: 10}},
	}
}

func TestRenderReportWithDiagnosis(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{})
	res := &diagnosis.Result{
		Session:     "s1",
		Conclusions: []diagnosis.Conclusion{diagnosis.ThermalThrottling},
		Actions:     []string{"Clear the vents."},
		Metrics:     diagnosis.Metrics{LowClockPct: 40, HighLoadLowClockPct: 40},
	}
	rep := report.New(testSummary(), res, 5*time.Second, diagnosis.DefaultThresholds(), time.Now())

	out := p.RenderReport(rep)
	for _, want := range []string{
		"hotdiag session report",
		"s1",
		"10 every 5s",
		"4 (40.0%)",
		"thermal-throttling",
		Describe(diagnosis.ThermalThrottling),
		"1. Clear the vents.",
		"firefox",
	} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "chrome"), strings.Index(out, "code"), "hits sorted by count")
}

func TestRenderReportWithoutSamples(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{})
	rep := report.New(session.Summary{ID: "s2", Start: time.Now()}, nil, time.Second, diagnosis.DefaultThresholds(), time.Now())

	out := p.RenderReport(rep)
	assert.Contains(t, out, "nothing to diagnose")
	assert.Contains(t, out, "none")
	assert.NotContains(t, out, "Next steps")
}

func TestPrintReportWrites(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	require.NoError(t, p.PrintReport(report.New(testSummary(), nil, time.Second, diagnosis.DefaultThresholds(), time.Now())))
	assert.Contains(t, buf.String(), "Diagnosis")
}

func TestRenderHitsTruncatesAndLimits(t *testing.T) {
	hits := []session.Hit{
		{Name: "a-very-long-process-name-indeed", Count: 9},
		{Name: "b", Count: 1}, {Name: "c", Count: 1}, {Name: "d", Count: 1}, {Name: "e", Count: 1}, {Name: "f", Count: 1},
	}
	out := renderHits(hits, 14)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 1+hitRows)
	assert.Contains(t, lines[1], "…")
	assert.NotContains(t, out, "\nf ")
}
