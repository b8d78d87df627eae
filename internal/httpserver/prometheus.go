package httpserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l473n7dR34m/hotdiag/internal/diagnosis"
	"github.com/l473n7dR34m/hotdiag/internal/model"
	"github.com/l473n7dR34m/hotdiag/internal/session"
)

const metricsNamespace = "hotdiag"

var allConclusions = []diagnosis.Conclusion{
	diagnosis.EventLogHeat,
	diagnosis.ThermalThrottling,
	diagnosis.BoostDisabled,
	diagnosis.PowerPolicySuspect,
	diagnosis.Healthy,
	diagnosis.WorkloadLight,
	diagnosis.EDRHint,
}

type sessionCollector struct {
	session    SessionView
	now        func() time.Time
	sample     []sampleMetric
	summary    []summaryMetric
	state      *prometheus.Desc
	conclusion *prometheus.Desc
}

type sampleMetric struct {
	desc    *prometheus.Desc
	extract func(sample model.Sample, now time.Time) (float64, bool)
}

type summaryMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	extract   func(sum session.Summary) float64
}

func newSessionCollector(view SessionView) prometheus.Collector {
	if view == nil {
		return nil
	}

	labels := []string{"session"}
	desc := func(subsystem, name, help string, extra ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, subsystem, name),
			help,
			append(append([]string(nil), labels...), extra...),
			nil,
		)
	}
	boolValue := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}

	c := &sessionCollector{
		session:    view,
		now:        time.Now,
		state:      desc("session", "state", "Sampling session lifecycle stage (1 for the current state).", "state"),
		conclusion: desc("diagnosis", "conclusion", "Conclusions of the finalized session diagnosis.", "conclusion"),
	}

	c.sample = []sampleMetric{
		{
			desc: desc("cpu", "load_percent", "Aggregate CPU load of the latest sample."),
			extract: func(s model.Sample, _ time.Time) (float64, bool) {
				return s.CPULoadPct, true
			},
		},
		{
			desc: desc("cpu", "clock_mhz", "Current CPU clock of the latest sample in MHz."),
			extract: func(s model.Sample, _ time.Time) (float64, bool) {
				return s.ClockMHz, s.MaxClockMHz > 0
			},
		},
		{
			desc: desc("cpu", "max_clock_mhz", "Rated maximum CPU clock in MHz."),
			extract: func(s model.Sample, _ time.Time) (float64, bool) {
				return s.MaxClockMHz, s.MaxClockMHz > 0
			},
		},
		{
			desc: desc("memory", "used_megabytes", "Used physical memory in MB."),
			extract: func(s model.Sample, _ time.Time) (float64, bool) {
				return s.RAMUsedMB, true
			},
		},
		{
			desc: desc("memory", "available_megabytes", "Available physical memory in MB."),
			extract: func(s model.Sample, _ time.Time) (float64, bool) {
				return s.RAMAvailMB, true
			},
		},
		{
			desc: desc("cpu", "low_clock_streak", "Consecutive samples below the low-clock threshold."),
			extract: func(s model.Sample, _ time.Time) (float64, bool) {
				return float64(s.LowClockStreak), true
			},
		},
		{
			desc: desc("cpu", "low_clock_alert", "1 while the low-clock streak alert is raised."),
			extract: func(s model.Sample, _ time.Time) (float64, bool) {
				return boolValue(s.Alert), true
			},
		},
		{
			desc: desc("cpu", "top_process_percent", "CPU share of the top process of the latest interval."),
			extract: func(s model.Sample, _ time.Time) (float64, bool) {
				if s.TopCPU == nil {
					return 0, false
				}
				return s.TopCPU.CPUPercent, true
			},
		},
		{
			desc: desc("sample", "age_seconds", "Seconds elapsed since the latest sample was collected."),
			extract: func(s model.Sample, now time.Time) (float64, bool) {
				return sampleAge(s, now), !s.Timestamp.IsZero()
			},
		},
	}

	c.summary = []summaryMetric{
		{
			desc:      desc("session", "samples_total", "Samples aggregated in this session."),
			valueType: prometheus.CounterValue,
			extract:   func(s session.Summary) float64 { return float64(s.Samples) },
		},
		{
			desc:      desc("session", "low_clock_samples_total", "Samples below the low-clock threshold."),
			valueType: prometheus.CounterValue,
			extract:   func(s session.Summary) float64 { return float64(s.LowClockSamples) },
		},
		{
			desc:      desc("session", "high_load_samples_total", "Samples at or above the high-load threshold."),
			valueType: prometheus.CounterValue,
			extract:   func(s session.Summary) float64 { return float64(s.HighLoadSamples) },
		},
		{
			desc:      desc("session", "high_load_low_clock_samples_total", "High-load samples that were also low-clock."),
			valueType: prometheus.CounterValue,
			extract:   func(s session.Summary) float64 { return float64(s.HighLoadLowClock) },
		},
		{
			desc:      desc("session", "thermal_events", "OS thermal throttle events since the session started."),
			valueType: prometheus.GaugeValue,
			extract:   func(s session.Summary) float64 { return float64(s.ThermalEvents) },
		},
		{
			desc:      desc("session", "clock_avg_mhz", "Average CPU clock over the session in MHz."),
			valueType: prometheus.GaugeValue,
			extract:   func(s session.Summary) float64 { return s.Clock.Avg },
		},
		{
			desc:      desc("session", "load_avg_percent", "Average CPU load over the session."),
			valueType: prometheus.GaugeValue,
			extract:   func(s session.Summary) float64 { return s.Load.Avg },
		},
	}

	return c
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.sample {
		ch <- metric.desc
	}
	for _, metric := range c.summary {
		ch <- metric.desc
	}
	ch <- c.state
	ch <- c.conclusion
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	id := c.session.SessionID()
	current := c.session.State()
	for _, state := range []string{"idle", "running", "finalizing", "terminated"} {
		value := 0.0
		if state == current.String() {
			value = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, value, id, state)
	}

	if sample, ok := c.session.Latest(); ok {
		now := c.now()
		for _, metric := range c.sample {
			value, ok := metric.extract(sample, now)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value, id)
		}
	}

	sum := c.session.Summary()
	for _, metric := range c.summary {
		ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, metric.extract(sum), id)
	}

	if res, ok := c.session.Diagnosis(); ok {
		for _, conclusion := range allConclusions {
			value := 0.0
			if res.Has(conclusion) {
				value = 1
			}
			ch <- prometheus.MustNewConstMetric(c.conclusion, prometheus.GaugeValue, value, id, string(conclusion))
		}
	}
}

// sampleAge reports how old sample is at now, never negative.
func sampleAge(sample model.Sample, now time.Time) float64 {
	if sample.Timestamp.IsZero() {
		return 0
	}
	age := now.Sub(sample.Timestamp).Seconds()
	if age < 0 {
		return 0
	}
	return age
}
