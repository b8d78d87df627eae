// Package diagnosis classifies a finished session with an ordered rule list.
package diagnosis

import (
	"fmt"

	"github.com/l473n7dR34m/hotdiag/internal/session"
)

// Conclusion is a diagnostic label.
type Conclusion string

const (
	EventLogHeat       Conclusion = "event-log-heat"
	ThermalThrottling  Conclusion = "thermal-throttling"
	BoostDisabled      Conclusion = "boost-disabled"
	PowerPolicySuspect Conclusion = "power-policy-suspect"
	Healthy            Conclusion = "healthy"
	WorkloadLight      Conclusion = "workload-light"
	EDRHint            Conclusion = "edr-hint"
)

// flatEpsilon absorbs float noise when comparing clock min/max/avg.
const flatEpsilon = 1e-6

// Thresholds are the classifier tunables. Percentages are 0-100;
// JointHighLoadShare is the fraction of samples that must be high load.
type Thresholds struct {
	JointHighLoadShare  float64 `json:"joint_high_load_share"`
	JointLowClockPct    float64 `json:"joint_low_clock_pct"`
	FlatMaxLoadPct      float64 `json:"flat_max_load_pct"`
	LightAvgLoadPct     float64 `json:"light_avg_load_pct"`
	LightLowClockPct    float64 `json:"light_low_clock_pct"`
	ThrottleLowClockPct float64 `json:"throttle_low_clock_pct"`
}

// DefaultThresholds returns the stock tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		JointHighLoadShare:  0.2,
		JointLowClockPct:    20,
		FlatMaxLoadPct:      90,
		LightAvgLoadPct:     40,
		LightLowClockPct:    5,
		ThrottleLowClockPct: 10,
	}
}

// Metrics are the derived ratios the rules were evaluated against.
type Metrics struct {
	LowClockPct         float64 `json:"low_clock_pct"`
	HighLoadLowClockPct float64 `json:"high_load_low_clock_pct"`
	BaseIsFlat          bool    `json:"base_is_flat"`
	TopCPU              string  `json:"top_cpu,omitempty"`
}

// Result is the outcome of one diagnosis. Conclusions and Actions keep the
// order rules fired in, without duplicates.
type Result struct {
	Session     string       `json:"session"`
	Conclusions []Conclusion `json:"conclusions"`
	Actions     []string     `json:"actions"`
	Metrics     Metrics      `json:"metrics"`
	// Rules names the rules that fired.
	Rules []string `json:"rules"`
}

// Has reports whether c was concluded.
func (r Result) Has(c Conclusion) bool {
	for _, got := range r.Conclusions {
		if got == c {
			return true
		}
	}
	return false
}

func (r *Result) add(c Conclusion, action string) {
	if !r.Has(c) {
		r.Conclusions = append(r.Conclusions, c)
	}
	if action == "" {
		return
	}
	for _, a := range r.Actions {
		if a == action {
			return
		}
	}
	r.Actions = append(r.Actions, action)
}

// Engine evaluates the rules. It holds no per-session state.
type Engine struct {
	thresholds Thresholds
}

// NewEngine validates thresholds and builds an Engine.
func NewEngine(t Thresholds) (*Engine, error) {
	if t.JointHighLoadShare <= 0 || t.JointHighLoadShare > 1 {
		return nil, fmt.Errorf("joint high load share must be in (0, 1], got %v", t.JointHighLoadShare)
	}
	checks := []struct {
		name string
		pct  float64
	}{
		{"joint low clock", t.JointLowClockPct},
		{"flat max load", t.FlatMaxLoadPct},
		{"light avg load", t.LightAvgLoadPct},
		{"light low clock", t.LightLowClockPct},
		{"throttle low clock", t.ThrottleLowClockPct},
	}
	for _, c := range checks {
		if c.pct < 0 || c.pct > 100 {
			return nil, fmt.Errorf("%s threshold must be in [0, 100], got %v", c.name, c.pct)
		}
	}
	return &Engine{thresholds: t}, nil
}

// Thresholds returns the configured tuning.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Diagnose classifies sum. The result depends only on its input.
func (e *Engine) Diagnose(sum session.Summary) Result {
	f := deriveFacts(sum)
	res := Result{
		Session:     sum.ID,
		Conclusions: []Conclusion{},
		Actions:     []string{},
		Rules:       []string{},
		Metrics: Metrics{
			LowClockPct:         f.lowClockPct,
			HighLoadLowClockPct: f.highLoadLowClockPct,
			BaseIsFlat:          f.baseIsFlat,
			TopCPU:              f.topCPU,
		},
	}

	for _, r := range independentRules {
		if r.guard(e.thresholds, f) {
			r.apply(&res)
			res.Rules = append(res.Rules, r.name)
		}
	}
	for _, r := range cascade {
		if r.guard(e.thresholds, f) {
			r.apply(&res)
			res.Rules = append(res.Rules, r.name)
			break
		}
	}
	if edrRule.guard(e.thresholds, f) {
		edrRule.apply(&res)
		res.Rules = append(res.Rules, edrRule.name)
	}
	return res
}

func deriveFacts(sum session.Summary) facts {
	f := facts{
		samples:       sum.Samples,
		highLoad:      sum.HighLoadSamples,
		avgLoad:       sum.Load.Avg,
		maxLoad:       sum.Load.Max,
		thermalEvents: sum.ThermalEvents,
	}
	if sum.Samples > 0 {
		f.lowClockPct = float64(sum.LowClockSamples) / float64(sum.Samples) * 100
	}
	if sum.HighLoadSamples > 0 {
		f.highLoadLowClockPct = float64(sum.HighLoadLowClock) / float64(sum.HighLoadSamples) * 100
	}
	// An all-zero clock means the clock was never read, not that it was flat.
	c := sum.Clock
	f.baseIsFlat = sum.Samples > 0 && c.Max > 0 &&
		nearlyEqual(c.Min, c.Max) && nearlyEqual(c.Avg, c.Max)
	if top, ok := sum.TopCPU(); ok {
		f.topCPU = top.Name
	}
	return f
}

func nearlyEqual(a, b float64) bool {
	d := a - b
	return d < flatEpsilon && d > -flatEpsilon
}
