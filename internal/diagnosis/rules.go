package diagnosis

import "math"

// facts are the derived figures every rule reads.
type facts struct {
	samples             int
	highLoad            int
	lowClockPct         float64
	highLoadLowClockPct float64
	baseIsFlat          bool
	avgLoad             float64
	maxLoad             float64
	thermalEvents       int
	topCPU              string
}

type rule struct {
	name  string
	guard func(t Thresholds, f facts) bool
	apply func(r *Result)
}

const (
	actionInspectEvents = "Inspect the OS thermal/power event log for the session window and check airflow around the intake and exhaust vents."
	actionClearVents    = "Clear the vents, run on a hard surface and confirm CPU boost is enabled in the BIOS/UEFI setup."
	actionPowerPlan     = "Switch to a balanced or high-performance power plan and check the processor boost mode setting (Windows: powercfg PERFBOOSTMODE; Linux: cpufreq boost / intel_pstate no_turbo)."
	actionBIOSTurbo     = "Check the BIOS/UEFI or vendor utility for a disabled Turbo Boost / Precision Boost or a forced quiet/battery profile."
	actionAirflow       = "Check airflow, fan operation and thermal paste, and confirm the power plan does not cap the maximum processor state."
	actionReviewEDR     = "Review the security agent's scan schedule and exclusions; full scans during working hours keep the CPU busy and hot."
)

// independentRules all run.
var independentRules = []rule{
	{
		name:  "thermal-events",
		guard: func(_ Thresholds, f facts) bool { return f.thermalEvents > 0 },
		apply: func(r *Result) {
			r.add(EventLogHeat, actionInspectEvents)
		},
	},
}

// cascade is an else-if chain: the first matching rule wins.
var cascade = []rule{
	{
		name: "joint-high-load-low-clock",
		guard: func(t Thresholds, f facts) bool {
			need := int(math.Ceil(float64(f.samples) * t.JointHighLoadShare))
			return f.highLoad > 0 && f.highLoad >= need && f.highLoadLowClockPct >= t.JointLowClockPct
		},
		apply: func(r *Result) {
			r.add(ThermalThrottling, actionClearVents)
		},
	},
	{
		name: "flat-clock-under-load",
		guard: func(t Thresholds, f facts) bool {
			return f.baseIsFlat && f.maxLoad >= t.FlatMaxLoadPct
		},
		apply: func(r *Result) {
			r.add(BoostDisabled, actionPowerPlan)
			r.add(PowerPolicySuspect, actionBIOSTurbo)
		},
	},
	{
		name: "light-workload",
		guard: func(t Thresholds, f facts) bool {
			return f.avgLoad < t.LightAvgLoadPct && f.lowClockPct <= t.LightLowClockPct
		},
		apply: func(r *Result) {
			r.add(Healthy, "")
			r.add(WorkloadLight, "")
		},
	},
	{
		name: "frequent-low-clock",
		guard: func(t Thresholds, f facts) bool {
			return f.lowClockPct > t.ThrottleLowClockPct
		},
		apply: func(r *Result) {
			r.add(ThermalThrottling, actionAirflow)
		},
	},
	{
		name:  "default",
		guard: func(Thresholds, facts) bool { return true },
		apply: func(r *Result) {
			r.add(Healthy, "")
		},
	},
}

var edrRule = rule{
	name:  "edr-top-cpu",
	guard: func(_ Thresholds, f facts) bool { return IsEDRProcess(f.topCPU) },
	apply: func(r *Result) {
		r.add(EDRHint, actionReviewEDR)
	},
}
