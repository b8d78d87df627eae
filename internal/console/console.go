// Package console renders live samples and the end-of-session report for a
// terminal.
package console

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/l473n7dR34m/hotdiag/internal/diagnosis"
	"github.com/l473n7dR34m/hotdiag/internal/model"
	"github.com/l473n7dR34m/hotdiag/internal/report"
	"github.com/l473n7dR34m/hotdiag/internal/session"
)

const hitRows = 5

type styles struct {
	title  lipgloss.Style
	subtle lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	warn   lipgloss.Style
	alert  lipgloss.Style
	good   lipgloss.Style
	card   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("45")),
		subtle: r.NewStyle().Foreground(lipgloss.Color("244")),
		label:  r.NewStyle().Foreground(lipgloss.Color("81")).Bold(true),
		value:  r.NewStyle().Foreground(lipgloss.Color("252")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("214")),
		alert:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		good:   r.NewStyle().Foreground(lipgloss.Color("42")),
		card: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("60")).
			Padding(0, 1).
			MarginRight(1),
	}
}

// Printer writes one line per sample and the final report. Colour is used
// only when w is a terminal.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	styles styles
}

// NewPrinter builds a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		w:      w,
		styles: newStyles(lipgloss.NewRenderer(w)),
	}
}

// ObserveSample prints the sample line.
func (p *Printer) ObserveSample(s model.Sample) {
	line := p.FormatSample(s)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, line)
}

// FormatSample renders a sample as a single line.
func (p *Printer) FormatSample(s model.Sample) string {
	st := p.styles
	parts := []string{
		st.subtle.Render(s.Timestamp.Format("15:04:05")),
		fmt.Sprintf("load %s", st.value.Render(fmt.Sprintf("%5.1f%%", s.CPULoadPct))),
	}

	if s.MaxClockMHz > 0 {
		clock := fmt.Sprintf("clock %4.0f/%4.0f MHz (%3.0f%%)", s.ClockMHz, s.MaxClockMHz, 100*s.ClockMHz/s.MaxClockMHz)
		if s.LowClock {
			clock = st.warn.Render(clock)
		}
		parts = append(parts, clock)
	} else {
		parts = append(parts, st.subtle.Render("clock n/a"))
	}

	parts = append(parts, fmt.Sprintf("ram %.0f MB free", s.RAMAvailMB))

	if s.LowClock {
		parts = append(parts, st.warn.Render(fmt.Sprintf("LOW x%d", s.LowClockStreak)))
	}
	if s.Alert {
		parts = append(parts, st.alert.Render("ALERT"))
	}
	if s.TopCPU != nil {
		parts = append(parts, fmt.Sprintf("top %s %.1f%%", st.label.Render(s.TopCPU.Name), s.TopCPU.CPUPercent))
	}
	if s.TopMem != nil {
		parts = append(parts, fmt.Sprintf("mem %s %.0f MB", s.TopMem.Name, s.TopMem.MemoryMB))
	}
	if s.ThermalEvents > 0 {
		parts = append(parts, st.alert.Render(fmt.Sprintf("thermal %d", s.ThermalEvents)))
	}
	return strings.Join(parts, "  ")
}

// PrintReport writes the rendered report.
func (p *Printer) PrintReport(rep report.Report) error {
	out := p.RenderReport(rep)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintln(p.w, out); err != nil {
		return fmt.Errorf("print report: %w", err)
	}
	return nil
}

// RenderReport lays out the summary, the top process tables and the
// diagnosis.
func (p *Printer) RenderReport(rep report.Report) string {
	st := p.styles
	sum := rep.Summary

	header := st.title.Render("hotdiag session report") + "  " +
		st.subtle.Render(rep.Version.String())

	summaryCard := p.card("Session", p.renderSummary(rep))
	hits := lipgloss.JoinHorizontal(lipgloss.Top,
		p.card("Top CPU (by interval)", renderHits(sum.CPUHits, sum.Samples)),
		p.card("Top memory (by interval)", renderHits(sum.MemHits, sum.Samples)),
	)

	var diag string
	if rep.Diagnosis == nil {
		notes := rep.Notes
		if len(notes) == 0 {
			notes = []string{"no diagnosis available"}
		}
		diag = p.card("Diagnosis", st.subtle.Render(strings.Join(notes, "\n")))
	} else {
		diag = p.card("Diagnosis", p.renderDiagnosis(*rep.Diagnosis))
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, summaryCard, hits, diag)
}

func (p *Printer) card(title, body string) string {
	return p.styles.card.Render(p.styles.label.Render(title) + "\n" + body)
}

func (p *Printer) renderSummary(rep report.Report) string {
	sum := rep.Summary
	rows := [][2]string{
		{"id", sum.ID},
		{"window", formatWindow(sum.Start, sum.End, rep.Duration())},
		{"samples", fmt.Sprintf("%d every %s", sum.Samples, rep.Interval)},
	}
	if sum.Samples > 0 {
		rows = append(rows,
			[2]string{"clock", fmt.Sprintf("min %.0f  avg %.0f  max %.0f MHz (rated %.0f)", sum.Clock.Min, sum.Clock.Avg, sum.Clock.Max, sum.MaxClockMHz)},
			[2]string{"load", fmt.Sprintf("min %.1f  avg %.1f  max %.1f %%", sum.Load.Min, sum.Load.Avg, sum.Load.Max)},
			[2]string{"low clock", fmt.Sprintf("%d (%.1f%%)", sum.LowClockSamples, pct(sum.LowClockSamples, sum.Samples))},
			[2]string{"high load", fmt.Sprintf("%d, %d of them at low clock", sum.HighLoadSamples, sum.HighLoadLowClock)},
		)
	}
	events := fmt.Sprintf("%d", sum.ThermalEvents)
	if sum.ThermalEvents > 0 {
		events = p.styles.alert.Render(events)
	}
	rows = append(rows, [2]string{"thermal events", events})

	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-15s %s", row[0], row[1])
	}
	return b.String()
}

func (p *Printer) renderDiagnosis(res diagnosis.Result) string {
	st := p.styles
	var b strings.Builder
	for _, c := range res.Conclusions {
		style := st.warn
		switch c {
		case diagnosis.Healthy, diagnosis.WorkloadLight:
			style = st.good
		case diagnosis.ThermalThrottling, diagnosis.EventLogHeat:
			style = st.alert
		}
		fmt.Fprintf(&b, "%s  %s\n", style.Render(string(c)), Describe(c))
	}
	fmt.Fprintf(&b, "%s\n", st.subtle.Render(fmt.Sprintf(
		"low clock %.1f%% of samples, %.1f%% under high load", res.Metrics.LowClockPct, res.Metrics.HighLoadLowClockPct)))
	if len(res.Actions) > 0 {
		b.WriteString(st.label.Render("Next steps") + "\n")
		for i, a := range res.Actions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Describe returns a one-line explanation of a conclusion.
func Describe(c diagnosis.Conclusion) string {
	switch c {
	case diagnosis.EventLogHeat:
		return "the platform recorded thermal throttle events during the session"
	case diagnosis.ThermalThrottling:
		return "the clock dropped while the CPU was busy"
	case diagnosis.BoostDisabled:
		return "the clock never moved even under heavy load"
	case diagnosis.PowerPolicySuspect:
		return "a power policy may be capping the processor state"
	case diagnosis.Healthy:
		return "no sustained low clock was observed"
	case diagnosis.WorkloadLight:
		return "the workload was too light to judge throttling"
	case diagnosis.EDRHint:
		return "a security agent was the most frequent top CPU consumer"
	default:
		return string(c)
	}
}

func renderHits(hits []session.Hit, samples int) string {
	if len(hits) == 0 {
		return "none"
	}
	sorted := append([]session.Hit(nil), hits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	if len(sorted) > hitRows {
		sorted = sorted[:hitRows]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %6s %6s", "process", "hits", "share")
	for _, h := range sorted {
		fmt.Fprintf(&b, "\n%-20s %6d %5.1f%%", truncate(h.Name, 20), h.Count, pct(h.Count, samples))
	}
	return b.String()
}

func formatWindow(start, end time.Time, d time.Duration) string {
	if start.IsZero() {
		return "n/a"
	}
	if end.IsZero() {
		return start.Format(time.DateTime) + " (running)"
	}
	return fmt.Sprintf("%s to %s (%s)", start.Format(time.DateTime), end.Format(time.TimeOnly), d.Round(time.Second))
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
