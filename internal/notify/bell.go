// Package notify raises an alert when the clock stays low for a full streak.
package notify

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/l473n7dR34m/hotdiag/internal/model"
)

const bell = "\a"

// Bell rings the terminal bell and logs a warning each time a low-clock
// alert starts. A streak that keeps going does not ring again.
type Bell struct {
	mu      sync.Mutex
	w       io.Writer
	logger  *slog.Logger
	audible bool
	active  bool
	raised  int
}

// NewBell builds a Bell writing to w. When audible is false only the warning
// is logged.
func NewBell(w io.Writer, audible bool, logger *slog.Logger) *Bell {
	if logger == nil {
		logger = slog.Default()
	}
	if w == nil {
		audible = false
	}
	return &Bell{w: w, audible: audible, logger: logger}
}

// Interactive reports whether f is a terminal. Bells are pointless when
// output is redirected.
func Interactive(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ObserveSample fires on the first alerted sample of each streak.
func (b *Bell) ObserveSample(s model.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !s.Alert {
		b.active = false
		return
	}
	if b.active {
		return
	}
	b.active = true
	b.raised++

	b.logger.Warn("sustained low clock",
		"streak", s.LowClockStreak,
		"clock_mhz", s.ClockMHz,
		"max_clock_mhz", s.MaxClockMHz,
		"cpu_load_pct", s.CPULoadPct,
		"top_cpu", s.TopCPUName(),
	)
	if b.audible {
		_, _ = io.WriteString(b.w, bell)
	}
}

// Raised reports how many alerts have fired.
func (b *Bell) Raised() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raised
}
