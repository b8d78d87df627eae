// Package record persists samples to a CSV file as they arrive.
package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	ext "github.com/reugn/go-streams/extension"
	"github.com/reugn/go-streams/flow"

	"github.com/l473n7dR34m/hotdiag/internal/model"
)

const queueSize = 64

// Header is the first row of every file written by a CSVRecorder.
var Header = []string{
	"timestamp",
	"session",
	"cpu_load_pct",
	"clock_mhz",
	"max_clock_mhz",
	"low_clock",
	"low_clock_streak",
	"alert",
	"ram_used_mb",
	"ram_avail_mb",
	"top_cpu",
	"top_cpu_pct",
	"top_mem",
	"top_mem_mb",
	"thermal_events",
}

// CSVRecorder appends one row per sample. Rows are formatted on a stream
// stage and written by a single goroutine, so ObserveSample never blocks on
// disk.
type CSVRecorder struct {
	path   string
	file   *os.File
	writer *csv.Writer
	logger *slog.Logger

	in      chan any
	out     chan any
	done    chan struct{}
	dropped atomic.Uint64
	written atomic.Uint64

	mu       sync.Mutex
	closed   bool
	writeErr error
}

// NewCSVRecorder opens path for appending. The header is written when the
// file is empty.
func NewCSVRecorder(path string, logger *slog.Logger) (*CSVRecorder, error) {
	if path == "" {
		return nil, errors.New("csv path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat csv %s: %w", path, err)
	}

	r := &CSVRecorder{
		path:   path,
		file:   file,
		writer: csv.NewWriter(file),
		logger: logger,
		in:     make(chan any, queueSize),
		out:    make(chan any),
		done:   make(chan struct{}),
	}

	if info.Size() == 0 {
		if err := r.writeRow(Header); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}

	source := ext.NewChanSource(r.in)
	rows := flow.NewMap(FormatRow, 1)
	go source.Via(rows).To(ext.NewChanSink(r.out))
	go r.drain()

	return r, nil
}

// Path returns the file being written.
func (r *CSVRecorder) Path() string {
	return r.path
}

// ObserveSample queues the sample for writing. When the writer falls behind
// the sample is dropped and counted.
func (r *CSVRecorder) ObserveSample(sample model.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.in <- sample:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("csv writer behind, sample dropped", "dropped", n)
		}
	}
}

// Written reports how many sample rows reached the file.
func (r *CSVRecorder) Written() uint64 {
	return r.written.Load()
}

// Dropped reports how many samples were discarded because the queue was full.
func (r *CSVRecorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close drains queued samples and closes the file. It is safe to call more
// than once.
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.in)
	r.mu.Unlock()

	<-r.done

	var errs []error
	if r.writeErr != nil {
		errs = append(errs, r.writeErr)
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close csv: %w", err))
	}
	return errors.Join(errs...)
}

func (r *CSVRecorder) drain() {
	defer close(r.done)
	for elem := range r.out {
		row, ok := elem.([]string)
		if !ok {
			continue
		}
		if r.writeErr != nil {
			continue
		}
		if err := r.writeRow(row); err != nil {
			r.writeErr = fmt.Errorf("write csv row: %w", err)
			r.logger.Error("csv write failed, recording stopped", "path", r.path, "err", err)
			continue
		}
		r.written.Add(1)
	}
}

func (r *CSVRecorder) writeRow(row []string) error {
	if err := r.writer.Write(row); err != nil {
		return err
	}
	r.writer.Flush()
	return r.writer.Error()
}

// FormatRow renders a sample in Header column order.
func FormatRow(s model.Sample) []string {
	var topCPU, topCPUPct, topMem, topMemMB string
	if s.TopCPU != nil {
		topCPU = s.TopCPU.Name
		topCPUPct = formatFloat(s.TopCPU.CPUPercent)
	}
	if s.TopMem != nil {
		topMem = s.TopMem.Name
		topMemMB = formatFloat(s.TopMem.MemoryMB)
	}
	return []string{
		s.Timestamp.UTC().Format(time.RFC3339),
		s.Session,
		formatFloat(s.CPULoadPct),
		formatFloat(s.ClockMHz),
		formatFloat(s.MaxClockMHz),
		strconv.FormatBool(s.LowClock),
		strconv.Itoa(s.LowClockStreak),
		strconv.FormatBool(s.Alert),
		formatFloat(s.RAMUsedMB),
		formatFloat(s.RAMAvailMB),
		topCPU,
		topCPUPct,
		topMem,
		topMemMB,
		strconv.Itoa(s.ThermalEvents),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
