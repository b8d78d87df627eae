package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l473n7dR34m/hotdiag/internal/probe"
	"github.com/l473n7dR34m/hotdiag/internal/procscan"
)

type options struct {
	sysfsRoot string
	interval  time.Duration
	maxPIDs   int
	exclude   string
	processes bool
}

type output struct {
	First    probe.Snapshot   `json:"first"`
	Second   probe.Snapshot   `json:"second"`
	Elapsed  string           `json:"elapsed"`
	TopCPU   *procscan.Usage  `json:"top_cpu"`
	TopMem   *probe.Process   `json:"top_mem"`
	TopMemMB float64          `json:"top_mem_mb"`
	Usages   []procscan.Usage `json:"usages,omitempty"`
	Tracked  int              `json:"tracked"`
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.sysfsRoot, "sysfs", envOrDefault("HOTDIAG_SYSFS_ROOT", "/sys"), "Path to sysfs root")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "Time between the two snapshots")
	flag.IntVar(&opts.maxPIDs, "max-pids", 5000, "Upper bound on enumerated processes")
	flag.StringVar(&opts.exclude, "exclude", "", "Comma separated process names to ignore for top CPU")
	flag.BoolVar(&opts.processes, "processes", false, "Include full process lists and per-process usage")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader, err := probe.NewReader(opts.sysfsRoot, opts.maxPIDs, logger.With("component", "probe"))
	if err != nil {
		logger.Error("metric source init failed", "err", err)
		os.Exit(1)
	}

	var extra []string
	for _, name := range strings.Split(opts.exclude, ",") {
		if name = strings.TrimSpace(name); name != "" {
			extra = append(extra, name)
		}
	}
	tracker := procscan.NewTracker(extra)

	start := time.Now()
	first, err := reader.ReadSnapshot(ctx, start)
	if err != nil {
		logger.Error("first snapshot failed", "err", err)
		os.Exit(1)
	}
	tracker.Observe(first.Processes, opts.interval, first.LogicalCores)

	select {
	case <-ctx.Done():
		logger.Warn("interrupted", "reason", ctx.Err())
		os.Exit(1)
	case <-time.After(opts.interval):
	}

	second, err := reader.ReadSnapshot(ctx, start)
	if err != nil {
		logger.Error("second snapshot failed", "err", err)
		os.Exit(1)
	}
	elapsed := second.Timestamp.Sub(first.Timestamp)
	if elapsed <= 0 {
		elapsed = opts.interval
	}
	attr := tracker.Observe(second.Processes, elapsed, second.LogicalCores)

	out := output{
		First:    first,
		Second:   second,
		Elapsed:  elapsed.String(),
		TopCPU:   attr.TopCPU,
		TopMem:   attr.TopMem,
		TopMemMB: attr.TopMemMB(),
		Tracked:  tracker.Tracked(),
	}
	if opts.processes {
		out.Usages = attr.Usages
	} else {
		out.First.Processes = nil
		out.Second.Processes = nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("encode probe output", "err", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
