// Package app wires up and runs one diagnostic session.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/l473n7dR34m/hotdiag/internal/clock"
	"github.com/l473n7dR34m/hotdiag/internal/config"
	"github.com/l473n7dR34m/hotdiag/internal/console"
	"github.com/l473n7dR34m/hotdiag/internal/diagnosis"
	"github.com/l473n7dR34m/hotdiag/internal/httpserver"
	"github.com/l473n7dR34m/hotdiag/internal/loadgen"
	"github.com/l473n7dR34m/hotdiag/internal/notify"
	"github.com/l473n7dR34m/hotdiag/internal/probe"
	"github.com/l473n7dR34m/hotdiag/internal/procscan"
	"github.com/l473n7dR34m/hotdiag/internal/record"
	"github.com/l473n7dR34m/hotdiag/internal/report"
	"github.com/l473n7dR34m/hotdiag/internal/sampler"
)

const shutdownTimeout = 10 * time.Second

type environment struct {
	stdout      io.Writer
	interactive bool
	source      sampler.Source
	sessionID   string
}

// Run samples the host for the configured duration, or until ctx is
// cancelled, then prints the diagnosis.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	return run(ctx, baseLogger, cfg, environment{
		stdout:      os.Stdout,
		interactive: notify.Interactive(os.Stdout),
	})
}

func run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, env environment) error {
	if env.sessionID == "" {
		env.sessionID = uuid.NewString()
	}
	appLogger := baseLogger.With("component", "app", "session", env.sessionID)

	source := env.source
	if source == nil {
		reader, err := probe.NewReader(cfg.SysfsRoot, cfg.MaxPIDs, baseLogger.With("component", "probe"))
		if err != nil {
			return fmt.Errorf("init metric source: %w", err)
		}
		appLogger.Info("metric source ready", "logical_cores", reader.LogicalCores())
		source = reader
	}

	tracker := procscan.NewTracker(cfg.Exclude)
	detector, err := clock.NewDetector(cfg.LowClockRatio, cfg.LowClockStreak)
	if err != nil {
		return fmt.Errorf("init low-clock detector: %w", err)
	}
	engine, err := diagnosis.NewEngine(thresholds(cfg.Diagnosis))
	if err != nil {
		return fmt.Errorf("init diagnosis engine: %w", err)
	}

	manager, err := sampler.NewManager(sampler.Settings{
		SessionID:    env.sessionID,
		Interval:     cfg.Interval,
		Duration:     cfg.Duration,
		HighLoadPct:  cfg.HighLoadPct,
		HistoryLimit: cfg.HistoryLimit,
	}, source, tracker, detector, engine, baseLogger.With("component", "sampler"))
	if err != nil {
		return fmt.Errorf("init sampler: %w", err)
	}

	printer := console.NewPrinter(env.stdout)
	if !cfg.Quiet {
		manager.AddObserver(printer)
	}
	manager.AddObserver(notify.NewBell(env.stdout, cfg.Bell && env.interactive, baseLogger.With("component", "notify")))

	var recorder *record.CSVRecorder
	if cfg.CSVPath != "" {
		recorder, err = record.NewCSVRecorder(cfg.CSVPath, baseLogger.With("component", "record"))
		if err != nil {
			return fmt.Errorf("init csv recorder: %w", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				appLogger.Warn("csv recorder close", "err", err)
			}
		}()
		manager.AddObserver(recorder)
	}

	var gen *loadgen.Generator
	if cfg.StressWorkers > 0 {
		gen, err = loadgen.New(cfg.StressWorkers, baseLogger.With("component", "loadgen"))
		if err != nil {
			return fmt.Errorf("init load generator: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// The load generator stops with the session; the HTTP surface may linger.
	loadCtx, stopLoad := context.WithCancel(gctx)
	defer stopLoad()

	g.Go(func() error {
		defer stopLoad()
		res, err := manager.Run(gctx)
		if err != nil {
			return fmt.Errorf("sampling session: %w", err)
		}
		if recorder != nil {
			if err := recorder.Close(); err != nil {
				appLogger.Warn("csv recorder close", "err", err)
			} else {
				appLogger.Info("samples recorded", "path", recorder.Path(), "rows", recorder.Written(), "dropped", recorder.Dropped())
			}
		}
		rep := report.New(manager.Summary(), res, cfg.Interval, engine.Thresholds(), time.Now())
		return publishReport(rep, cfg.ReportJSON, printer, appLogger)
	})

	if gen != nil {
		g.Go(func() error {
			return gen.Run(loadCtx)
		})
	}

	if cfg.HTTP.ListenAddr != "" {
		srv := httpserver.New(cfg, baseLogger.With("component", "http"), manager)
		appLogger.Info("starting HTTP server", "listen_addr", cfg.HTTP.ListenAddr)

		g.Go(func() error {
			if err := srv.Start(); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			lingerAfterSession(gctx, manager.Done(), cfg.HTTP.Linger, appLogger)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// lingerAfterSession blocks until the session has ended and the linger
// period has passed, or until ctx is cancelled.
func lingerAfterSession(ctx context.Context, sessionDone <-chan struct{}, linger time.Duration, logger *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-sessionDone:
	}
	if linger <= 0 || ctx.Err() != nil {
		return
	}

	logger.Info("session finished, HTTP surface stays up", "linger", linger)
	timer := time.NewTimer(linger)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func publishReport(rep report.Report, jsonPath string, printer *console.Printer, logger *slog.Logger) error {
	var errs []error
	if jsonPath != "" {
		if err := report.WriteJSON(jsonPath, rep); err != nil {
			errs = append(errs, err)
		} else {
			logger.Info("report written", "path", jsonPath)
		}
	}
	if err := printer.PrintReport(rep); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func thresholds(c config.DiagnosisConfig) diagnosis.Thresholds {
	return diagnosis.Thresholds{
		JointHighLoadShare:  c.JointHighLoadShare,
		JointLowClockPct:    c.JointLowClockPct,
		FlatMaxLoadPct:      c.FlatMaxLoadPct,
		LightAvgLoadPct:     c.LightAvgLoadPct,
		LightLowClockPct:    c.LightLowClockPct,
		ThrottleLowClockPct: c.ThrottleLowClockPct,
	}
}
