package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/l473n7dR34m/hotdiag/internal/app"
	"github.com/l473n7dR34m/hotdiag/internal/config"
	"github.com/l473n7dR34m/hotdiag/internal/version"
)

var (
	buildVersion = ""
	buildCommit  = ""
	buildTime    = ""
)

const usage = `hotdiag samples CPU load, clock speed and the busiest processes, then
explains why the machine runs hot or slow.

Usage: hotdiag [flags]

Flags:
  -interval duration      sampling interval (default 5s)
  -minutes int            session length, 0 runs until interrupted (default 10)
  -low-clock-ratio float  clock/max ratio counted as low clock (default 0.8)
  -streak int             low-clock samples in a row that raise an alert (default 3)
  -high-load float        CPU load percentage treated as high load (default 70)
  -exclude list           comma separated process names never reported as top CPU
  -csv path               append every sample to this CSV file
  -report-json path       write the final report as JSON
  -bell                   ring the terminal bell on sustained low clock (default true)
  -quiet                  do not print a line per sample
  -stress int             run N synthetic CPU load workers during the session
  -listen addr            serve live status, WebSocket and metrics on addr
  -log-level level        debug|info|warn|error (default info)

Every flag also reads HOTDIAG_* environment variables and a .env file.
`

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(os.Stdout, usage)
			return
		}
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
		slog.New(handler).Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	logger.Info("hotdiag starting", "version", version.Current().String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, logger, cfg); err != nil {
		logger.Error("application error", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
