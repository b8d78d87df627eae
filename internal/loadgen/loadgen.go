// Package loadgen keeps CPU cores busy so throttling can be reproduced on
// demand.
package loadgen

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// burnSlice is how long a worker spins between cancellation checks.
const burnSlice = 10 * time.Millisecond

// Generator runs busy workers until its context ends.
type Generator struct {
	workers int
	logger  *slog.Logger
	rounds  atomic.Uint64
	sink    atomic.Uint64
}

// New builds a Generator with the given number of workers.
func New(workers int, logger *slog.Logger) (*Generator, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{workers: workers, logger: logger}, nil
}

// Workers returns the configured worker count.
func (g *Generator) Workers() int {
	return g.workers
}

// Rounds reports how many burn slices have completed across all workers.
func (g *Generator) Rounds() uint64 {
	return g.rounds.Load()
}

// Run blocks until ctx is done. It always returns nil; cancellation is the
// normal way to stop it.
func (g *Generator) Run(ctx context.Context) error {
	g.logger.Info("synthetic load started", "workers", g.workers)
	defer g.logger.Info("synthetic load stopped", "rounds", g.Rounds())

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < g.workers; i++ {
		eg.Go(func() error {
			g.work(ctx)
			return nil
		})
	}
	return eg.Wait()
}

func (g *Generator) work(ctx context.Context) {
	var checksum uint64
	for ctx.Err() == nil {
		burn(burnSlice, &checksum)
		g.rounds.Add(1)
	}
	g.sink.Add(checksum)
}

func burn(d time.Duration, checksum *uint64) {
	start := time.Now()
	for time.Since(start) < d {
		for i := 0; i < 1000; i++ {
			*checksum += uint64(i * i)
		}
	}
}
