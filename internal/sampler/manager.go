// Package sampler drives the fixed-interval sampling session: it reads a
// snapshot per tick, derives the Sample, aggregates it and diagnoses the
// session once sampling stops.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l473n7dR34m/hotdiag/internal/clock"
	"github.com/l473n7dR34m/hotdiag/internal/diagnosis"
	"github.com/l473n7dR34m/hotdiag/internal/model"
	"github.com/l473n7dR34m/hotdiag/internal/probe"
	"github.com/l473n7dR34m/hotdiag/internal/procscan"
	"github.com/l473n7dR34m/hotdiag/internal/session"
)

// Source supplies one host snapshot per tick.
type Source interface {
	ReadSnapshot(ctx context.Context, since time.Time) (probe.Snapshot, error)
}

// Observer receives every completed Sample on the sampling goroutine. It
// must return quickly.
type Observer interface {
	ObserveSample(model.Sample)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(model.Sample)

// ObserveSample calls f(sample).
func (f ObserverFunc) ObserveSample(sample model.Sample) {
	f(sample)
}

// State is the lifecycle stage of a Manager.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateFinalizing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Settings are the session parameters.
type Settings struct {
	SessionID string
	Interval  time.Duration
	// Duration bounds the session; 0 runs until the context is cancelled.
	Duration     time.Duration
	HighLoadPct  float64
	HistoryLimit int
}

// Manager runs one sampling session. The tracker and detector are touched
// only by the Run goroutine; the mutex guards the aggregator's history and
// the published view read by the HTTP surface.
type Manager struct {
	settings Settings
	source   Source
	tracker  *procscan.Tracker
	detector *clock.Detector
	engine   *diagnosis.Engine
	logger   *slog.Logger
	now      func() time.Time

	state    atomic.Int32
	lastTick time.Time
	done     chan struct{}

	mu          sync.RWMutex
	agg         *session.Aggregator
	observers   []Observer
	latest      model.Sample
	hasLatest   bool
	summary     session.Summary
	result      *diagnosis.Result
	subscribers map[*subscriber]struct{}
}

// NewManager wires the engine components into a Manager.
func NewManager(settings Settings, source Source, tracker *procscan.Tracker, detector *clock.Detector, engine *diagnosis.Engine, logger *slog.Logger) (*Manager, error) {
	if settings.Interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if settings.Duration < 0 {
		return nil, fmt.Errorf("duration must be >= 0")
	}
	if source == nil || tracker == nil || detector == nil || engine == nil {
		return nil, fmt.Errorf("source, tracker, detector and engine are required")
	}
	if settings.HighLoadPct == 0 {
		settings.HighLoadPct = session.DefaultHighLoadPct
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		settings:    settings,
		source:      source,
		tracker:     tracker,
		detector:    detector,
		engine:      engine,
		logger:      logger.With("component", "sampler_manager", "session", settings.SessionID),
		now:         time.Now,
		done:        make(chan struct{}),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// AddObserver registers a per-tick observer. Observers added after Run has
// started are ignored.
func (m *Manager) AddObserver(o Observer) {
	if o == nil || m.State() != StateIdle {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// State reports the current lifecycle stage.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// SessionID returns the identifier stamped on every sample.
func (m *Manager) SessionID() string {
	return m.settings.SessionID
}

// Done is closed once the session has terminated.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Run samples until the configured duration elapses or ctx is cancelled,
// then diagnoses the session. It returns nil, nil when no tick completed.
// Run may be called once.
func (m *Manager) Run(ctx context.Context) (res *diagnosis.Result, err error) {
	if !m.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, errors.New("sampler already started")
	}

	start := m.now()
	agg, err := session.NewAggregator(m.settings.SessionID, start, m.settings.HighLoadPct, m.settings.HistoryLimit)
	if err != nil {
		m.terminate()
		return nil, fmt.Errorf("init session: %w", err)
	}

	var end time.Time
	if m.settings.Duration > 0 {
		end = start.Add(m.settings.Duration)
	}

	m.mu.Lock()
	m.agg = agg
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	m.logger.Info("session started", "interval", m.settings.Interval, "duration", m.settings.Duration, "observers", len(observers))

	defer func() {
		m.state.Store(int32(StateFinalizing))
		if rec := recover(); rec != nil {
			m.logger.Error("sampling loop panicked", "panic", rec)
			err = fmt.Errorf("sampling loop panic: %v", rec)
		}
		agg.Close(m.now())
		res = m.finalize(agg)
		m.terminate()
	}()

	for {
		if ctx.Err() != nil {
			m.logger.Info("session stopping", "reason", ctx.Err())
			return nil, nil
		}
		if !end.IsZero() && !m.now().Before(end) {
			m.logger.Info("session duration elapsed")
			return nil, nil
		}

		m.tick(ctx, agg, start, observers)

		if !m.wait(ctx, end) {
			m.logger.Info("session stopping", "reason", ctx.Err())
			return nil, nil
		}
	}
}

// tick reads, derives and aggregates one Sample. A failed read skips the
// whole tick.
func (m *Manager) tick(ctx context.Context, agg *session.Aggregator, start time.Time, observers []Observer) {
	snap, err := m.source.ReadSnapshot(ctx, start)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("snapshot failed, tick skipped", "err", err)
		}
		return
	}

	elapsed := m.settings.Interval
	if !m.lastTick.IsZero() {
		if d := snap.Timestamp.Sub(m.lastTick); d > 0 {
			elapsed = d
		}
	}
	m.lastTick = snap.Timestamp

	attr := m.tracker.Observe(snap.Processes, elapsed, snap.LogicalCores)
	reading := m.detector.Observe(snap.ClockMHz, snap.MaxClockMHz)

	sample := model.Sample{
		Session:        m.settings.SessionID,
		Timestamp:      snap.Timestamp,
		CPULoadPct:     snap.CPULoadPct,
		ClockMHz:       snap.ClockMHz,
		MaxClockMHz:    snap.MaxClockMHz,
		RAMUsedMB:      snap.RAMUsedMB(),
		RAMAvailMB:     snap.RAMFreeMB,
		ThermalEvents:  snap.ThermalEvents,
		LowClock:       reading.Low,
		LowClockStreak: reading.Streak,
		Alert:          reading.Alert,
	}
	if attr.TopCPU != nil {
		sample.TopCPU = &model.ProcessShare{Name: attr.TopCPU.Name, CPUPercent: attr.TopCPU.CPUPercent}
	}
	if attr.TopMem != nil {
		sample.TopMem = &model.MemoryShare{Name: attr.TopMem.Name, MemoryMB: attr.TopMemMB()}
	}

	m.mu.Lock()
	agg.Add(sample)
	m.mu.Unlock()
	m.publish(sample, agg.Summary())

	for _, o := range observers {
		m.observe(o, sample)
	}
}

func (m *Manager) observe(o Observer, sample model.Sample) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("observer panicked", "panic", rec)
		}
	}()
	o.ObserveSample(sample)
}

// wait suspends for one interval, or until end when that comes sooner.
// It returns false when ctx was cancelled.
func (m *Manager) wait(ctx context.Context, end time.Time) bool {
	d := m.settings.Interval
	if !end.IsZero() {
		if remaining := end.Sub(m.now()); remaining < d {
			d = remaining
		}
	}
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) finalize(agg *session.Aggregator) *diagnosis.Result {
	sum := agg.Summary()
	m.mu.Lock()
	m.summary = sum
	m.mu.Unlock()

	if agg.Samples() == 0 {
		m.logger.Info("session ended without samples, nothing to diagnose")
		return nil
	}

	res := m.engine.Diagnose(sum)
	m.mu.Lock()
	m.result = &res
	m.mu.Unlock()

	m.logger.Info("session diagnosed", "samples", sum.Samples, "conclusions", res.Conclusions)
	out := res
	return &out
}

func (m *Manager) terminate() {
	m.state.Store(int32(StateTerminated))

	m.mu.Lock()
	subs := make([]*subscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		subs = append(subs, sub)
	}
	m.subscribers = make(map[*subscriber]struct{})
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	close(m.done)
}

func (m *Manager) publish(sample model.Sample, sum session.Summary) {
	m.mu.Lock()
	m.latest = sample
	m.hasLatest = true
	m.summary = sum

	targetSubs := make([]*subscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		targetSubs = append(targetSubs, sub)
	}
	m.mu.Unlock()

	for _, sub := range targetSubs {
		sub.send(sample)
	}
}

// Latest returns the most recent sample.
func (m *Manager) Latest() (model.Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasLatest
}

// Summary returns the session state as of the last completed tick.
func (m *Manager) Summary() session.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary
}

// Diagnosis returns the final result once the session has been diagnosed.
func (m *Manager) Diagnosis() (diagnosis.Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.result == nil {
		return diagnosis.Result{}, false
	}
	return *m.result, true
}

// History returns up to limit of the most recent retained samples, oldest
// first. A limit <= 0 returns everything retained.
func (m *Manager) History(limit int) []model.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.agg == nil {
		return nil
	}
	return m.agg.History(limit)
}

// Ready reports whether at least one sample has been published.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasLatest
}

// Subscribe registers a listener for new samples. The channel is closed when
// the session terminates; slow listeners only ever see the newest sample.
func (m *Manager) Subscribe() (<-chan model.Sample, func()) {
	sub := newSubscriber()

	m.mu.Lock()
	if m.State() == StateTerminated {
		m.mu.Unlock()
		sub.close()
		return sub.channel(), func() {}
	}
	m.subscribers[sub] = struct{}{}
	if m.hasLatest {
		sub.send(m.latest)
	}
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		delete(m.subscribers, sub)
		m.mu.Unlock()
		sub.close()
	}
	return sub.channel(), unsubscribe
}
