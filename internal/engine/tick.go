// Package engine provides the round logic, the simulator that owns the
// population, and a paced tick loop for long-running simulations.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Default tick cadences.
const (
	TicksPerReport = 1000
	TicksPerSave   = 10000
)

// Engine drives a simulation forward one step per tick.
type Engine struct {
	Tick     uint64        // Current tick counter (monotonic, never resets)
	Interval time.Duration // Base tick interval; zero runs flat out
	MaxTicks uint64        // Stop after this many ticks; zero means unbounded

	ReportEvery uint64
	SaveEvery   uint64

	// Callbacks, populated during setup. OnTick errors stop the engine.
	OnTick   func(tick uint64) error
	OnReport func(tick uint64)
	OnSave   func(tick uint64)

	mu       sync.Mutex
	speed    float64 // Multiplier: 1.0 = base interval, 0 = paused
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval:    time.Millisecond,
		ReportEvery: TicksPerReport,
		SaveEvery:   TicksPerSave,
		speed:       1.0,
		stopCh:      make(chan struct{}),
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero or less pauses the engine.
func (e *Engine) SetSpeed(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = v
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.running = v
	e.mu.Unlock()
}

// Run starts the loop. It blocks until ctx is cancelled, Stop is called,
// MaxTicks is reached or OnTick fails; only the last returns an error.
func (e *Engine) Run(ctx context.Context) error {
	e.setRunning(true)
	defer e.setRunning(false)
	slog.Info("simulation engine started", "tick", e.Tick, "speed", e.Speed())

	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "tick", humanize.Comma(int64(e.Tick)), "reason", ctx.Err())
			return nil
		case <-e.stopCh:
			slog.Info("simulation engine stopped", "tick", humanize.Comma(int64(e.Tick)))
			return nil
		default:
		}

		if e.MaxTicks > 0 && e.Tick >= e.MaxTicks {
			slog.Info("simulation engine finished", "tick", humanize.Comma(int64(e.Tick)))
			return nil
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused; check again shortly.
			e.wait(ctx, 100*time.Millisecond)
			continue
		}

		start := time.Now()
		if err := e.step(); err != nil {
			slog.Error("simulation engine failed", "tick", e.Tick, "error", err)
			return err
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed := time.Since(start); elapsed < target {
			e.wait(ctx, target-elapsed)
		}
	}
}

// wait sleeps for d, returning early if ctx is done or the engine is stopped.
func (e *Engine) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-e.stopCh:
	}
}

// Stop halts the loop. Safe to call more than once and from any goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// step advances the simulation by one tick.
func (e *Engine) step() error {
	e.Tick++

	if e.OnTick != nil {
		if err := e.OnTick(e.Tick); err != nil {
			return err
		}
	}

	if e.ReportEvery > 0 && e.Tick%e.ReportEvery == 0 && e.OnReport != nil {
		e.OnReport(e.Tick)
	}

	if e.SaveEvery > 0 && e.Tick%e.SaveEvery == 0 && e.OnSave != nil {
		e.OnSave(e.Tick)
	}
	return nil
}
