package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/societies/internal/entropy"
)

func newFastEngine() *Engine {
	e := NewEngine()
	e.Interval = 0
	return e
}

func TestEngine_MaxTicksAndCadence(t *testing.T) {
	e := newFastEngine()
	e.MaxTicks = 100
	e.ReportEvery = 10
	e.SaveEvery = 25

	var ticks, reports, saves int
	e.OnTick = func(uint64) error { ticks++; return nil }
	e.OnReport = func(uint64) { reports++ }
	e.OnSave = func(uint64) { saves++ }

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 100, ticks)
	assert.Equal(t, 10, reports)
	assert.Equal(t, 4, saves)
	assert.Equal(t, uint64(100), e.Tick)
	assert.False(t, e.Running())
}

func TestEngine_StopsOnTickError(t *testing.T) {
	e := newFastEngine()
	boom := errors.New("boom")
	e.OnTick = func(tick uint64) error {
		if tick == 5 {
			return boom
		}
		return nil
	}

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(5), e.Tick)
}

func TestEngine_Stop(t *testing.T) {
	e := newFastEngine()
	e.OnTick = func(tick uint64) error {
		if tick == 3 {
			e.Stop()
		}
		return nil
	}
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(3), e.Tick)

	// A second Stop is harmless.
	e.Stop()
}

func TestEngine_ContextCancelWhilePaused(t *testing.T) {
	e := newFastEngine()
	e.SetSpeed(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, e.Run(ctx))
	assert.Zero(t, e.Tick)
	assert.Equal(t, 0.0, e.Speed())
}

func TestEngine_DrivesSimulator(t *testing.T) {
	sim, err := NewSimulator(Config{Agents: 10, Headless: true}, entropy.NewSource(4), nil)
	require.NoError(t, err)

	e := newFastEngine()
	e.MaxTicks = 250
	e.OnTick = func(uint64) error { return sim.Step() }

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(250), sim.CurrentStep())
}

func TestEngine_StopInterruptsSleep(t *testing.T) {
	e := NewEngine()
	e.Interval = time.Hour
	e.OnTick = func(uint64) error {
		e.Stop()
		return nil
	}

	start := time.Now()
	require.NoError(t, e.Run(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, uint64(1), e.Tick)
}
