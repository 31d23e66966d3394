package cadence

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Metronome emits ticks on a fixed wall-clock period while running. It is
// independent of push detection: the period keeps the rescuer on target
// pace regardless of what the cadence estimate currently says.
//
// The clock is injected so tests can drive a mock clock instead of
// waiting on wall time.
type Metronome struct {
	clk    clock.Clock
	period time.Duration
	onTick func()

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewMetronome creates a stopped metronome that calls onTick every period
// once started.
func NewMetronome(clk clock.Clock, period time.Duration, onTick func()) *Metronome {
	return &Metronome{clk: clk, period: period, onTick: onTick}
}

// Start begins ticking. Starting a running metronome is a no-op.
func (m *Metronome) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.done = make(chan struct{})

	ticker := m.clk.Ticker(m.period)
	go func(done chan struct{}) {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.onTick()
			case <-done:
				return
			}
		}
	}(m.done)
}

// Stop cancels the tick loop. Stopping a stopped metronome is a no-op.
func (m *Metronome) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.done)
}

// Running reports whether the metronome is currently ticking.
func (m *Metronome) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
