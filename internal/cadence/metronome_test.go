package cadence

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetronomeTicksOnPeriod(t *testing.T) {
	mock := clock.NewMock()
	var ticks atomic.Int64
	m := NewMetronome(mock, 500*time.Millisecond, func() { ticks.Add(1) })

	m.Start()
	require.True(t, m.Running())

	mock.Add(499 * time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.Zero(t, ticks.Load(), "no tick before the first period elapses")

	mock.Add(1 * time.Millisecond)
	require.Eventually(t, func() bool { return ticks.Load() == 1 },
		time.Second, time.Millisecond)

	mock.Add(1500 * time.Millisecond)
	require.Eventually(t, func() bool { return ticks.Load() == 4 },
		time.Second, time.Millisecond, "three more ticks over three periods")

	m.Stop()
	assert.False(t, m.Running())
}

func TestMetronomeStartStopIdempotent(t *testing.T) {
	mock := clock.NewMock()
	var ticks atomic.Int64
	m := NewMetronome(mock, 500*time.Millisecond, func() { ticks.Add(1) })

	m.Start()
	m.Start() // no-op
	m.Stop()
	m.Stop() // no-op

	mock.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, ticks.Load(), "a stopped metronome never ticks")
}
