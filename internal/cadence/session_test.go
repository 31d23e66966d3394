package cadence

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resq-tech/cpr_assist/internal/accel"
)

// testParams returns the calibrated defaults with the smoothing weight
// pinned to 0.5 so the worked numbers below stay exact.
func testParams() Params {
	p := DefaultParams()
	p.SmoothingAlpha = 0.5
	return p
}

func TestIngestBeforeStartIsRejected(t *testing.T) {
	s := NewSession(testParams(), clock.NewMock(), Sinks{})

	err := s.IngestSample(accel.Sample{Z: 30, TimestampMS: 0})
	require.ErrorIs(t, err, ErrSessionNotActive)
	assert.False(t, s.Active())
	assert.Zero(t, s.PushCount())
}

func TestStartResetsAndStopIsIdempotent(t *testing.T) {
	s := NewSession(testParams(), clock.NewMock(), Sinks{})

	require.NoError(t, s.Start())
	firstID := s.ID()
	require.NotEmpty(t, firstID)
	assert.True(t, s.Active())

	// Restarting issues a new session and clears state.
	require.NoError(t, s.Start())
	assert.NotEqual(t, firstID, s.ID())
	assert.Zero(t, s.PushCount())
	assert.Zero(t, s.CurrentFrequencyHz())

	s.Stop()
	assert.False(t, s.Active())
	s.Stop() // no-op, must not panic
}

func TestStartRejectsInvalidParams(t *testing.T) {
	p := testParams()
	p.SmoothingAlpha = 1.5
	s := NewSession(p, clock.NewMock(), Sinks{})
	assert.Error(t, s.Start())
	assert.False(t, s.Active())
}

func TestNonFiniteSamplesAreDiscarded(t *testing.T) {
	s := NewSession(testParams(), clock.NewMock(), Sinks{})
	require.NoError(t, s.Start())

	require.NoError(t, s.IngestSample(accel.Sample{X: math.NaN(), TimestampMS: 0}))
	require.NoError(t, s.IngestSample(accel.Sample{Z: math.Inf(1), TimestampMS: 33}))

	assert.Equal(t, uint64(2), s.DiscardedSamples())
	assert.Zero(t, s.PushCount(), "discarded samples must not advance the pipeline")
	assert.Zero(t, s.CurrentFrequencyHz())
}

// feedCompression pushes one synthetic compression cycle through the
// session: a burst of hard downward samples followed by a return stroke,
// at a 33 ms sample spacing. Returns the advanced timestamp.
func feedCompression(t *testing.T, s *Session, startMS int64) int64 {
	t.Helper()
	ts := startMS
	for i := 0; i < 4; i++ {
		require.NoError(t, s.IngestSample(accel.Sample{Z: 40, TimestampMS: ts}))
		ts += 33
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, s.IngestSample(accel.Sample{Z: -40, TimestampMS: ts}))
		ts += 33
	}
	return ts
}

func TestPipelineDetectsCompressions(t *testing.T) {
	var pushes atomic.Int64
	s := NewSession(testParams(), clock.NewMock(), Sinks{
		OnPush: func(time.Time, float64) { pushes.Add(1) },
	})
	require.NoError(t, s.Start())

	ts := int64(0)
	for i := 0; i < 3; i++ {
		ts = feedCompression(t, s, ts)
	}

	assert.Equal(t, int64(3), pushes.Load(), "one push event per compression cycle")
	assert.Equal(t, 3, s.PushCount())
	assert.Greater(t, s.CurrentFrequencyHz(), 0.0)

	snap := s.Snapshot()
	assert.Equal(t, s.CurrentGuidance(), snap.Guidance)
	assert.InDelta(t, snap.FrequencyHz*60, snap.RateBPM, 1e-9)
}

func TestReminderFiresEveryThirtyPushes(t *testing.T) {
	var reminders atomic.Int64
	var pushes atomic.Int64
	s := NewSession(testParams(), clock.NewMock(), Sinks{
		OnPush:            func(time.Time, float64) { pushes.Add(1) },
		OnMouthToMouthDue: func() { reminders.Add(1) },
	})
	require.NoError(t, s.Start())

	ts := int64(0)
	for pushes.Load() < 29 {
		ts = feedCompression(t, s, ts)
	}
	require.Equal(t, int64(29), pushes.Load())
	assert.Zero(t, reminders.Load(), "no reminder before the interval")
	assert.Equal(t, 1, s.PushesUntilReminder())

	// The thirtieth push rolls the counter over.
	feedCompression(t, s, ts)
	assert.Equal(t, int64(30), pushes.Load())
	assert.Equal(t, int64(1), reminders.Load())
	assert.Zero(t, s.PushCount())
	assert.Equal(t, testParams().ReminderInterval, s.PushesUntilReminder())
}

func TestMetronomeTicksAndStopsWithSession(t *testing.T) {
	mock := clock.NewMock()
	var ticks atomic.Int64
	s := NewSession(testParams(), mock, Sinks{
		OnTick: func() { ticks.Add(1) },
	})
	require.NoError(t, s.Start())

	period := testParams().MetronomePeriod
	mock.Add(period)
	require.Eventually(t, func() bool { return ticks.Load() >= 1 },
		time.Second, time.Millisecond, "first tick after one period")

	mock.Add(period)
	require.Eventually(t, func() bool { return ticks.Load() >= 2 },
		time.Second, time.Millisecond)

	// After Stop, advancing the clock produces no further ticks.
	s.Stop()
	before := ticks.Load()
	mock.Add(10 * period)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, before, ticks.Load(), "stale ticks must not leak past Stop")
}

func TestRestartDoesNotLeakOldTicks(t *testing.T) {
	mock := clock.NewMock()
	var ticks atomic.Int64
	s := NewSession(testParams(), mock, Sinks{
		OnTick: func() { ticks.Add(1) },
	})
	require.NoError(t, s.Start())
	s.Stop()

	// A fresh session keeps ticking on its own schedule.
	require.NoError(t, s.Start())
	mock.Add(testParams().MetronomePeriod)
	require.Eventually(t, func() bool { return ticks.Load() >= 1 },
		time.Second, time.Millisecond, "the new session's metronome runs")
}

// TestCompressionScenario walks the three-reading magnitude sequence
// {3.0, -1.0, 3.0} at 0/50/120 ms through detector, estimator and
// classifier: two push events, a 120 ms interval, and a smoothed rate of
// ≈4.17 Hz (≈250 cpm), which lands in the much-slower band.
func TestCompressionScenario(t *testing.T) {
	d := NewPushDetector(2.0)
	e := NewRateEstimator(0.5, 20*time.Millisecond)

	var events []time.Time
	for _, step := range []struct {
		magnitude float64
		ms        int64
	}{
		{3.0, 0}, {-1.0, 50}, {3.0, 120},
	} {
		if d.Feed(step.magnitude) {
			events = append(events, at(step.ms))
		}
	}
	require.Len(t, events, 2)
	assert.Equal(t, at(0), events[0])
	assert.Equal(t, at(120), events[1])

	var hz float64
	for _, ev := range events {
		hz, _ = e.OnPush(ev)
	}
	assert.InDelta(t, 4.1666, hz, 0.001)
	assert.Equal(t, GuidanceMuchSlower, Classify(hz))
}
