package cadence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushDetectorFiresOnceAboveThreshold(t *testing.T) {
	d := NewPushDetector(2.0)

	assert.True(t, d.Feed(3.0), "crossing the threshold from idle fires")
	assert.True(t, d.Active())

	// Staying high, or sagging but not below zero, must not re-fire.
	assert.False(t, d.Feed(5.0))
	assert.False(t, d.Feed(2.5))
	assert.False(t, d.Feed(0.5))
	assert.True(t, d.Active())
}

func TestPushDetectorRearmsBelowZero(t *testing.T) {
	d := NewPushDetector(2.0)

	assert.True(t, d.Feed(3.0))
	assert.False(t, d.Feed(-1.0), "release is not an event")
	assert.False(t, d.Active())
	assert.True(t, d.Feed(3.0), "after release the next crossing fires again")
}

func TestPushDetectorNeverTwoEventsWithoutRelease(t *testing.T) {
	d := NewPushDetector(2.0)

	events := 0
	for _, m := range []float64{3.0, 4.0, 3.5, 1.0, 0.1, 2.5, 5.0} {
		if d.Feed(m) {
			events++
		}
	}
	assert.Equal(t, 1, events, "no second event without a sub-zero reading in between")
}

func TestPushDetectorIgnoresSubThresholdFromIdle(t *testing.T) {
	d := NewPushDetector(2.0)

	assert.False(t, d.Feed(1.9))
	assert.False(t, d.Feed(2.0), "exact threshold does not fire; the rule is strictly greater")
	assert.False(t, d.Feed(-5.0))
	assert.False(t, d.Active())
}

func TestPushDetectorReset(t *testing.T) {
	d := NewPushDetector(2.0)
	d.Feed(3.0)
	d.Reset()
	assert.False(t, d.Active())
	assert.True(t, d.Feed(3.0), "reset re-arms the detector")
}
