package cadence

import "time"

// RateEstimator turns consecutive push timestamps into a smoothed
// compression frequency. The instantaneous rate of each inter-push
// interval is folded into a first-order exponential smoother, which
// dampens per-push jitter while still tracking genuine cadence drift
// within a few compressions.
type RateEstimator struct {
	alpha    float64       // weight of the newest interval
	debounce time.Duration // minimum accepted inter-push interval

	lastPush time.Time
	smoothed float64 // Hz
}

// NewRateEstimator creates an estimator. alpha is the exponential
// smoothing weight on the newest instantaneous rate (useful range
// 0.5–0.7); events closer than debounce to the previous accepted push
// are dropped as sensor noise.
func NewRateEstimator(alpha float64, debounce time.Duration) *RateEstimator {
	return &RateEstimator{alpha: alpha, debounce: debounce}
}

// OnPush folds one push event into the estimate. It returns the current
// smoothed frequency and whether the event was accepted.
//
// The very first push of a session only anchors the interval clock: it is
// accepted but does not change the frequency. A push within the debounce
// interval of the previous accepted one is rejected and leaves all state
// untouched.
func (e *RateEstimator) OnPush(ts time.Time) (float64, bool) {
	if e.lastPush.IsZero() {
		e.lastPush = ts
		return e.smoothed, true
	}

	interval := ts.Sub(e.lastPush)
	if interval <= e.debounce {
		return e.smoothed, false
	}

	intervalMS := float64(interval) / float64(time.Millisecond)
	instantaneous := 1000.0 / intervalMS
	e.smoothed = e.alpha*instantaneous + (1-e.alpha)*e.smoothed
	e.lastPush = ts
	return e.smoothed, true
}

// FrequencyHz returns the current smoothed compression frequency.
func (e *RateEstimator) FrequencyHz() float64 {
	return e.smoothed
}

// Reset clears the estimator for a new session.
func (e *RateEstimator) Reset() {
	e.lastPush = time.Time{}
	e.smoothed = 0
}
