package accel

import "math"

// AxisFilter smooths the readings of one spatial axis with a scalar
// steady-state Kalman recursion. Each axis gets its own instance; the
// filter keeps only its running estimate and error estimate, so it is
// cheap enough to update on every incoming sample.
type AxisFilter struct {
	errMeasure   float64 // measurement noise, fixed per instance
	processNoise float64 // q, fixed per instance

	estimate    float64
	errEstimate float64
}

// NewAxisFilter creates a filter with the given measurement-noise and
// process-noise parameters. The wearable's accelerometer is well served
// by errMeasure=5.0 and processNoise=0.9.
func NewAxisFilter(errMeasure, processNoise float64) *AxisFilter {
	return &AxisFilter{
		errMeasure:   errMeasure,
		processNoise: processNoise,
		errEstimate:  1.0,
	}
}

// Update folds one raw measurement into the running estimate and returns
// the new filtered value. Always defined for finite inputs.
func (f *AxisFilter) Update(measurement float64) float64 {
	gain := f.errEstimate / (f.errEstimate + f.errMeasure)
	prev := f.estimate
	f.estimate = prev + gain*(measurement-prev)
	f.errEstimate = (1-gain)*f.errEstimate + math.Abs(prev-f.estimate)*f.processNoise
	return f.estimate
}

// Estimate returns the current filtered value without updating it.
func (f *AxisFilter) Estimate() float64 {
	return f.estimate
}

// Reset clears the filter back to its initial state.
func (f *AxisFilter) Reset() {
	f.estimate = 0
	f.errEstimate = 1.0
}
