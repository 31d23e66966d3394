package accel

import (
	"math"
	"time"
)

// Sample represents a single accelerometer reading from the wearable,
// in m/s² per axis. This is also the JSON wire format on the sample topic.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`

	// TimestampMS is the sample time in Unix milliseconds, stamped by
	// whoever produced the sample (sensor gateway or simulator).
	TimestampMS int64 `json:"ts_ms"`
}

// Time returns the sample timestamp as a time.Time.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.TimestampMS)
}

// Finite reports whether all three axis values are finite numbers.
// A NaN or Inf axis marks the whole sample as a data-quality fault.
func (s Sample) Finite() bool {
	for _, v := range [3]float64{s.X, s.Y, s.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
