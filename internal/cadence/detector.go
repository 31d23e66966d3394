package cadence

// PushDetector is a two-state detector over the gravity-compensated
// magnitude stream. It enters the push state on a high positive threshold
// and leaves it when the magnitude crosses below zero. The asymmetric
// hysteresis guarantees at most one event per physical compression
// without needing a cool-down window.
type PushDetector struct {
	threshold  float64
	pushActive bool
}

// NewPushDetector creates a detector that fires when the magnitude
// exceeds threshold (m/s²) from the idle state.
func NewPushDetector(threshold float64) *PushDetector {
	return &PushDetector{threshold: threshold}
}

// Feed evaluates one magnitude reading and reports whether it starts a
// new compression. All readings that do not transition the state are
// absorbed silently.
func (d *PushDetector) Feed(magnitude float64) bool {
	switch {
	case !d.pushActive && magnitude > d.threshold:
		d.pushActive = true
		return true
	case d.pushActive && magnitude < 0:
		d.pushActive = false
	}
	return false
}

// Active reports whether the detector currently considers a compression
// to be in progress.
func (d *PushDetector) Active() bool {
	return d.pushActive
}

// Reset puts the detector back into the idle state.
func (d *PushDetector) Reset() {
	d.pushActive = false
}
