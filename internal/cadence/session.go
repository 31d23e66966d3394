// Package cadence implements the CPR cadence estimation engine: push
// detection over a filtered accelerometer stream, inter-push rate
// smoothing, guidance classification, and the periodic session side
// effects (mouth-to-mouth reminder, metronome cueing).
package cadence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/resq-tech/cpr_assist/internal/accel"
)

// ErrSessionNotActive is returned when a sample is ingested outside an
// active session.
var ErrSessionNotActive = errors.New("cadence: session not active")

// Params holds the tunable constants of the engine. The defaults carry
// the values the wearable was calibrated with.
type Params struct {
	// FilterErrorMeasure and FilterProcessNoise parameterize the
	// per-axis Kalman filters.
	FilterErrorMeasure float64
	FilterProcessNoise float64

	// AccelThreshold is the magnitude (m/s²) that starts a compression.
	AccelThreshold float64

	// SmoothingAlpha is the exponential weight on the newest
	// instantaneous rate. Useful range 0.5–0.7.
	SmoothingAlpha float64

	// Debounce is the minimum accepted inter-push interval.
	Debounce time.Duration

	// ReminderInterval is the number of accepted pushes between
	// mouth-to-mouth reminders.
	ReminderInterval int

	// MetronomePeriod is the fixed tick period for audio cueing.
	MetronomePeriod time.Duration
}

// DefaultParams returns the calibrated defaults: 545 ms metronome
// (≈110 compressions/min, mid target band) and a breath reminder every
// 30 compressions.
func DefaultParams() Params {
	return Params{
		FilterErrorMeasure: 5.0,
		FilterProcessNoise: 0.9,
		AccelThreshold:     2.0,
		SmoothingAlpha:     0.6,
		Debounce:           20 * time.Millisecond,
		ReminderInterval:   30,
		MetronomePeriod:    545 * time.Millisecond,
	}
}

func (p Params) validate() error {
	if p.SmoothingAlpha <= 0 || p.SmoothingAlpha > 1 {
		return fmt.Errorf("cadence: smoothing alpha %v out of range (0,1]", p.SmoothingAlpha)
	}
	if p.AccelThreshold <= 0 {
		return fmt.Errorf("cadence: acceleration threshold %v must be positive", p.AccelThreshold)
	}
	if p.ReminderInterval <= 0 {
		return fmt.Errorf("cadence: reminder interval %d must be positive", p.ReminderInterval)
	}
	if p.MetronomePeriod <= 0 {
		return fmt.Errorf("cadence: metronome period %v must be positive", p.MetronomePeriod)
	}
	if p.Debounce < 0 {
		return fmt.Errorf("cadence: debounce %v must not be negative", p.Debounce)
	}
	return nil
}

// Sinks are the external capabilities a session drives. All callbacks are
// optional and are invoked outside the session lock, one event at a time.
type Sinks struct {
	// OnTick fires on each metronome period while the session runs.
	OnTick func()

	// OnMouthToMouthDue fires when the push counter rolls over.
	OnMouthToMouthDue func()

	// OnPush fires for each accepted push with the event time and the
	// smoothed frequency after folding it in.
	OnPush func(t time.Time, frequencyHz float64)

	// OnFeedback fires with a fresh snapshot after every state-changing
	// event (start, stop, accepted push, reminder).
	OnFeedback func(Snapshot)
}

// Snapshot is the externally visible state of a session, also used as
// the JSON feedback payload.
type Snapshot struct {
	SessionID           string   `json:"session_id"`
	Active              bool     `json:"active"`
	Guidance            Guidance `json:"guidance"`
	Instruction         string   `json:"instruction"`
	FrequencyHz         float64  `json:"frequency_hz"`
	RateBPM             float64  `json:"rate_bpm"`
	PushCount           int      `json:"push_count"`
	PushesUntilReminder int      `json:"pushes_until_reminder"`
	DiscardedSamples    uint64   `json:"discarded_samples"`
}

// Session owns all per-session state of the cadence engine. Only one
// session is meant to be active at a time; Start on an already active
// session stops it and begins a fresh one.
//
// Sample ingestion and metronome ticks serialize on the session mutex,
// so the shared counters are only ever mutated by one activity at a time.
type Session struct {
	params Params
	clk    clock.Clock
	sinks  Sinks

	mu     sync.Mutex
	id     string
	active bool
	gen    uint64 // bumped on every start/stop; fences stale ticks

	fx, fy, fz *accel.AxisFilter
	detector   *PushDetector
	estimator  *RateEstimator

	guidance  Guidance
	pushCount int
	discarded uint64

	metronome *Metronome
}

// NewSession creates an inactive session. A nil clock selects the wall
// clock.
func NewSession(params Params, clk clock.Clock, sinks Sinks) *Session {
	if clk == nil {
		clk = clock.New()
	}
	return &Session{
		params:    params,
		clk:       clk,
		sinks:     sinks,
		fx:        NewAxisFilterFrom(params),
		fy:        NewAxisFilterFrom(params),
		fz:        NewAxisFilterFrom(params),
		detector:  NewPushDetector(params.AccelThreshold),
		estimator: NewRateEstimator(params.SmoothingAlpha, params.Debounce),
		guidance:  Classify(0),
	}
}

// NewAxisFilterFrom builds one axis filter from the session parameters.
func NewAxisFilterFrom(p Params) *accel.AxisFilter {
	return accel.NewAxisFilter(p.FilterErrorMeasure, p.FilterProcessNoise)
}

// Start begins a new session, resetting all per-session state. If a
// session is already active it is stopped first; its metronome cannot
// leak ticks into the new session.
func (s *Session) Start() error {
	if err := s.params.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.active {
		s.stopLocked()
	}
	s.gen++
	s.id = uuid.NewString()
	s.resetLocked()
	s.active = true
	s.startMetronomeLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emitFeedback(snap)
	return nil
}

// Stop ends the active session and cancels the metronome. Stopping an
// inactive session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emitFeedback(snap)
}

// stopLocked cancels the metronome and bumps the generation so that any
// tick already in flight is dropped by its fence.
func (s *Session) stopLocked() {
	s.active = false
	s.gen++
	s.pushCount = 0
	if s.metronome != nil {
		s.metronome.Stop()
		s.metronome = nil
	}
}

func (s *Session) resetLocked() {
	s.fx.Reset()
	s.fy.Reset()
	s.fz.Reset()
	s.detector.Reset()
	s.estimator.Reset()
	s.guidance = Classify(0)
	s.pushCount = 0
	s.discarded = 0
}

func (s *Session) startMetronomeLocked() {
	gen := s.gen
	s.metronome = NewMetronome(s.clk, s.params.MetronomePeriod, func() {
		// The tick only reads session state to check liveness; it never
		// mutates counters, so taking the lock briefly is enough to
		// serialize it against sample processing.
		s.mu.Lock()
		live := s.active && s.gen == gen
		s.mu.Unlock()
		if live && s.sinks.OnTick != nil {
			s.sinks.OnTick()
		}
	})
	s.metronome.Start()
}

// IngestSample runs one accelerometer sample through the full pipeline:
// per-axis filtering, magnitude combination, push detection, rate
// smoothing, classification and counter updates.
//
// Calling it outside an active session returns ErrSessionNotActive
// without mutating anything. A non-finite sample is discarded, counted,
// and mutates nothing else.
func (s *Session) IngestSample(sample accel.Sample) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	if !sample.Finite() {
		s.discarded++
		s.mu.Unlock()
		return nil
	}

	magnitude := accel.Magnitude(
		s.fx.Update(sample.X),
		s.fy.Update(sample.Y),
		s.fz.Update(sample.Z),
	)
	if !s.detector.Feed(magnitude) {
		s.mu.Unlock()
		return nil
	}

	hz, accepted := s.estimator.OnPush(sample.Time())
	if !accepted {
		s.mu.Unlock()
		return nil
	}

	s.guidance = Classify(hz)
	s.pushCount++
	reminder := false
	if s.pushCount >= s.params.ReminderInterval {
		s.pushCount = 0
		reminder = true
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.sinks.OnPush != nil {
		s.sinks.OnPush(sample.Time(), hz)
	}
	if reminder && s.sinks.OnMouthToMouthDue != nil {
		s.sinks.OnMouthToMouthDue()
	}
	s.emitFeedback(snap)
	return nil
}

func (s *Session) emitFeedback(snap Snapshot) {
	if s.sinks.OnFeedback != nil {
		s.sinks.OnFeedback(snap)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	hz := s.estimator.FrequencyHz()
	return Snapshot{
		SessionID:           s.id,
		Active:              s.active,
		Guidance:            s.guidance,
		Instruction:         s.guidance.Instruction(),
		FrequencyHz:         hz,
		RateBPM:             hz * 60,
		PushCount:           s.pushCount,
		PushesUntilReminder: s.params.ReminderInterval - s.pushCount,
		DiscardedSamples:    s.discarded,
	}
}

// Snapshot returns the current externally visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ID returns the id of the current (or last) session.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Active reports whether a session is currently running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// CurrentGuidance returns the instruction category for the current
// smoothed frequency.
func (s *Session) CurrentGuidance() Guidance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guidance
}

// CurrentFrequencyHz returns the smoothed compression frequency.
func (s *Session) CurrentFrequencyHz() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimator.FrequencyHz()
}

// PushCount returns the accepted pushes since the last reminder.
func (s *Session) PushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushCount
}

// PushesUntilReminder returns how many accepted pushes remain before the
// next mouth-to-mouth reminder.
func (s *Session) PushesUntilReminder() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.ReminderInterval - s.pushCount
}

// DiscardedSamples returns the number of non-finite samples dropped
// since the session started.
func (s *Session) DiscardedSamples() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}
