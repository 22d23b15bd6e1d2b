package enhance

import "time"

// State is the engine lifecycle state.
//
//	Uninitialized → Initializing → Active ⇄ Disabled → TornDown
//
// Close moves any state to TornDown.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateDisabled
	StateTornDown
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Status event names.
const (
	EventActive   = "active"
	EventBypassed = "bypassed"
)

// Bypass reasons reported in Status and StatusEvent.
const (
	ReasonTimingInconsistent = "frame timing inconsistent with sample rate"
	ReasonFaults             = "too many consecutive processing faults"
	ReasonPipelineError      = "pipeline stage error"
)

// Status is a point-in-time snapshot of the engine.
type Status struct {
	State State

	// Convergence of the echo canceller in [0, 1].
	Convergence float64

	// Enabled reports whether processing is switched on. A bypassed engine
	// may still be enabled; see BypassReason.
	Enabled bool

	// Intensity is the last accepted intensity, 0..100.
	Intensity int

	// SpeechPresence is the smoothed speech probability of the last hop.
	SpeechPresence float64

	// Frames counts processed hops, Faults the hops that carried
	// non-finite values.
	Frames uint64
	Faults uint64

	// BypassReason is set when the engine passes audio through unmodified
	// regardless of Enabled.
	BypassReason string
}

// StatusEvent is emitted on Engine.Events when the engine changes mode.
type StatusEvent struct {
	Status string
	Reason string
	Time   time.Time
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }
