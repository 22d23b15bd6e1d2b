package enhance

import (
	"errors"
	"fmt"

	"github.com/opd-ai/toxenhance/av/audio/noise"
)

// Sentinel errors for enhance package operations.
// These errors enable reliable error classification using errors.Is().

// Lifecycle errors.
var (
	// ErrTornDown indicates the engine has been closed.
	ErrTornDown = errors.New("engine torn down")

	// ErrNotInitialized indicates Init has not completed.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrAlreadyInitialized indicates Init was called twice.
	ErrAlreadyInitialized = errors.New("engine already initialized")

	// ErrConcurrentProcess indicates two goroutines called Process at once.
	ErrConcurrentProcess = errors.New("engine is processing on another goroutine")
)

// Control errors.
var (
	// ErrCommandQueueFull indicates the control queue has no room; the
	// command was dropped and may be retried.
	ErrCommandQueueFull = errors.New("control command queue full")

	// ErrInvalidIntensity indicates an intensity outside 0..100.
	ErrInvalidIntensity = errors.New("intensity must be between 0 and 100")

	// ErrUnknownTemplate indicates a noise template name that does not exist.
	ErrUnknownTemplate = noise.ErrUnknownTemplate
)

// Stream errors.
var (
	// ErrBlockSize indicates input and output blocks of different lengths.
	ErrBlockSize = errors.New("input and output block lengths differ")

	// ErrNotAudioTrack indicates a track that is not an audio track was
	// offered for enhancement.
	ErrNotAudioTrack = errors.New("track is not an audio track")
)

// ConfigurationError reports a setting that prevents the engine from being
// built at all.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AcquisitionError reports that the capture device or stream could not be
// obtained.
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("capture acquisition failed: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ProcessingFault reports non-finite values produced or received by a
// pipeline stage. The offending buffer is zeroed and processing continues.
type ProcessingFault struct {
	Stage string
	Seq   uint64
}

func (e *ProcessingFault) Error() string {
	return fmt.Sprintf("non-finite samples in %s stage at hop %d", e.Stage, e.Seq)
}

// TeardownError reports a problem while releasing the engine. Teardown
// still completes.
type TeardownError struct {
	Err error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown incomplete: %v", e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }
