package outbound

import (
	"errors"

	"github.com/opd-ai/toxenhance/av/enhance"
)

var (
	// ErrNotAudioTrack indicates the sender carries no audio track.
	ErrNotAudioTrack = enhance.ErrNotAudioTrack

	// ErrAlreadyAttached indicates Attach was called while a previous
	// attachment is still running.
	ErrAlreadyAttached = errors.New("enhancer already attached")

	// ErrNotAttached indicates Detach or FeedRemoteOpus without an
	// attachment.
	ErrNotAttached = errors.New("enhancer not attached")
)

// Bypass reasons reported by the Enhancer itself.
const (
	ReasonAcquisitionFailed = "capture acquisition failed"
	ReasonSetupFailed       = "enhanced track setup failed"
	ReasonStreamFailed      = "enhanced stream failed"
)
