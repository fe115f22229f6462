// Package media abstracts local audio/video capture for a call attempt.
//
// A Source hands out a Stream of local tracks matching the call's media
// profile (camera+microphone for video calls, microphone only for voice).
// Capture failures are terminal for the call attempt; there is no retry
// without a fresh user-initiated call.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

var (
	// ErrPermissionDenied means the platform refused capture access.
	ErrPermissionDenied = errors.New("media: permission denied")
	// ErrNoDevice means no capture device matching the profile was found.
	ErrNoDevice = errors.New("media: no capture device found")
)

// Source acquires local media for one call attempt.
type Source interface {
	Acquire(ctx context.Context, callType signal.CallType) (Stream, error)
}

// Stream is an acquired set of local tracks. Close stops capture and must be
// idempotent.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// UserMessage maps a capture error to the text shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera/microphone permission denied"
	case errors.Is(err, ErrNoDevice):
		return "No camera or microphone found"
	default:
		return "Could not start camera or microphone"
	}
}
