package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

// SyntheticSource produces sample-backed local tracks without touching any
// capture hardware. Used by headless endpoints and tests; callers that want
// audible/visible output write samples into the returned tracks themselves.
type SyntheticSource struct{}

func (SyntheticSource) Acquire(ctx context.Context, callType signal.CallType) (Stream, error) {
	// Channels must say 2 to match the registered opus/48000/2 codec; opus
	// always signals stereo in SDP even when the payload is mono.
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "novachat")
	if err != nil {
		return nil, fmt.Errorf("media: synthetic audio track: %w", err)
	}

	tracks := []webrtc.TrackLocal{audio}
	if callType == signal.CallTypeVideo {
		video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video", "novachat")
		if err != nil {
			return nil, fmt.Errorf("media: synthetic video track: %w", err)
		}
		tracks = append(tracks, video)
	}

	return &syntheticStream{tracks: tracks}, nil
}

type syntheticStream struct {
	tracks    []webrtc.TrackLocal
	closeOnce sync.Once
}

func (s *syntheticStream) Tracks() []webrtc.TrackLocal { return s.tracks }

// Close is a no-op beyond idempotency bookkeeping: synthetic tracks hold no
// device resources.
func (s *syntheticStream) Close() error {
	s.closeOnce.Do(func() {})
	return nil
}
