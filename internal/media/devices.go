package media

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

// DeviceSource captures from the host's camera and microphone via
// pion/mediadevices.
type DeviceSource struct {
	codecs *mediadevices.CodecSelector
}

func NewDeviceSource() (*DeviceSource, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	// 20ms frames, capped bitrate: the voice profile trades quality ceiling
	// for latency and bandwidth.
	opusParams.Latency = opus.Latency20ms
	opusParams.BitRate = 64_000

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	return &DeviceSource{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
			mediadevices.WithVideoEncoders(&vpxParams),
		),
	}, nil
}

// RegisterCodecs adds the source's codecs to a pion MediaEngine. Must be
// called on the engine used to build the PeerConnection that will carry the
// acquired tracks.
func (s *DeviceSource) RegisterCodecs(engine *webrtc.MediaEngine) {
	s.codecs.Populate(engine)
}

func (s *DeviceSource) Acquire(ctx context.Context, callType signal.CallType) (Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: s.codecs,
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			// Mono 48kHz. Echo cancellation, noise suppression and auto gain
			// are applied by the platform driver where it exposes them.
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
			c.Latency = prop.Duration(20 * time.Millisecond)
		},
	}
	if callType == signal.CallTypeVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.IntRanged{Min: 320, Ideal: 1280, Max: 1920}
			c.Height = prop.IntRanged{Min: 240, Ideal: 720, Max: 1080}
			c.FrameRate = prop.FloatRanged{Min: 10, Ideal: 30, Max: 60}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classifyCaptureError(err)
	}

	return &deviceStream{stream: stream}, nil
}

// classifyCaptureError maps driver errors onto the package's failure
// taxonomy. mediadevices does not export sentinel errors, so this matches on
// the stable driver message fragments.
func classifyCaptureError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	default:
		return fmt.Errorf("media: acquire failed: %w", err)
	}
}

type deviceStream struct {
	stream    mediadevices.MediaStream
	closeOnce sync.Once
}

func (d *deviceStream) Tracks() []webrtc.TrackLocal {
	tracks := d.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, track := range tracks {
		out = append(out, track)
	}
	return out
}

func (d *deviceStream) Close() error {
	d.closeOnce.Do(func() {
		for _, track := range d.stream.GetTracks() {
			_ = track.Close()
		}
	})
	return nil
}
