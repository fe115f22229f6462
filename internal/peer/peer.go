// Package peer owns the WebRTC peer connection lifecycle for a single call
// attempt: offer/answer creation, remote candidate routing (including the
// pre-answer buffer), ICE restarts and idempotent teardown.
package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/aryan25798/NovaChat-sub003/internal/media"
	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

var (
	// ErrRestartInFlight means an ICE restart offer is already being
	// negotiated; callers should wait for it to settle instead of stacking
	// another one.
	ErrRestartInFlight = errors.New("peer: ice restart already in flight")

	// ErrClosed is returned by operations on a torn-down Manager.
	ErrClosed = errors.New("peer: manager closed")
)

// Events carries the callbacks a Manager invokes from pion's goroutines. All
// fields are optional.
type Events struct {
	// LocalCandidate fires for every gathered local candidate. The nil
	// end-of-gathering marker is swallowed before this is called.
	LocalCandidate func(signal.Candidate)

	// RemoteTrack fires when a remote media track starts arriving.
	RemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	// ConnectionStateChange fires on every peer connection state transition.
	ConnectionStateChange func(webrtc.PeerConnectionState)
}

// Manager wraps one *webrtc.PeerConnection for one call attempt.
type Manager struct {
	logger   *slog.Logger
	pc       *webrtc.PeerConnection
	stream   media.Stream
	callType signal.CallType
	buffer   *CandidateBuffer

	mu              sync.Mutex
	remoteApplied   bool
	restartInFlight bool
	closed          bool
	senders         map[webrtc.RTPCodecType]*outboundTrack

	closeOnce sync.Once
	closeErr  error
}

// outboundTrack remembers the original local track per kind so mute and
// camera toggles can swap it out of the sender and back in.
type outboundTrack struct {
	sender  *webrtc.RTPSender
	track   webrtc.TrackLocal
	enabled bool
}

// New builds the peer connection for a call attempt, attaches the local media
// tracks and wires the event handlers. poolSize pre-gathers that many ICE
// candidates so trickling starts before the offer is even published.
func New(api *webrtc.API, iceServers []webrtc.ICEServer, poolSize int, callType signal.CallType, stream media.Stream, events Events, logger *slog.Logger) (*Manager, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:           iceServers,
		ICECandidatePoolSize: uint8(poolSize),
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	m := &Manager{
		logger:   logger,
		pc:       pc,
		stream:   stream,
		callType: callType,
		buffer:   &CandidateBuffer{},
		senders:  make(map[webrtc.RTPCodecType]*outboundTrack),
	}

	for _, track := range stream.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		m.senders[track.Kind()] = &outboundTrack{sender: sender, track: track, enabled: true}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if events.LocalCandidate != nil {
			events.LocalCandidate(signal.CandidateFromPion(c.ToJSON()))
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		logger.Debug("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if events.RemoteTrack != nil {
			events.RemoteTrack(track, receiver)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", "state", state.String())
		if events.ConnectionStateChange != nil {
			events.ConnectionStateChange(state)
		}
	})

	return m, nil
}

// CreateOffer produces and installs the local offer. Voice offers carry the
// opus low-bandwidth fmtp parameters; see PatchVoiceSDP.
func (m *Manager) CreateOffer() (signal.SessionDescription, error) {
	return m.createOffer(nil)
}

func (m *Manager) createOffer(opts *webrtc.OfferOptions) (signal.SessionDescription, error) {
	if m.isClosed() {
		return signal.SessionDescription{}, ErrClosed
	}
	offer, err := m.pc.CreateOffer(opts)
	if err != nil {
		return signal.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	// SetLocalDescription must see the offer byte-for-byte as CreateOffer
	// produced it; the voice fmtp munge is applied only to the published
	// copy, which is all the remote side ever reads.
	if err := m.pc.SetLocalDescription(offer); err != nil {
		return signal.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	published := signal.DescriptionFromPion(offer)
	if m.callType == signal.CallTypeVoice {
		published.SDP = PatchVoiceSDP(published.SDP)
	}
	return published, nil
}

// CreateAnswer produces and installs the local answer to a previously applied
// remote offer.
func (m *Manager) CreateAnswer() (signal.SessionDescription, error) {
	if m.isClosed() {
		return signal.SessionDescription{}, ErrClosed
	}
	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return signal.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return signal.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return signal.DescriptionFromPion(answer), nil
}

// SetRemoteDescription applies the remote offer or answer. The first
// successful application drains the candidate buffer; later applications
// (re-offers from an ICE restart) skip the drain because candidates are
// already routed directly.
func (m *Manager) SetRemoteDescription(desc signal.SessionDescription) error {
	if m.isClosed() {
		return ErrClosed
	}
	pionDesc, err := desc.ToPion()
	if err != nil {
		return err
	}
	if err := m.pc.SetRemoteDescription(pionDesc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	m.mu.Lock()
	first := !m.remoteApplied
	m.remoteApplied = true
	m.mu.Unlock()
	if !first {
		return nil
	}

	n, err := m.buffer.Flush(func(cand signal.Candidate) error {
		return m.pc.AddICECandidate(cand.ToPion())
	})
	if n > 0 {
		m.logger.Debug("flushed buffered candidates", "count", n)
	}
	if err != nil {
		m.logger.Warn("buffered candidate rejected", "err", err)
	}
	return nil
}

// RemoteApplied reports whether a remote description has been set. The call
// session uses this as its duplicate-answer guard.
func (m *Manager) RemoteApplied() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteApplied
}

// AddRemoteCandidate routes a trickled candidate: buffered until the remote
// description lands, applied directly afterwards.
func (m *Manager) AddRemoteCandidate(cand signal.Candidate) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	// Push while still holding the mutex: once SetRemoteDescription flips
	// remoteApplied, its flush happens-after this push, so a candidate can
	// never slip into the buffer behind the one-and-only drain.
	if !m.remoteApplied {
		m.buffer.Push(cand)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.pc.AddICECandidate(cand.ToPion()); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// ICERestart generates a restart offer and hands it to publish for signaling.
// Only one restart may be in flight at a time; overlapping calls get
// ErrRestartInFlight.
func (m *Manager) ICERestart(publish func(signal.SessionDescription) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.restartInFlight {
		m.mu.Unlock()
		return ErrRestartInFlight
	}
	m.restartInFlight = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.restartInFlight = false
		m.mu.Unlock()
	}()

	offer, err := m.createOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return err
	}
	m.logger.Info("ice restart offer created")
	return publish(offer)
}

// SetAudioEnabled mutes or unmutes the outbound audio by swapping the track
// out of its sender. The encoder keeps running on the source side; only the
// RTP flow stops.
func (m *Manager) SetAudioEnabled(enabled bool) error {
	return m.setTrackEnabled(webrtc.RTPCodecTypeAudio, enabled)
}

// SetVideoEnabled turns the outbound camera track on or off.
func (m *Manager) SetVideoEnabled(enabled bool) error {
	return m.setTrackEnabled(webrtc.RTPCodecTypeVideo, enabled)
}

func (m *Manager) setTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	out, ok := m.senders[kind]
	if !ok {
		return fmt.Errorf("no outbound %s track", kind)
	}
	if out.enabled == enabled {
		return nil
	}
	var replacement webrtc.TrackLocal
	if enabled {
		replacement = out.track
	}
	if err := out.sender.ReplaceTrack(replacement); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}
	out.enabled = enabled
	return nil
}

// ConnectionState returns the current peer connection state.
func (m *Manager) ConnectionState() webrtc.PeerConnectionState {
	return m.pc.ConnectionState()
}

// Close tears down the peer connection and releases the media stream. Safe to
// call any number of times from any goroutine.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		if err := m.stream.Close(); err != nil {
			m.logger.Warn("media stream close", "err", err)
		}
		m.closeErr = m.pc.Close()
	})
	return m.closeErr
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
