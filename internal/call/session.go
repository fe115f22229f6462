// Package call drives the lifecycle of one-to-one calls: the per-attempt
// state machine (Session) and the orchestrator that guards the single active
// session and exposes the user-facing operations (Manager).
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/aryan25798/NovaChat-sub003/internal/config"
	"github.com/aryan25798/NovaChat-sub003/internal/media"
	"github.com/aryan25798/NovaChat-sub003/internal/peer"
	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

var (
	// ErrSessionActive rejects starting or answering a call while one is
	// already in progress.
	ErrSessionActive = errors.New("call: a session is already active")

	// ErrNoActiveSession rejects in-call operations when no call is up.
	ErrNoActiveSession = errors.New("call: no active session")

	// ErrNoIncomingCall rejects answering when nothing is ringing.
	ErrNoIncomingCall = errors.New("call: no incoming call")

	// ErrOfferMissing means the caller's offer never reached the record
	// within the dial timeout.
	ErrOfferMissing = errors.New("call: record has no offer")
)

// Config carries the per-call tunables. Zero values fall back to the
// standard timings.
type Config struct {
	// DialTimeout ends an unanswered outgoing call as missed.
	DialTimeout time.Duration

	// RestartGrace bounds how long a voice call may stay disconnected while
	// an ICE restart is attempted before it is force-ended.
	RestartGrace time.Duration

	// ICEServers is handed to every peer connection.
	ICEServers []webrtc.ICEServer

	// CandidatePoolSize pre-gathers that many local candidates per call.
	CandidatePoolSize int
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = config.DefaultDialTimeout
	}
	if c.RestartGrace <= 0 {
		c.RestartGrace = config.DefaultRestartGracePeriod
	}
	if c.CandidatePoolSize <= 0 {
		c.CandidatePoolSize = config.DefaultCandidatePoolSize
	}
	return c
}

// Session is the state machine for one call attempt. All event handlers
// (store watches, pion callbacks, timers) serialize their state reads and
// writes behind mu; blocking store and peer operations happen outside it so
// a slow write can never wedge event delivery.
type Session struct {
	logger *slog.Logger
	store  signal.Store
	api    *webrtc.API
	source media.Source
	cfg    Config
	now    func() time.Time

	userID    string
	otherUser string
	role      signal.Side
	callType  signal.CallType
	chatID    string

	onStatus func(Status)
	onEnded  func(*Session)

	mu               sync.Mutex
	callID           string
	status           Status
	connState        webrtc.PeerConnectionState
	pm               *peer.Manager
	answering        bool
	ended            bool
	connectedAt      time.Time
	muted            bool
	videoEnabled     bool
	appliedAnswerSDP string
	appliedOfferSDP  string
	dialTimer        *time.Timer
	graceTimer       *time.Timer
	cancels          []signal.CancelFunc
}

func newSession(m *Manager, role signal.Side, callType signal.CallType, otherUser, chatID string) *Session {
	return &Session{
		logger:       m.logger.With("role", string(role), "call_type", string(callType)),
		store:        m.store,
		api:          m.api,
		source:       m.source,
		cfg:          m.cfg,
		now:          m.now,
		userID:       m.userID,
		otherUser:    otherUser,
		role:         role,
		callType:     callType,
		chatID:       chatID,
		status:       StatusIdle,
		videoEnabled: callType == signal.CallTypeVideo,
		onStatus:     m.sessionStatusChanged,
		onEnded:      m.sessionEnded,
	}
}

// startOutgoing runs the caller path up to the published offer: media, call
// record, peer connection, watches and the dial timeout. The session then
// advances on store and ICE events.
func (s *Session) startOutgoing(ctx context.Context) error {
	s.setStatus(StatusDialing)

	stream, err := s.source.Acquire(ctx, s.callType)
	if err != nil {
		s.logger.Error("local media unavailable", "err", err, "user_msg", media.UserMessage(err))
		s.end(ctx, false)
		return err
	}

	callID, err := s.store.CreateCall(ctx, s.userID, s.otherUser, s.callType, s.chatID)
	if err != nil {
		_ = stream.Close()
		s.end(ctx, false)
		return fmt.Errorf("create call: %w", err)
	}
	s.mu.Lock()
	s.callID = callID
	s.mu.Unlock()
	s.logger = s.logger.With("call_id", callID)

	if err := s.setupPeer(ctx, stream); err != nil {
		s.end(ctx, true)
		return err
	}

	offer, err := s.pm.CreateOffer()
	if err != nil {
		s.end(ctx, true)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.store.SetDescription(ctx, callID, offer, signal.DescriptionOffer); err != nil {
		s.end(ctx, true)
		return fmt.Errorf("publish offer: %w", err)
	}
	s.mu.Lock()
	s.appliedOfferSDP = offer.SDP
	if !s.ended {
		s.dialTimer = time.AfterFunc(s.cfg.DialTimeout, s.dialTimedOut)
	}
	s.mu.Unlock()

	return nil
}

// startIncoming runs the callee answer path: media, fresh record read, offer
// application, answer publication and the connected status write.
func (s *Session) startIncoming(ctx context.Context, callID string) error {
	s.mu.Lock()
	s.callID = callID
	s.mu.Unlock()
	s.logger = s.logger.With("call_id", callID)
	s.setStatus(StatusRinging)

	stream, err := s.source.Acquire(ctx, s.callType)
	if err != nil {
		s.logger.Error("local media unavailable", "err", err, "user_msg", media.UserMessage(err))
		s.end(ctx, true)
		return err
	}

	rec, err := s.store.GetCall(ctx, callID)
	if err != nil {
		_ = stream.Close()
		s.end(ctx, false)
		return fmt.Errorf("read call: %w", err)
	}
	offer := rec.Offer
	if offer == nil {
		// The incoming notification fires on record creation, a beat
		// before the caller's offer write lands. A fast answer waits for
		// the offer rather than failing the whole call.
		got, err := s.awaitOffer(ctx, callID)
		if err != nil {
			_ = stream.Close()
			s.end(ctx, !errors.Is(err, signal.ErrCallEnded))
			return err
		}
		offer = &got
	}

	if err := s.setupPeer(ctx, stream); err != nil {
		s.end(ctx, true)
		return err
	}

	if err := s.pm.SetRemoteDescription(*offer); err != nil {
		s.end(ctx, true)
		return fmt.Errorf("apply offer: %w", err)
	}
	s.mu.Lock()
	s.appliedOfferSDP = offer.SDP
	s.mu.Unlock()

	answer, err := s.pm.CreateAnswer()
	if err != nil {
		s.end(ctx, true)
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.store.SetDescription(ctx, callID, answer, signal.DescriptionAnswer); err != nil {
		s.end(ctx, true)
		return fmt.Errorf("publish answer: %w", err)
	}
	if err := s.store.UpdateCallStatus(ctx, callID, signal.CallStatusConnected, nil); err != nil {
		s.logger.Warn("connected status write failed", "err", err)
	}

	s.mu.Lock()
	s.connectedAt = s.now()
	s.mu.Unlock()
	s.setStatus(StatusConnected)
	return nil
}

// awaitOffer blocks until the caller's offer is on the record, bounded by the
// dial timeout. Returns signal.ErrCallEnded if the call turns terminal while
// waiting (the caller hung up or timed out first).
func (s *Session) awaitOffer(ctx context.Context, callID string) (signal.SessionDescription, error) {
	ready := make(chan signal.SessionDescription, 1)
	gone := make(chan struct{})
	var goneOnce sync.Once
	cancel, err := s.store.WatchCall(ctx, callID, func(rec *signal.CallRecord) {
		switch {
		case rec.Status.Terminal():
			goneOnce.Do(func() { close(gone) })
		case rec.Offer != nil:
			select {
			case ready <- *rec.Offer:
			default:
			}
		}
	})
	if err != nil {
		return signal.SessionDescription{}, fmt.Errorf("watch call: %w", err)
	}
	defer cancel()

	// The offer may have landed between the initial read and the watch
	// registration; re-read so that window cannot strand us on the select.
	if rec, err := s.store.GetCall(ctx, callID); err == nil && rec.Offer != nil {
		return *rec.Offer, nil
	}

	timer := time.NewTimer(s.cfg.DialTimeout)
	defer timer.Stop()
	select {
	case offer := <-ready:
		return offer, nil
	case <-gone:
		return signal.SessionDescription{}, signal.ErrCallEnded
	case <-timer.C:
		return signal.SessionDescription{}, ErrOfferMissing
	case <-ctx.Done():
		return signal.SessionDescription{}, ctx.Err()
	}
}

// setupPeer builds the peer connection, wires its events into the session
// and registers the store watches.
func (s *Session) setupPeer(ctx context.Context, stream media.Stream) error {
	pm, err := peer.New(s.api, s.cfg.ICEServers, s.cfg.CandidatePoolSize, s.callType, stream, peer.Events{
		LocalCandidate:        s.publishLocalCandidate,
		ConnectionStateChange: s.handleConnState,
	}, s.logger)
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("peer setup: %w", err)
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		_ = pm.Close()
		return ErrNoActiveSession
	}
	s.pm = pm
	callID := s.callID
	s.mu.Unlock()

	cancelUpdates, err := s.store.WatchCall(ctx, callID, s.handleUpdate)
	if err != nil {
		return fmt.Errorf("watch call: %w", err)
	}
	cancelCands, err := s.store.WatchCandidates(ctx, callID, s.role.Other(), s.handleRemoteCandidate)
	if err != nil {
		cancelUpdates()
		return fmt.Errorf("watch candidates: %w", err)
	}
	s.mu.Lock()
	s.cancels = append(s.cancels, cancelUpdates, cancelCands)
	s.mu.Unlock()
	return nil
}

func (s *Session) publishLocalCandidate(cand signal.Candidate) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	callID := s.callID
	s.mu.Unlock()
	if err := s.store.AppendCandidate(context.Background(), callID, s.role, cand); err != nil {
		s.logger.Warn("candidate publish failed", "err", err)
	}
}

func (s *Session) handleRemoteCandidate(cand signal.Candidate) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	pm := s.pm
	s.mu.Unlock()
	if err := pm.AddRemoteCandidate(cand); err != nil {
		s.logger.Warn("remote candidate rejected", "err", err)
	}
}

// handleUpdate reacts to call record changes: the dialing→ringing refinement,
// the remote answer (caller), re-offers from an ICE restart (callee) and the
// remote party ending or rejecting the call.
func (s *Session) handleUpdate(rec *signal.CallRecord) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}

	if rec.Status.Terminal() {
		s.mu.Unlock()
		s.logger.Info("remote ended call", "status", string(rec.Status))
		s.end(context.Background(), false)
		return
	}

	if s.role == signal.SideCaller {
		// Any non-terminal record write while dialing (in practice our own
		// offer landing) refines dialing to ringing. There is no callee-side
		// ack; the record status stays "ringing" until answered.
		if s.status == StatusDialing && rec.Status == signal.CallStatusRinging {
			s.status = StatusRinging
			s.mu.Unlock()
			s.notifyStatus(StatusRinging)
			s.mu.Lock()
		}
		if rec.Answer != nil && rec.Answer.SDP != s.appliedAnswerSDP && !s.answering {
			s.answering = true
			answer := *rec.Answer
			s.mu.Unlock()
			s.applyAnswer(answer)
			return
		}
		s.mu.Unlock()
		return
	}

	// Callee: a changed offer on a connected call is an ICE restart re-offer.
	if s.status == StatusConnected && rec.Offer != nil && rec.Offer.SDP != s.appliedOfferSDP {
		s.appliedOfferSDP = rec.Offer.SDP
		offer := *rec.Offer
		callID := s.callID
		s.mu.Unlock()
		s.renegotiate(callID, offer)
		return
	}
	s.mu.Unlock()
}

// applyAnswer installs the callee's answer exactly once. The answering flag
// held across the blocking description write keeps a second delivery of the
// same update from racing in behind it.
func (s *Session) applyAnswer(answer signal.SessionDescription) {
	err := s.pm.SetRemoteDescription(answer)

	s.mu.Lock()
	s.answering = false
	if s.ended {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("answer rejected", "err", err)
		return
	}
	s.appliedAnswerSDP = answer.SDP
	s.stopDialTimerLocked()
	s.stopGraceTimerLocked()
	if s.connectedAt.IsZero() {
		s.connectedAt = s.now()
	}
	s.status = StatusConnected
	s.mu.Unlock()
	s.notifyStatus(StatusConnected)
}

// renegotiate answers a restart offer on the callee side.
func (s *Session) renegotiate(callID string, offer signal.SessionDescription) {
	if err := s.pm.SetRemoteDescription(offer); err != nil {
		s.logger.Warn("restart offer rejected", "err", err)
		return
	}
	answer, err := s.pm.CreateAnswer()
	if err != nil {
		s.logger.Warn("restart answer failed", "err", err)
		return
	}
	if err := s.store.SetDescription(context.Background(), callID, answer, signal.DescriptionAnswer); err != nil {
		s.logger.Warn("restart answer publish failed", "err", err)
	}
}

func (s *Session) handleConnState(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.connState = state

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.stopGraceTimerLocked()
		if s.connectedAt.IsZero() {
			s.connectedAt = s.now()
		}
		s.mu.Unlock()

	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		if s.callType == signal.CallTypeVideo {
			s.mu.Unlock()
			s.logger.Warn("ice failed, ending video call", "state", state.String())
			s.end(context.Background(), true)
			return
		}
		// Voice: hold the call open for a bounded grace period. Only the
		// caller drives the restart, and only once the call has reached
		// connected: before the answer lands the signaling state is still
		// have-local-offer and a restart offer cannot be set locally. The
		// callee answers the re-offer when it shows up on the record.
		if s.graceTimer == nil {
			s.graceTimer = time.AfterFunc(s.cfg.RestartGrace, s.graceExpired)
		}
		restart := s.role == signal.SideCaller && s.status == StatusConnected
		callID := s.callID
		s.mu.Unlock()
		if restart {
			s.logger.Info("attempting ice restart", "state", state.String())
			err := s.pm.ICERestart(func(offer signal.SessionDescription) error {
				s.mu.Lock()
				s.appliedOfferSDP = offer.SDP
				s.mu.Unlock()
				return s.store.SetDescription(context.Background(), callID, offer, signal.DescriptionOffer)
			})
			if err != nil && !errors.Is(err, peer.ErrRestartInFlight) && !errors.Is(err, peer.ErrClosed) {
				s.logger.Warn("ice restart failed", "err", err)
			}
		}

	default:
		s.mu.Unlock()
	}
}

func (s *Session) dialTimedOut() {
	s.mu.Lock()
	if s.ended || s.status == StatusConnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.logger.Info("dial timeout, call missed")
	s.end(context.Background(), true)
}

func (s *Session) graceExpired() {
	s.mu.Lock()
	if s.ended || s.connState == webrtc.PeerConnectionStateConnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.logger.Warn("connection not recovered within grace period")
	s.end(context.Background(), true)
}

// end performs the full teardown once, on every exit path. notifyRemote is
// true when this endpoint is the one declaring the call over (hangup,
// timeout, ICE failure); it then writes the terminal status, the call-log
// line and cleans up the candidate streams. Reacting to a remote end skips
// all of that because the remote already did it.
func (s *Session) end(ctx context.Context, notifyRemote bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.stopDialTimerLocked()
	s.stopGraceTimerLocked()
	cancels := s.cancels
	s.cancels = nil
	pm := s.pm
	callID := s.callID
	connectedAt := s.connectedAt
	s.muted = false
	s.videoEnabled = false
	s.status = StatusEnded
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if pm != nil {
		_ = pm.Close()
	}

	duration := 0
	final := FinalStatusMissed
	if !connectedAt.IsZero() {
		duration = int(s.now().Sub(connectedAt) / time.Second)
		final = FinalStatusEnded
	}

	if notifyRemote && callID != "" {
		extra := &signal.StatusExtra{Duration: duration, FinalStatus: final}
		if err := s.store.UpdateCallStatus(ctx, callID, signal.CallStatusEnded, extra); err != nil {
			s.logger.Warn("terminal status write failed", "err", err)
		}
		if s.chatID != "" {
			if err := s.store.AppendCallLog(ctx, s.chatID, logText(final, duration)); err != nil {
				s.logger.Warn("call log write failed", "err", err)
			}
		}
		if err := s.store.CleanupSignaling(ctx, callID); err != nil {
			s.logger.Warn("signaling cleanup failed", "err", err)
		}
	}

	s.logger.Info("call ended", "final_status", final, "duration_s", duration, "notified_remote", notifyRemote)
	s.notifyStatus(StatusEnded)
	if s.onEnded != nil {
		s.onEnded(s)
	}
}

func (s *Session) toggleMute() (bool, error) {
	s.mu.Lock()
	if s.ended || s.pm == nil {
		s.mu.Unlock()
		return false, ErrNoActiveSession
	}
	target := !s.muted
	pm := s.pm
	s.mu.Unlock()

	if err := pm.SetAudioEnabled(!target); err != nil {
		return !target, err
	}
	s.mu.Lock()
	s.muted = target
	s.mu.Unlock()
	return target, nil
}

func (s *Session) toggleVideo() (bool, error) {
	s.mu.Lock()
	if s.ended || s.pm == nil {
		s.mu.Unlock()
		return false, ErrNoActiveSession
	}
	target := !s.videoEnabled
	pm := s.pm
	s.mu.Unlock()

	if err := pm.SetVideoEnabled(target); err != nil {
		return !target, err
	}
	s.mu.Lock()
	s.videoEnabled = target
	s.mu.Unlock()
	return target, nil
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Status:          s.status,
		ConnectionState: s.connState,
		OtherUser:       s.otherUser,
		Type:            s.callType,
		Incoming:        s.role == signal.SideCallee,
		Muted:           s.muted,
		VideoEnabled:    s.videoEnabled,
	}
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.mu.Unlock()
	s.notifyStatus(st)
}

func (s *Session) notifyStatus(st Status) {
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

func (s *Session) stopDialTimerLocked() {
	if s.dialTimer != nil {
		s.dialTimer.Stop()
		s.dialTimer = nil
	}
}

func (s *Session) stopGraceTimerLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}
