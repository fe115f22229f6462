package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/aryan25798/NovaChat-sub003/internal/media"
	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

// Snapshot is the observable session state handed to the UI layer.
type Snapshot struct {
	Status          Status                     `json:"status"`
	ConnectionState webrtc.PeerConnectionState `json:"connectionState"`
	OtherUser       string                     `json:"otherUser,omitempty"`
	Type            signal.CallType            `json:"type,omitempty"`
	Incoming        bool                       `json:"incoming"`
	Muted           bool                       `json:"muted"`
	VideoEnabled    bool                       `json:"videoEnabled"`
}

// Manager owns the single active call session for one user. Every entry
// point re-checks the active slot under the manager mutex, so two rapid UI
// triggers can never build two peer connections.
type Manager struct {
	logger  *slog.Logger
	store   signal.Store
	api     *webrtc.API
	source  media.Source
	alerter Alerter
	cfg     Config
	userID  string
	now     func() time.Time

	mu             sync.Mutex
	active         *Session
	pending        *signal.CallRecord
	cancelPending  signal.CancelFunc
	cancelIncoming signal.CancelFunc
	shutdown       bool
}

// NewManager wires the incoming-call subscription and returns a ready
// orchestrator. ctx bounds the subscription setup only; the watch itself
// lives until Shutdown.
func NewManager(ctx context.Context, userID string, store signal.Store, api *webrtc.API, source media.Source, alerter Alerter, cfg Config, logger *slog.Logger) (*Manager, error) {
	if alerter == nil {
		alerter = NopAlerter{}
	}
	m := &Manager{
		logger:  logger.With("user_id", userID),
		store:   store,
		api:     api,
		source:  source,
		alerter: alerter,
		cfg:     cfg.withDefaults(),
		userID:  userID,
		now:     time.Now,
	}
	cancel, err := store.WatchIncoming(ctx, userID, m.handleIncoming)
	if err != nil {
		return nil, err
	}
	m.cancelIncoming = cancel
	return m, nil
}

// StartCall dials otherUser. A warning no-op while any session is active or
// an incoming call is ringing.
func (m *Manager) StartCall(ctx context.Context, otherUser string, callType signal.CallType, chatID string) error {
	m.mu.Lock()
	if m.active != nil || m.pending != nil {
		m.mu.Unlock()
		m.logger.Warn("start call ignored, session already active", "other_user", otherUser)
		return ErrSessionActive
	}
	s := newSession(m, signal.SideCaller, callType, otherUser, chatID)
	m.active = s
	m.mu.Unlock()

	m.alerter.Play(ToneDial)
	return s.startOutgoing(ctx)
}

// AnswerCall picks up the pending incoming call.
func (m *Manager) AnswerCall(ctx context.Context) error {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		m.logger.Warn("answer ignored, session already active")
		return ErrSessionActive
	}
	rec := m.pending
	if rec == nil {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	m.pending = nil
	cancel := m.cancelPending
	m.cancelPending = nil
	s := newSession(m, signal.SideCallee, rec.Type, rec.CallerID, rec.ChatID)
	m.active = s
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.alerter.Stop()
	return s.startIncoming(ctx, rec.ID)
}

// EndCall hangs up the active session, or declines the pending incoming call
// when nothing is active yet. notifyRemote is false only when the end was
// already signaled by the other party.
func (m *Manager) EndCall(ctx context.Context, notifyRemote bool) error {
	m.mu.Lock()
	if s := m.active; s != nil {
		m.mu.Unlock()
		s.end(ctx, notifyRemote)
		return nil
	}
	rec := m.pending
	if rec == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	m.pending = nil
	cancel := m.cancelPending
	m.cancelPending = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.alerter.Stop()
	if err := m.store.UpdateCallStatus(ctx, rec.ID, signal.CallStatusRejected, nil); err != nil {
		m.logger.Warn("reject write failed", "call_id", rec.ID, "err", err)
	}
	if rec.ChatID != "" {
		if err := m.store.AppendCallLog(ctx, rec.ChatID, logText(FinalStatusMissed, 0)); err != nil {
			m.logger.Warn("call log write failed", "chat_id", rec.ChatID, "err", err)
		}
	}
	return nil
}

// ToggleMute flips the outbound audio and reports the new muted state.
func (m *Manager) ToggleMute() (bool, error) {
	s := m.activeSession()
	if s == nil {
		return false, ErrNoActiveSession
	}
	return s.toggleMute()
}

// ToggleVideo flips the outbound camera and reports the new enabled state.
func (m *Manager) ToggleVideo() (bool, error) {
	s := m.activeSession()
	if s == nil {
		return false, ErrNoActiveSession
	}
	return s.toggleVideo()
}

// Snapshot reports the observable call state: the active session if there is
// one, the ringing incoming call otherwise, idle when neither exists.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	s := m.active
	rec := m.pending
	m.mu.Unlock()

	if s != nil {
		return s.snapshot()
	}
	if rec != nil {
		return Snapshot{
			Status:    StatusRinging,
			OtherUser: rec.CallerID,
			Type:      rec.Type,
			Incoming:  true,
		}
	}
	return Snapshot{Status: StatusIdle}
}

// Shutdown is the process-exit path: best-effort hangup of whatever is live,
// then the incoming watch is torn down. Safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	cancelIncoming := m.cancelIncoming
	m.cancelIncoming = nil
	m.mu.Unlock()

	if err := m.EndCall(ctx, true); err != nil && err != ErrNoActiveSession {
		m.logger.Warn("shutdown hangup failed", "err", err)
	}
	if cancelIncoming != nil {
		cancelIncoming()
	}
	m.alerter.Stop()
}

func (m *Manager) activeSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// handleIncoming reacts to a new ringing call addressed to this user. Busy
// endpoints suppress it entirely; the caller's dial timeout resolves the
// attempt as missed on their side.
func (m *Manager) handleIncoming(rec *signal.CallRecord) {
	m.mu.Lock()
	if m.shutdown || m.active != nil || m.pending != nil {
		m.mu.Unlock()
		m.logger.Debug("suppressing incoming call while busy", "call_id", rec.ID, "caller", rec.CallerID)
		return
	}
	m.pending = rec
	m.mu.Unlock()

	m.logger.Info("incoming call", "call_id", rec.ID, "caller", rec.CallerID, "call_type", string(rec.Type))
	m.alerter.Play(ToneRing)

	// Track the record so a caller hangup or timeout stops the ringing.
	cancel, err := m.store.WatchCall(context.Background(), rec.ID, m.pendingUpdated)
	if err != nil {
		m.logger.Warn("pending call watch failed", "call_id", rec.ID, "err", err)
		return
	}
	m.mu.Lock()
	if m.pending != nil && m.pending.ID == rec.ID {
		m.cancelPending = cancel
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	cancel()
}

func (m *Manager) pendingUpdated(rec *signal.CallRecord) {
	if !rec.Status.Terminal() {
		return
	}
	m.mu.Lock()
	if m.pending == nil || m.pending.ID != rec.ID {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	cancel := m.cancelPending
	m.cancelPending = nil
	m.mu.Unlock()

	m.logger.Info("incoming call withdrawn", "call_id", rec.ID, "status", string(rec.Status))
	if cancel != nil {
		cancel()
	}
	m.alerter.Stop()
}

func (m *Manager) sessionStatusChanged(st Status) {
	switch st {
	case StatusConnected:
		m.alerter.Stop()
	case StatusEnded:
		m.alerter.Play(ToneEnd)
	}
}

func (m *Manager) sessionEnded(s *Session) {
	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()
}
