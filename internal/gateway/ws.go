package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aryan25798/NovaChat-sub003/internal/auth"
	"github.com/aryan25798/NovaChat-sub003/internal/config"
	"github.com/aryan25798/NovaChat-sub003/internal/metrics"
	"github.com/aryan25798/NovaChat-sub003/internal/origin"
	"github.com/aryan25798/NovaChat-sub003/internal/ratelimit"
	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

const wsWriteWait = 1 * time.Second

// WebSocketServer exposes the call store to first-party clients over a
// WebSocket connection.
//
// It enforces authentication (api_key/jwt) plus per-connection limits so an
// idle unauthenticated socket, an oversized frame or a message flood never
// reaches the store. After authentication each text frame is one operation
// against the store; watch operations subscribe the connection to pushed
// update/cand/incoming frames for as long as it stays open.
type WebSocketServer struct {
	cfg      config.Config
	log      *slog.Logger
	store    signal.Store
	verifier auth.Verifier
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewWebSocketServer(cfg config.Config, store signal.Store, m *metrics.Metrics, logger *slog.Logger) (*WebSocketServer, error) {
	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}

	s := &WebSocketServer{
		cfg:      cfg,
		log:      logger,
		store:    store,
		verifier: verifier,
		metrics:  m,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			header := r.Header.Get("Origin")
			if header == "" {
				return true
			}
			normalized, host, ok := origin.NormalizeHeader(header)
			return ok && origin.IsAllowed(normalized, host, r.Host, cfg.AllowedOrigins)
		},
	}
	return s, nil
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.Inc(metrics.EventWSConnections)

	c := &wsConn{
		srv:     s,
		conn:    conn,
		log:     s.log.With("remote_addr", conn.RemoteAddr().String()),
		watches: make(map[string]signal.CancelFunc),
	}
	defer c.cancelWatches()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Query-string credentials allow one-round-trip auth. A connection
	// without them gets a short window to send an auth frame instead.
	verified := false
	if cred, err := auth.CredentialFromQuery(s.cfg.AuthMode, r.URL.Query()); err == nil {
		id, verr := s.verifier.Verify(cred)
		if verr != nil {
			s.metrics.Inc(metrics.EventWSAuthFailures)
			c.writeClose(websocket.ClosePolicyViolation, "invalid credentials")
			return
		}
		verified = true
		c.userID = id.UserID
		if c.userID == "" {
			c.userID = r.URL.Query().Get("user")
		}
	} else if !errors.Is(err, auth.ErrMissingCredentials) {
		c.writeClose(websocket.CloseInternalServerErr, "invalid auth configuration")
		return
	}
	authenticated := verified && c.userID != ""

	if authenticated {
		// Seed the idle deadline right away; pongs only extend it, and the
		// first one is a ping interval out.
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.SignalingAuthTimeout))
	}

	conn.SetPongHandler(func(string) error {
		if authenticated {
			return conn.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
		}
		return nil
	})
	stopPings := c.startPings()
	defer stopPings()

	limiter := ratelimit.NewTokenBucket(nil, int64(s.cfg.MaxSignalingMessagesPerSecond), int64(s.cfg.MaxSignalingMessagesPerSecond))

	for {
		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.EventWSRateLimitedDrops)
			c.writeClose(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msgType, msgReader, err := conn.NextReader()
		if err != nil {
			if !authenticated && isTimeout(err) {
				c.writeClose(websocket.ClosePolicyViolation, "authentication timeout")
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.writeClose(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		data, err := readLimited(msgReader, s.cfg.MaxSignalingMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				c.writeClose(websocket.CloseMessageTooBig, "message too large")
				return
			}
			c.writeClose(websocket.CloseInternalServerErr, "failed to read message")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			s.metrics.Inc(metrics.EventWSInvalidMessages)
			c.writeClose(websocket.CloseUnsupportedData, "invalid message")
			return
		}

		if !authenticated {
			if msg.Type != messageTypeAuth {
				c.writeClose(websocket.ClosePolicyViolation, "authentication required")
				return
			}
			if !s.authenticate(c, msg, verified) {
				return
			}
			authenticated = true
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
			continue
		}
		if msg.Type == messageTypeAuth {
			c.writeClose(websocket.ClosePolicyViolation, "already authenticated")
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))

		if err := c.handle(ctx, msg); err != nil {
			return
		}
	}
}

// authenticate resolves the auth frame of a connection that did not fully
// authenticate via the query string. queryVerified is true when the query
// credential already checked out and only the user was missing.
func (s *WebSocketServer) authenticate(c *wsConn, msg clientMessage, queryVerified bool) bool {
	cred, err := credentialFromMessage(s.cfg.AuthMode, msg)
	if err != nil {
		if queryVerified && errors.Is(err, auth.ErrMissingCredentials) {
			cred = ""
			err = nil
		} else {
			c.writeClose(websocket.ClosePolicyViolation, "missing credentials")
			return false
		}
	}

	userID := msg.User
	if cred != "" || !queryVerified {
		id, verr := s.verifier.Verify(cred)
		if verr != nil {
			s.metrics.Inc(metrics.EventWSAuthFailures)
			c.writeClose(websocket.ClosePolicyViolation, "invalid credentials")
			return false
		}
		if id.UserID != "" {
			userID = id.UserID
		}
	}

	if userID == "" {
		c.writeClose(websocket.ClosePolicyViolation, "user not identified")
		return false
	}
	c.userID = userID
	return true
}

func credentialFromMessage(mode config.AuthMode, m clientMessage) (string, error) {
	switch mode {
	case config.AuthModeNone:
		return "", nil
	case config.AuthModeAPIKey:
		if m.APIKey != "" {
			return m.APIKey, nil
		}
		return "", auth.ErrMissingCredentials
	case config.AuthModeJWT:
		if m.Token != "" {
			return m.Token, nil
		}
		return "", auth.ErrMissingCredentials
	default:
		return "", auth.ErrMissingCredentials
	}
}

// wsConn is the per-connection state: the authenticated user, the write lock
// serializing pushed frames with replies, and the live watch subscriptions.
type wsConn struct {
	srv    *WebSocketServer
	conn   *websocket.Conn
	log    *slog.Logger
	userID string

	sendMu sync.Mutex

	mu      sync.Mutex
	watches map[string]signal.CancelFunc
}

// handle executes one authenticated operation. A non-nil return tears the
// connection down; store failures are reported in-band instead so a transient
// backend error does not drop the signaling channel mid-call.
func (c *wsConn) handle(ctx context.Context, msg clientMessage) error {
	m := c.srv.metrics
	store := c.srv.store

	switch msg.Type {
	case messageTypeStart:
		callType, _ := signal.ParseCallType(msg.CallType)
		callID, err := store.CreateCall(ctx, c.userID, msg.Receiver, callType, msg.ChatID)
		if err != nil {
			return c.sendStoreError(msg.Type, err)
		}
		m.Inc(metrics.EventCallsStarted)
		return c.send(serverMessage{Type: messageTypeCreated, CallID: callID})

	case messageTypeStatus:
		status, _ := parseCallStatus(msg.Status)
		var extra *signal.StatusExtra
		if msg.FinalStatus != "" || msg.Duration != nil {
			extra = &signal.StatusExtra{FinalStatus: msg.FinalStatus}
			if msg.Duration != nil {
				extra.Duration = *msg.Duration
			}
		}
		if err := store.UpdateCallStatus(ctx, msg.CallID, status, extra); err != nil {
			return c.sendStoreError(msg.Type, err)
		}
		switch status {
		case signal.CallStatusConnected:
			m.Inc(metrics.EventCallsConnected)
		case signal.CallStatusEnded:
			m.Inc(metrics.EventCallsEnded)
		case signal.CallStatusRejected:
			m.Inc(metrics.EventCallsRejected)
		}
		return nil

	case messageTypeDescription:
		kind, _ := parseDescriptionKind(msg.Kind)
		if err := store.SetDescription(ctx, msg.CallID, *msg.SDP, kind); err != nil {
			return c.sendStoreError(msg.Type, err)
		}
		return nil

	case messageTypeCandidate:
		side, _ := parseSide(msg.Side)
		if err := store.AppendCandidate(ctx, msg.CallID, side, *msg.Candidate); err != nil {
			return c.sendStoreError(msg.Type, err)
		}
		m.Inc(metrics.EventCandidatesRelayed)
		return nil

	case messageTypeWatch:
		return c.watch(ctx, msg)

	case messageTypeLog:
		if err := store.AppendCallLog(ctx, msg.ChatID, msg.Text); err != nil {
			return c.sendStoreError(msg.Type, err)
		}
		return nil

	case messageTypeCleanup:
		if err := store.CleanupSignaling(ctx, msg.CallID); err != nil {
			return c.sendStoreError(msg.Type, err)
		}
		return nil

	default:
		c.writeClose(websocket.CloseUnsupportedData, "unsupported message type")
		return errors.New("unsupported message type")
	}
}

func (c *wsConn) watch(ctx context.Context, msg clientMessage) error {
	var (
		cancel signal.CancelFunc
		err    error
		key    string
	)

	switch msg.Target {
	case watchTargetCall:
		key = watchTargetCall + "/" + msg.CallID
		cancel, err = c.srv.store.WatchCall(ctx, msg.CallID, func(rec *signal.CallRecord) {
			c.push(serverMessage{Type: messageTypeUpdate, CallID: rec.ID, Record: rec})
		})
	case watchTargetCandidates:
		side, _ := parseSide(msg.Side)
		callID := msg.CallID
		key = watchTargetCandidates + "/" + callID + "/" + msg.Side
		cancel, err = c.srv.store.WatchCandidates(ctx, callID, side, func(cand signal.Candidate) {
			c.push(serverMessage{Type: messageTypeCand, CallID: callID, Side: msg.Side, Candidate: &cand})
		})
	case watchTargetIncoming:
		key = watchTargetIncoming
		cancel, err = c.srv.store.WatchIncoming(ctx, c.userID, func(rec *signal.CallRecord) {
			c.push(serverMessage{Type: messageTypeIncoming, CallID: rec.ID, Record: rec})
		})
	}
	if err != nil {
		return c.sendStoreError(msg.Type, err)
	}

	// Re-watching the same target replaces the old subscription so a client
	// reconnect flow never doubles its event stream.
	c.mu.Lock()
	prev := c.watches[key]
	c.watches[key] = cancel
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

func (c *wsConn) cancelWatches() {
	c.mu.Lock()
	cancels := make([]signal.CancelFunc, 0, len(c.watches))
	for _, cancel := range c.watches {
		cancels = append(cancels, cancel)
	}
	c.watches = make(map[string]signal.CancelFunc)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (c *wsConn) send(msg serverMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// push delivers a watch event. Write failures are swallowed; the reader loop
// notices the dead connection on its next read.
func (c *wsConn) push(msg serverMessage) {
	if err := c.send(msg); err != nil {
		c.log.Debug("dropping watch event", "type", msg.Type, "err", err)
	}
}

func (c *wsConn) sendStoreError(op messageType, err error) error {
	code := "store_error"
	if errors.Is(err, signal.ErrCallNotFound) {
		code = "not_found"
	} else if errors.Is(err, signal.ErrCallEnded) {
		code = "call_ended"
	}
	c.log.Warn("store operation failed", "op", op, "err", err)
	return c.send(serverMessage{Type: messageTypeError, Code: code, Message: err.Error()})
}

func (c *wsConn) writeClose(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// startPings keeps intermediaries from reaping quiet connections during a
// long ring. WriteControl is safe to call concurrently with WriteMessage.
func (c *wsConn) startPings() func() {
	interval := c.srv.cfg.SignalingWSPingInterval
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
