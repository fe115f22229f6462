package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

type messageType string

// Client to server.
const (
	messageTypeAuth        messageType = "auth"
	messageTypeStart       messageType = "start"
	messageTypeStatus      messageType = "status"
	messageTypeDescription messageType = "description"
	messageTypeCandidate   messageType = "candidate"
	messageTypeWatch       messageType = "watch"
	messageTypeLog         messageType = "log"
	messageTypeCleanup     messageType = "cleanup"
)

// Server to client.
const (
	messageTypeCreated  messageType = "created"
	messageTypeUpdate   messageType = "update"
	messageTypeCand     messageType = "cand"
	messageTypeIncoming messageType = "incoming"
	messageTypeError    messageType = "error"
)

// Watch targets accepted by the watch message.
const (
	watchTargetCall       = "call"
	watchTargetCandidates = "candidates"
	watchTargetIncoming   = "incoming"
)

// clientMessage is the single envelope every client frame decodes into.
// Unknown fields are rejected outright; validate enforces the per-type shape
// so a malformed frame never reaches the store.
type clientMessage struct {
	Type messageType `json:"type"`

	// auth
	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`
	User   string `json:"user,omitempty"`

	// start
	Receiver string `json:"receiver,omitempty"`
	CallType string `json:"callType,omitempty"`
	ChatID   string `json:"chatId,omitempty"`

	// status / description / candidate / watch / cleanup
	CallID string `json:"callId,omitempty"`

	// status
	Status      string `json:"status,omitempty"`
	Duration    *int   `json:"duration,omitempty"`
	FinalStatus string `json:"finalStatus,omitempty"`

	// description
	Kind string                     `json:"kind,omitempty"`
	SDP  *signal.SessionDescription `json:"sdp,omitempty"`

	// candidate / watch (candidates target)
	Side      string            `json:"side,omitempty"`
	Candidate *signal.Candidate `json:"candidate,omitempty"`

	// watch
	Target string `json:"target,omitempty"`

	// log
	Text string `json:"text,omitempty"`
}

// serverMessage is the envelope for every frame the gateway pushes.
type serverMessage struct {
	Type messageType `json:"type"`

	CallID string             `json:"callId,omitempty"`
	Record *signal.CallRecord `json:"record,omitempty"`

	Side      string            `json:"side,omitempty"`
	Candidate *signal.Candidate `json:"candidate,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	if m.Type != messageTypeAuth && (m.APIKey != "" || m.Token != "") {
		return fmt.Errorf("%s message carries credentials", m.Type)
	}

	switch m.Type {
	case messageTypeAuth:
		if m.APIKey == "" && m.Token == "" && m.User == "" {
			return fmt.Errorf("auth message missing apiKey/token/user")
		}
		if m.CallID != "" || m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("auth message has unexpected fields")
		}
	case messageTypeStart:
		if m.Receiver == "" {
			return fmt.Errorf("start message missing receiver")
		}
		if _, err := signal.ParseCallType(m.CallType); err != nil {
			return fmt.Errorf("start message: %w", err)
		}
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("start message has unexpected fields")
		}
	case messageTypeStatus:
		if m.CallID == "" {
			return fmt.Errorf("status message missing callId")
		}
		if _, err := parseCallStatus(m.Status); err != nil {
			return err
		}
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("status message has unexpected fields")
		}
	case messageTypeDescription:
		if m.CallID == "" {
			return fmt.Errorf("description message missing callId")
		}
		if m.SDP == nil || m.SDP.SDP == "" {
			return fmt.Errorf("description message missing sdp")
		}
		if _, err := parseDescriptionKind(m.Kind); err != nil {
			return err
		}
		if m.SDP.Type != m.Kind {
			return fmt.Errorf("description message has sdp.type=%q for kind=%q", m.SDP.Type, m.Kind)
		}
		if m.Candidate != nil {
			return fmt.Errorf("description message has unexpected fields")
		}
	case messageTypeCandidate:
		if m.CallID == "" {
			return fmt.Errorf("candidate message missing callId")
		}
		if m.Candidate == nil || m.Candidate.Candidate == "" {
			return fmt.Errorf("candidate message missing candidate")
		}
		if _, err := parseSide(m.Side); err != nil {
			return err
		}
		if m.SDP != nil {
			return fmt.Errorf("candidate message has unexpected fields")
		}
	case messageTypeWatch:
		switch m.Target {
		case watchTargetCall:
			if m.CallID == "" {
				return fmt.Errorf("watch call message missing callId")
			}
		case watchTargetCandidates:
			if m.CallID == "" {
				return fmt.Errorf("watch candidates message missing callId")
			}
			if _, err := parseSide(m.Side); err != nil {
				return err
			}
		case watchTargetIncoming:
			if m.CallID != "" || m.Side != "" {
				return fmt.Errorf("watch incoming message has unexpected fields")
			}
		default:
			return fmt.Errorf("unsupported watch target %q", m.Target)
		}
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("watch message has unexpected fields")
		}
	case messageTypeLog:
		if m.ChatID == "" || m.Text == "" {
			return fmt.Errorf("log message missing chatId/text")
		}
		if m.CallID != "" || m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("log message has unexpected fields")
		}
	case messageTypeCleanup:
		if m.CallID == "" {
			return fmt.Errorf("cleanup message missing callId")
		}
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("cleanup message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func parseCallStatus(raw string) (signal.CallStatus, error) {
	switch signal.CallStatus(raw) {
	case signal.CallStatusRinging, signal.CallStatusConnected, signal.CallStatusEnded, signal.CallStatusRejected:
		return signal.CallStatus(raw), nil
	default:
		return "", fmt.Errorf("invalid call status %q", raw)
	}
}

func parseDescriptionKind(raw string) (signal.DescriptionKind, error) {
	switch signal.DescriptionKind(raw) {
	case signal.DescriptionOffer, signal.DescriptionAnswer:
		return signal.DescriptionKind(raw), nil
	default:
		return "", fmt.Errorf("invalid description kind %q", raw)
	}
}

func parseSide(raw string) (signal.Side, error) {
	switch signal.Side(raw) {
	case signal.SideCaller, signal.SideCallee:
		return signal.Side(raw), nil
	default:
		return "", fmt.Errorf("invalid side %q", raw)
	}
}
