package signal

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// CallType distinguishes the two media profiles a call can carry.
type CallType string

const (
	CallTypeVideo CallType = "video"
	CallTypeVoice CallType = "voice"
)

func ParseCallType(raw string) (CallType, error) {
	switch CallType(raw) {
	case CallTypeVideo:
		return CallTypeVideo, nil
	case CallTypeVoice:
		return CallTypeVoice, nil
	default:
		return "", fmt.Errorf("invalid call type %q", raw)
	}
}

// CallStatus is the persisted status of a call record. Transitions are
// monotonic: once a record is ended or rejected it is never resurrected.
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
	CallStatusRejected  CallStatus = "rejected"
)

// Terminal reports whether no further status transitions are allowed.
func (s CallStatus) Terminal() bool {
	return s == CallStatusEnded || s == CallStatusRejected
}

// Side identifies which endpoint of a call wrote a candidate. Each endpoint
// appends to its own stream and reads the other side's.
type Side string

const (
	SideCaller Side = "caller"
	SideCallee Side = "callee"
)

func (s Side) Other() Side {
	if s == SideCaller {
		return SideCallee
	}
	return SideCaller
}

// DescriptionKind selects which SDP slot of the call record a description
// write targets.
type DescriptionKind string

const (
	DescriptionOffer  DescriptionKind = "offer"
	DescriptionAnswer DescriptionKind = "answer"
)

// SessionDescription is the JSON-friendly SDP payload stored on a call record.
// Kept free of pion types so the record can round-trip through any store or
// browser client unchanged.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func DescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is one discovered network path, stored append-only per side.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// CallRecord is the shared document both endpoints mutate during a call
// attempt. The offer slot is written by the caller (again on ICE restart),
// the answer slot once by the callee.
type CallRecord struct {
	ID         string     `json:"id"`
	CallerID   string     `json:"callerId"`
	ReceiverID string     `json:"receiverId"`
	Type       CallType   `json:"type"`
	Status     CallStatus `json:"status"`
	ChatID     string     `json:"chatId,omitempty"`

	Offer  *SessionDescription `json:"offer,omitempty"`
	Answer *SessionDescription `json:"answer,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	// End-of-call bookkeeping, written by the endpoint that ends the call.
	Duration    int    `json:"duration,omitempty"`
	FinalStatus string `json:"finalStatus,omitempty"`
}

func (r *CallRecord) Clone() *CallRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Offer != nil {
		offer := *r.Offer
		out.Offer = &offer
	}
	if r.Answer != nil {
		answer := *r.Answer
		out.Answer = &answer
	}
	return &out
}
