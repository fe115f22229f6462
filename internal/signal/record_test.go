package signal

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestSessionDescriptionToPion(t *testing.T) {
	t.Parallel()

	desc, err := SessionDescription{Type: "offer", SDP: "v=0"}.ToPion()
	if err != nil {
		t.Fatalf("ToPion: %v", err)
	}
	if desc.Type != webrtc.SDPTypeOffer || desc.SDP != "v=0" {
		t.Fatalf("unexpected description: %+v", desc)
	}

	if _, err := (SessionDescription{Type: "pranswer", SDP: "v=0"}).ToPion(); err == nil {
		t.Fatalf("expected error for unsupported sdp type")
	}
}

func TestSideOther(t *testing.T) {
	t.Parallel()

	if SideCaller.Other() != SideCallee {
		t.Fatalf("caller's opposite must be callee")
	}
	if SideCallee.Other() != SideCaller {
		t.Fatalf("callee's opposite must be caller")
	}
}

func TestCallStatusTerminal(t *testing.T) {
	t.Parallel()

	for status, terminal := range map[CallStatus]bool{
		CallStatusRinging:   false,
		CallStatusConnected: false,
		CallStatusEnded:     true,
		CallStatusRejected:  true,
	} {
		if got := status.Terminal(); got != terminal {
			t.Fatalf("%q.Terminal()=%v, want %v", status, got, terminal)
		}
	}
}

func TestCallRecordCloneIsDeep(t *testing.T) {
	t.Parallel()

	rec := &CallRecord{
		ID:     "c1",
		Status: CallStatusRinging,
		Offer:  &SessionDescription{Type: "offer", SDP: "v=0"},
	}

	clone := rec.Clone()
	clone.Offer.SDP = "mutated"
	clone.Status = CallStatusEnded

	if rec.Offer.SDP != "v=0" {
		t.Fatalf("clone shares offer with original")
	}
	if rec.Status != CallStatusRinging {
		t.Fatalf("clone shares status with original")
	}
}

func TestParseCallType(t *testing.T) {
	t.Parallel()

	if ct, err := ParseCallType("video"); err != nil || ct != CallTypeVideo {
		t.Fatalf("ParseCallType(video)=%v,%v", ct, err)
	}
	if _, err := ParseCallType("fax"); err == nil {
		t.Fatalf("expected error for unknown call type")
	}
}
