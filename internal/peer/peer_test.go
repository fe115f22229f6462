package peer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aryan25798/NovaChat-sub003/internal/media"
	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, callType signal.CallType, events Events) *Manager {
	t.Helper()
	api, err := NewAPI(testLogger(), nil)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	stream, err := media.SyntheticSource{}.Acquire(context.Background(), callType)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	m, err := New(api, nil, 0, callType, stream, events, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestVoiceOfferCarriesOpusParams(t *testing.T) {
	m := newTestManager(t, signal.CallTypeVoice, Events{})
	offer, err := m.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != "offer" {
		t.Fatalf("offer.Type = %q", offer.Type)
	}
	for _, param := range []string{"usedtx=1", "maxaveragebitrate=64000"} {
		if !strings.Contains(offer.SDP, param) {
			t.Fatalf("voice offer SDP missing %q", param)
		}
	}
	// Only the published copy is patched; the installed local description
	// must stay byte-for-byte what pion produced or SetLocalDescription
	// rejects it as a modified offer.
	local := m.pc.LocalDescription()
	if local == nil {
		t.Fatal("no local description installed")
	}
	if strings.Contains(local.SDP, "usedtx=1") {
		t.Fatal("installed local description carries the published-only patch")
	}
}

func TestVideoOfferIsNotPatched(t *testing.T) {
	m := newTestManager(t, signal.CallTypeVideo, Events{})
	offer, err := m.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if strings.Contains(offer.SDP, "usedtx=1") {
		t.Fatalf("video offer unexpectedly carries voice opus params")
	}
}

func TestOfferAnswerAndCandidateBuffering(t *testing.T) {
	caller := newTestManager(t, signal.CallTypeVoice, Events{})
	callee := newTestManager(t, signal.CallTypeVoice, Events{})

	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("caller CreateOffer: %v", err)
	}

	// A candidate arriving before the answer must be held, not applied.
	mid := "0"
	early := signal.Candidate{
		Candidate: "candidate:1 1 UDP 2130706431 127.0.0.1 54321 typ host",
		SDPMid:    &mid,
	}
	if err := caller.AddRemoteCandidate(early); err != nil {
		t.Fatalf("AddRemoteCandidate (early): %v", err)
	}
	if got := caller.buffer.Len(); got != 1 {
		t.Fatalf("buffer.Len() = %d, want 1", got)
	}
	if caller.RemoteApplied() {
		t.Fatal("RemoteApplied() true before answer")
	}

	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("callee SetRemoteDescription: %v", err)
	}
	answer, err := callee.CreateAnswer()
	if err != nil {
		t.Fatalf("callee CreateAnswer: %v", err)
	}
	if answer.Type != "answer" {
		t.Fatalf("answer.Type = %q", answer.Type)
	}

	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatalf("caller SetRemoteDescription: %v", err)
	}
	if !caller.RemoteApplied() {
		t.Fatal("RemoteApplied() false after answer")
	}
	if got := caller.buffer.Len(); got != 0 {
		t.Fatalf("buffer.Len() after answer = %d, want 0", got)
	}

	// Candidates now route directly instead of re-entering the buffer.
	late := signal.Candidate{
		Candidate: "candidate:2 1 UDP 2130706430 127.0.0.1 54322 typ host",
		SDPMid:    &mid,
	}
	if err := caller.AddRemoteCandidate(late); err != nil {
		t.Fatalf("AddRemoteCandidate (late): %v", err)
	}
	if got := caller.buffer.Len(); got != 0 {
		t.Fatalf("late candidate was buffered, Len() = %d", got)
	}
}

func TestNoCandidateStrandedAcrossRemoteApply(t *testing.T) {
	caller := newTestManager(t, signal.CallTypeVoice, Events{})
	callee := newTestManager(t, signal.CallTypeVoice, Events{})

	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("caller CreateOffer: %v", err)
	}
	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("callee SetRemoteDescription: %v", err)
	}
	answer, err := callee.CreateAnswer()
	if err != nil {
		t.Fatalf("callee CreateAnswer: %v", err)
	}

	// Candidates trickle in on their own goroutine while the answer is
	// being applied. Whichever side of the flush each one lands on, none
	// may be left behind in the buffer afterwards.
	mid := "0"
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			cand := signal.Candidate{
				Candidate: fmt.Sprintf("candidate:%d 1 UDP 2130706431 127.0.0.1 %d typ host", i+1, 40000+i),
				SDPMid:    &mid,
			}
			if err := caller.AddRemoteCandidate(cand); err != nil {
				t.Errorf("AddRemoteCandidate: %v", err)
				return
			}
		}
	}()
	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatalf("caller SetRemoteDescription: %v", err)
	}
	wg.Wait()

	if got := caller.buffer.Len(); got != 0 {
		t.Fatalf("%d candidates stranded in the buffer after the flush", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newTestManager(t, signal.CallTypeVoice, Events{})
	if err := m.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := m.CreateOffer(); err != ErrClosed {
		t.Fatalf("CreateOffer after Close err = %v, want ErrClosed", err)
	}
	if err := m.AddRemoteCandidate(signal.Candidate{Candidate: "x"}); err != ErrClosed {
		t.Fatalf("AddRemoteCandidate after Close err = %v, want ErrClosed", err)
	}
	if err := m.ICERestart(func(signal.SessionDescription) error { return nil }); err != ErrClosed {
		t.Fatalf("ICERestart after Close err = %v, want ErrClosed", err)
	}
}

func TestICERestartProducesFreshOffer(t *testing.T) {
	caller := newTestManager(t, signal.CallTypeVoice, Events{})
	callee := newTestManager(t, signal.CallTypeVoice, Events{})

	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("callee SetRemoteDescription: %v", err)
	}
	answer, err := callee.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatalf("caller SetRemoteDescription: %v", err)
	}

	var published signal.SessionDescription
	err = caller.ICERestart(func(desc signal.SessionDescription) error {
		published = desc
		return nil
	})
	if err != nil {
		t.Fatalf("ICERestart: %v", err)
	}
	if published.Type != "offer" || published.SDP == "" {
		t.Fatalf("restart published %q with %d SDP bytes", published.Type, len(published.SDP))
	}
	if !strings.Contains(published.SDP, "usedtx=1") {
		t.Fatal("restart offer lost the voice opus params")
	}
}

func TestSetAudioEnabledTogglesSender(t *testing.T) {
	m := newTestManager(t, signal.CallTypeVideo, Events{})

	if err := m.SetAudioEnabled(false); err != nil {
		t.Fatalf("mute: %v", err)
	}
	// Repeating the same state is a no-op, not an error.
	if err := m.SetAudioEnabled(false); err != nil {
		t.Fatalf("mute again: %v", err)
	}
	if err := m.SetAudioEnabled(true); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if err := m.SetVideoEnabled(false); err != nil {
		t.Fatalf("camera off: %v", err)
	}
	if err := m.SetVideoEnabled(true); err != nil {
		t.Fatalf("camera on: %v", err)
	}
}

func TestVoiceCallHasNoVideoSender(t *testing.T) {
	m := newTestManager(t, signal.CallTypeVoice, Events{})
	if err := m.SetVideoEnabled(false); err == nil {
		t.Fatal("expected error toggling video on a voice call")
	}
}

func TestLocalCandidatesSurfaceThroughEvents(t *testing.T) {
	gathered := make(chan signal.Candidate, 16)
	m := newTestManager(t, signal.CallTypeVoice, Events{
		LocalCandidate: func(c signal.Candidate) {
			select {
			case gathered <- c:
			default:
			}
		},
	})
	if _, err := m.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	select {
	case c := <-gathered:
		if c.Candidate == "" {
			t.Fatal("gathered candidate has empty candidate string")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no local candidate gathered")
	}
}
