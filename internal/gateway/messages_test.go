package gateway

import (
	"encoding/json"
	"testing"

	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

func TestClientMessage_ParseStart(t *testing.T) {
	raw := []byte(`{ "type":"start", "receiver":"bob", "callType":"video", "chatId":"chat-1" }`)
	got, err := parseClientMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != messageTypeStart || got.Receiver != "bob" || got.CallType != "video" || got.ChatID != "chat-1" {
		t.Fatalf("unexpected decoded start: %#v", got)
	}
}

func TestClientMessage_ParseCandidate(t *testing.T) {
	raw := []byte(`{
		"type":"candidate",
		"callId":"c1",
		"side":"caller",
		"candidate":{
			"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host",
			"sdpMid":"0",
			"sdpMLineIndex":0
		}
	}`)
	got, err := parseClientMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != messageTypeCandidate || got.Candidate == nil || got.Candidate.Candidate == "" {
		t.Fatalf("unexpected decoded candidate: %#v", got)
	}
}

func TestClientMessage_RoundTripDescription(t *testing.T) {
	msg := clientMessage{
		Type:   messageTypeDescription,
		CallID: "c1",
		Kind:   "offer",
		SDP:    &signal.SessionDescription{Type: "offer", SDP: "v=0"},
	}

	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := parseClientMessage(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.SDP == nil || got.SDP.SDP != "v=0" {
		t.Fatalf("unexpected decoded description: %#v", got)
	}
}

func TestClientMessage_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown field", `{ "type":"cleanup", "callId":"c1", "unexpected":true }`},
		{"trailing data", `{ "type":"cleanup", "callId":"c1" }{}`},
		{"unsupported type", `{ "type":"hangup", "callId":"c1" }`},
		{"start without receiver", `{ "type":"start", "callType":"video" }`},
		{"start with bad call type", `{ "type":"start", "receiver":"bob", "callType":"screen" }`},
		{"status with bad status", `{ "type":"status", "callId":"c1", "status":"paused" }`},
		{"status without callId", `{ "type":"status", "status":"connected" }`},
		{"description kind mismatch", `{ "type":"description", "callId":"c1", "kind":"answer", "sdp":{"type":"offer","sdp":"v=0"} }`},
		{"description without sdp", `{ "type":"description", "callId":"c1", "kind":"offer" }`},
		{"candidate with bad side", `{ "type":"candidate", "callId":"c1", "side":"watcher", "candidate":{"candidate":"candidate:1"} }`},
		{"watch with bad target", `{ "type":"watch", "target":"everything" }`},
		{"watch incoming with callId", `{ "type":"watch", "target":"incoming", "callId":"c1" }`},
		{"watch candidates without side", `{ "type":"watch", "target":"candidates", "callId":"c1" }`},
		{"log without text", `{ "type":"log", "chatId":"chat-1" }`},
		{"credentials outside auth", `{ "type":"cleanup", "callId":"c1", "apiKey":"secret" }`},
		{"auth with nothing", `{ "type":"auth" }`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseClientMessage([]byte(tc.raw)); err == nil {
				t.Fatalf("expected error for %s", tc.raw)
			}
		})
	}
}

func TestClientMessage_WatchVariants(t *testing.T) {
	for _, raw := range []string{
		`{ "type":"watch", "target":"call", "callId":"c1" }`,
		`{ "type":"watch", "target":"candidates", "callId":"c1", "side":"callee" }`,
		`{ "type":"watch", "target":"incoming" }`,
	} {
		if _, err := parseClientMessage([]byte(raw)); err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
	}
}
