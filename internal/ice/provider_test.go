package ice

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServersFromEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[
			{"urls":["stun:stun.example.org:3478"]},
			{"urls":["turn:turn.example.org:3478?transport=udp"],"username":"1700000000:alice","credential":"c2VjcmV0"}
		]}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, time.Second, testLogger())
	servers := p.Servers(context.Background())
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("first server urls = %v", servers[0].URLs)
	}
	if servers[1].Username != "1700000000:alice" || servers[1].Credential != "c2VjcmV0" {
		t.Fatalf("turn credentials not carried through: %+v", servers[1])
	}
}

func TestServersDropsCredentiallessTURN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"iceServers":[
			{"urls":["stun:stun.example.org:3478"]},
			{"urls":["turn:turn.example.org:3478"]}
		]}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, time.Second, testLogger())
	servers := p.Servers(context.Background())
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("servers = %+v, want only the stun entry", servers)
	}
}

func TestServersFallsBackOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, time.Second, testLogger())
	assertFallback(t, p.Servers(context.Background()))
}

func TestServersFallsBackOnBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, time.Second, testLogger())
	assertFallback(t, p.Servers(context.Background()))
}

func TestServersFallsBackOnEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"iceServers":[]}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, time.Second, testLogger())
	assertFallback(t, p.Servers(context.Background()))
}

func TestServersWithoutEndpoint(t *testing.T) {
	p := NewProvider("", 0, testLogger())
	assertFallback(t, p.Servers(context.Background()))
}

func TestServersFallsBackOnUnreachableHost(t *testing.T) {
	p := NewProvider("http://127.0.0.1:1/webrtc/ice", 200*time.Millisecond, testLogger())
	assertFallback(t, p.Servers(context.Background()))
}

func assertFallback(t *testing.T, servers []webrtc.ICEServer) {
	t.Helper()
	if len(servers) != 1 {
		t.Fatalf("fallback returned %d entries, want 1", len(servers))
	}
	if len(servers[0].URLs) != len(fallbackSTUNURLs) {
		t.Fatalf("fallback urls = %v", servers[0].URLs)
	}
	for i, u := range servers[0].URLs {
		if u != fallbackSTUNURLs[i] {
			t.Fatalf("fallback url[%d] = %q, want %q", i, u, fallbackSTUNURLs[i])
		}
	}
}
