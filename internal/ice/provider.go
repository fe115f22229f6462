// Package ice resolves the ICE server list for new call attempts from the
// credential endpoint, degrading to public STUN when it is unreachable.
package ice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
)

// fallbackSTUNURLs keeps call setup working when the credential endpoint is
// down. NAT traversal may degrade (no TURN relay) but setup never hard-fails.
var fallbackSTUNURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

const defaultFetchTimeout = 5 * time.Second

// Provider fetches ICE servers (with fresh TURN credentials) from the
// signaling gateway's /webrtc/ice endpoint.
type Provider struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewProvider builds a provider against the given endpoint URL. An empty URL
// means fallback-only operation.
func NewProvider(url string, timeout time.Duration, logger *slog.Logger) *Provider {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Provider{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		timeout: timeout,
	}
}

// iceServerPayload mirrors the wire shape of one server entry.
type iceServerPayload struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceResponse struct {
	ICEServers []iceServerPayload `json:"iceServers"`
}

// Servers returns the ICE server list for a new call attempt. Every failure
// mode (no endpoint, transport error, bad payload, empty list) degrades to
// the public STUN fallback rather than failing the call.
func (p *Provider) Servers(ctx context.Context) []webrtc.ICEServer {
	if p.url == "" {
		return Fallback()
	}
	servers, err := p.fetch(ctx)
	if err != nil {
		p.logger.Warn("ice server fetch failed, using stun fallback", "url", p.url, "err", err)
		return Fallback()
	}
	servers = FilterDialable(servers)
	if len(servers) == 0 {
		p.logger.Warn("ice endpoint returned no usable servers, using stun fallback", "url", p.url)
		return Fallback()
	}
	return servers
}

func (p *Provider) fetch(ctx context.Context) ([]webrtc.ICEServer, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload iceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(payload.ICEServers))
	for _, s := range payload.ICEServers {
		if len(s.URLs) == 0 {
			continue
		}
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// Fallback returns the hardcoded public STUN list.
func Fallback() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: append([]string(nil), fallbackSTUNURLs...)}}
}
