// Package metrics is a minimal concurrency-safe counter registry for call
// signaling events, exposed in Prometheus text format by the gateway.
package metrics

import "sync"

// Event names incremented around the signaling gateway and call store.
const (
	EventCallsStarted       = "calls_started"
	EventCallsConnected     = "calls_connected"
	EventCallsEnded         = "calls_ended"
	EventCallsRejected      = "calls_rejected"
	EventCandidatesRelayed  = "candidates_relayed"
	EventWSConnections      = "ws_connections"
	EventWSAuthFailures     = "ws_auth_failures"
	EventWSInvalidMessages  = "ws_invalid_messages"
	EventWSRateLimitedDrops = "ws_rate_limited_drops"
	EventICEHandouts        = "ice_handouts"
)

type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot copies all counters for scraping.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
