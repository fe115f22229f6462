package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandlerExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(EventCallsStarted)
	m.Add(EventCandidatesRelayed, 7)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE novachat_calld_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `novachat_calld_events_total{event="calls_started"} 1`) {
		t.Fatalf("missing calls_started counter: %s", body)
	}
	if !strings.Contains(body, `novachat_calld_events_total{event="candidates_relayed"} 7`) {
		t.Fatalf("missing candidates_relayed counter: %s", body)
	}
	// Label escaping per the Prometheus text format rules.
	if !strings.Contains(body, `novachat_calld_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetricsGet(t *testing.T) {
	m := New()
	if got := m.Get("nope"); got != 0 {
		t.Fatalf("Get(unknown) = %d, want 0", got)
	}
	m.Inc(EventWSConnections)
	m.Inc(EventWSConnections)
	if got := m.Get(EventWSConnections); got != 2 {
		t.Fatalf("Get = %d, want 2", got)
	}
}
