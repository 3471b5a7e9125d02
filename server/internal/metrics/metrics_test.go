package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/relaystack/relaystack/server/internal/binding"
	"github.com/relaystack/relaystack/server/internal/gateway"
)

func scrape(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rec.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	return families
}

func labelled(mf *dto.MetricFamily, label string) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				out[lp.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	return out
}

func TestMetrics_Exposition(t *testing.T) {
	presence := 3
	m := New(func() int { return presence }, nil)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.ObserveBind(nil)
	m.ObserveBind(nil)
	m.ObserveBind(fmt.Errorf("bind: %w", binding.ErrInvalidIdentity))
	m.ObserveBind(fmt.Errorf("%w: boom", binding.ErrUnavailable))
	m.ObserveBind(errors.New("other"))
	m.ObserveDelivery(gateway.Delivered)
	m.ObserveDelivery(gateway.Unroutable)
	m.ObserveDelivery(gateway.Unroutable)

	families := scrape(t, m)

	if got := families[ConnectionsOpened].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("%s: got %v, want 2", ConnectionsOpened, got)
	}
	if got := families[ConnectionsClosed].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("%s: got %v, want 1", ConnectionsClosed, got)
	}
	if got := families[PresenceCount].GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Errorf("%s: got %v, want 3", PresenceCount, got)
	}
	if families[PresenceCount].GetType() != dto.MetricType_GAUGE {
		t.Errorf("%s: got type %v, want gauge", PresenceCount, families[PresenceCount].GetType())
	}

	binds := labelled(families[Binds], "result")
	want := map[string]float64{"ok": 2, "invalid": 1, "unavailable": 1, "error": 1}
	for k, v := range want {
		if binds[k] != v {
			t.Errorf("binds{result=%q}: got %v, want %v", k, binds[k], v)
		}
	}

	deliveries := labelled(families[Deliveries], "outcome")
	if deliveries["delivered"] != 1 || deliveries["unroutable"] != 2 {
		t.Errorf("deliveries: got %v", deliveries)
	}
}

func TestMetrics_PresenceTracksSource(t *testing.T) {
	presence := 1
	m := New(func() int { return presence }, nil)

	presence = 7
	families := scrape(t, m)
	if got := families[PresenceCount].GetMetric()[0].GetGauge().GetValue(); got != 7 {
		t.Errorf("presence: got %v, want 7", got)
	}
}

func TestMetrics_NilPresence(t *testing.T) {
	families := scrape(t, New(nil, nil))
	if got := families[PresenceCount].GetMetric()[0].GetGauge().GetValue(); got != 0 {
		t.Errorf("presence: got %v, want 0", got)
	}
}

func TestMetrics_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	New(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rec.Code)
	}
}
