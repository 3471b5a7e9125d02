package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaystack/relaystack/server/internal/api"
	"github.com/relaystack/relaystack/server/internal/binding"
	"github.com/relaystack/relaystack/server/internal/gateway"
	"github.com/relaystack/relaystack/server/internal/presence"
	"github.com/relaystack/relaystack/server/internal/registry"
)

// --- test helpers -----------------------------------------------------------

type delivery struct {
	identity string
	payload  any
}

// fakeRouter returns a fixed result and records every call.
type fakeRouter struct {
	result gateway.Result

	connID     string
	live       bool
	resolveErr error

	mu    sync.Mutex
	calls []delivery
}

func (f *fakeRouter) Deliver(_ context.Context, identity string, payload any) gateway.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, delivery{identity, payload})
	return f.result
}

func (f *fakeRouter) Resolve(_ context.Context, _ string) (string, bool, error) {
	return f.connID, f.live, f.resolveErr
}

type fakeCluster struct {
	nodes []presence.Announcement
}

func (c fakeCluster) Nodes() []presence.Announcement { return c.nodes }

func (c fakeCluster) Total() int {
	total := 0
	for _, n := range c.nodes {
		total += n.Count
	}
	return total
}

var testGreeting = api.Greeting{Identity: "abcd", Message: "你好", Reply: "Hello World!"}

func newHandler(r api.Router) *api.Handler {
	return api.New(api.Deps{
		NodeID:     "node-a",
		Router:     r,
		LocalCount: func() int { return 2 },
		Greeting:   testGreeting,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- GET / ------------------------------------------------------------------

func TestGreet_Outcomes(t *testing.T) {
	tests := []struct {
		outcome  gateway.Outcome
		wantCode int
		wantBody string
	}{
		{gateway.Delivered, http.StatusOK, "Hello World!"},
		{gateway.Unroutable, http.StatusNotFound, "unroutable"},
		{gateway.StoreUnavailable, http.StatusServiceUnavailable, "store unavailable"},
		{gateway.SendFailed, http.StatusBadGateway, "send failed"},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			r := &fakeRouter{result: gateway.Result{Outcome: tt.outcome}}
			rr := do(t, newHandler(r), http.MethodGet, "/", "")

			if rr.Code != tt.wantCode {
				t.Errorf("status: got %d, want %d", rr.Code, tt.wantCode)
			}
			if got := rr.Body.String(); got != tt.wantBody {
				t.Errorf("body: got %q, want %q", got, tt.wantBody)
			}
			if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type: got %q, want text/plain", ct)
			}
			if len(r.calls) != 1 || r.calls[0] != (delivery{"abcd", "你好"}) {
				t.Errorf("deliveries: got %+v, want one to abcd", r.calls)
			}
		})
	}
}

func TestGreet_SetGreeting(t *testing.T) {
	r := &fakeRouter{result: gateway.Result{Outcome: gateway.Delivered}}
	h := newHandler(r)
	h.SetGreeting(api.Greeting{Identity: "wxyz", Message: "hi", Reply: "sent"})

	rr := do(t, h, http.MethodGet, "/", "")
	if rr.Body.String() != "sent" {
		t.Errorf("body: got %q, want sent", rr.Body.String())
	}
	if r.calls[0] != (delivery{"wxyz", "hi"}) {
		t.Errorf("delivery: got %+v", r.calls[0])
	}
}

func TestGreet_UnknownPath_404(t *testing.T) {
	r := &fakeRouter{}
	rr := do(t, newHandler(r), http.MethodGet, "/favicon.ico", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
	if len(r.calls) != 0 {
		t.Errorf("deliveries: got %d, want 0", len(r.calls))
	}
}

func TestGreet_MethodNotAllowed(t *testing.T) {
	rr := do(t, newHandler(&fakeRouter{}), http.MethodPost, "/", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- POST /api/v1/deliver ---------------------------------------------------

func TestDeliver_Delivered(t *testing.T) {
	r := &fakeRouter{result: gateway.Result{Outcome: gateway.Delivered, ConnectionID: "c1"}}
	rr := do(t, newHandler(r), http.MethodPost, "/api/v1/deliver", `{"identity":"abcd","payload":{"text":"hi"}}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	var resp api.DeliverResponse
	decode(t, rr, &resp)
	if resp.Outcome != "delivered" || resp.ConnectionID != "c1" {
		t.Errorf("response: got %+v", resp)
	}

	raw, ok := r.calls[0].payload.(json.RawMessage)
	if !ok || string(raw) != `{"text":"hi"}` {
		t.Errorf("payload: got %#v, want raw JSON passed through", r.calls[0].payload)
	}
}

func TestDeliver_OutcomeStatus(t *testing.T) {
	tests := []struct {
		result   gateway.Result
		wantCode int
	}{
		{gateway.Result{Outcome: gateway.Unroutable}, http.StatusNotFound},
		{gateway.Result{Outcome: gateway.StoreUnavailable, Err: errors.New("redis down")}, http.StatusServiceUnavailable},
		{gateway.Result{Outcome: gateway.SendFailed, ConnectionID: "c1", Err: registry.ErrSendBufferFull}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(string(tt.result.Outcome), func(t *testing.T) {
			rr := do(t, newHandler(&fakeRouter{result: tt.result}), http.MethodPost, "/api/v1/deliver", `{"identity":"abcd","payload":"x"}`)
			if rr.Code != tt.wantCode {
				t.Errorf("status: got %d, want %d", rr.Code, tt.wantCode)
			}
			var resp api.DeliverResponse
			decode(t, rr, &resp)
			if resp.Outcome != string(tt.result.Outcome) {
				t.Errorf("outcome: got %q, want %q", resp.Outcome, tt.result.Outcome)
			}
			if tt.result.Err != nil && resp.Error == "" {
				t.Error("error: missing")
			}
		})
	}
}

func TestDeliver_BadRequests(t *testing.T) {
	bodies := map[string]string{
		"not json":         `{`,
		"unknown field":    `{"identity":"abcd","payload":"x","extra":1}`,
		"blank identity":   `{"identity":" ","payload":"x"}`,
		"missing payload":  `{"identity":"abcd"}`,
		"missing identity": `{"payload":"x"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			r := &fakeRouter{}
			rr := do(t, newHandler(r), http.MethodPost, "/api/v1/deliver", body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", rr.Code)
			}
			if len(r.calls) != 0 {
				t.Errorf("deliveries: got %d, want 0", len(r.calls))
			}
		})
	}
}

func TestDeliver_MethodNotAllowed(t *testing.T) {
	rr := do(t, newHandler(&fakeRouter{}), http.MethodGet, "/api/v1/deliver", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- GET /api/v1/bindings/{identity} ----------------------------------------

func TestGetBinding(t *testing.T) {
	r := &fakeRouter{connID: "c1", live: true}
	rr := do(t, newHandler(r), http.MethodGet, "/api/v1/bindings/abcd", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.BindingResponse
	decode(t, rr, &resp)
	if resp != (api.BindingResponse{Identity: "abcd", ConnectionID: "c1", Live: true}) {
		t.Errorf("response: got %+v", resp)
	}
}

func TestGetBinding_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		err      error
		wantCode int
	}{
		{"not bound", "/api/v1/bindings/abcd", binding.ErrNotFound, http.StatusNotFound},
		{"store down", "/api/v1/bindings/abcd", fmt.Errorf("%w: boom", binding.ErrUnavailable), http.StatusServiceUnavailable},
		{"empty identity", "/api/v1/bindings/", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, newHandler(&fakeRouter{resolveErr: tt.err}), http.MethodGet, tt.path, "")
			if rr.Code != tt.wantCode {
				t.Errorf("status: got %d, want %d", rr.Code, tt.wantCode)
			}
		})
	}
}

// --- GET /api/v1/presence ---------------------------------------------------

func TestPresence_LocalOnly(t *testing.T) {
	rr := do(t, newHandler(&fakeRouter{}), http.MethodGet, "/api/v1/presence", "")

	var resp api.PresenceResponse
	decode(t, rr, &resp)
	if resp.NodeID != "node-a" || resp.LocalCount != 2 || resp.ClusterCount != 2 {
		t.Errorf("response: got %+v", resp)
	}
	if resp.Nodes == nil || len(resp.Nodes) != 0 {
		t.Errorf("nodes: got %v, want empty list", resp.Nodes)
	}
}

func TestPresence_Cluster(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := api.New(api.Deps{
		NodeID:     "node-a",
		Router:     &fakeRouter{},
		LocalCount: func() int { return 2 },
		Cluster: fakeCluster{nodes: []presence.Announcement{
			{NodeID: "node-a", Count: 2, At: at},
			{NodeID: "node-b", Count: 5, At: at},
		}},
	})

	rr := do(t, h, http.MethodGet, "/api/v1/presence", "")
	var resp api.PresenceResponse
	decode(t, rr, &resp)

	if resp.ClusterCount != 7 {
		t.Errorf("cluster_count: got %d, want 7", resp.ClusterCount)
	}
	if len(resp.Nodes) != 2 || resp.Nodes[1].NodeID != "node-b" || resp.Nodes[1].LastSeen != "2026-01-02T03:04:05Z" {
		t.Errorf("nodes: got %+v", resp.Nodes)
	}
}

// --- /healthz ---------------------------------------------------------------

func TestHealthz(t *testing.T) {
	rr := do(t, newHandler(&fakeRouter{}), http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
}

// --- end to end through the gateway -----------------------------------------

type recordingConn struct {
	id string

	mu     sync.Mutex
	events []string
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, fmt.Sprintf("%s:%v", event, data))
	return nil
}

func TestGreet_ThroughGateway(t *testing.T) {
	reg := registry.New(nil, nil)
	gw := gateway.New(binding.NewMemoryStore(), reg, gateway.Options{
		Event:           "hello",
		BindAck:         "ok",
		StoreTimeout:    time.Second,
		DeliveryTimeout: time.Second,
	}, nil, nil)
	h := api.New(api.Deps{NodeID: "n", Router: gw, LocalCount: reg.Count, Greeting: testGreeting})

	if rr := do(t, h, http.MethodGet, "/", ""); rr.Code != http.StatusNotFound {
		t.Errorf("before bind: got %d, want 404", rr.Code)
	}

	conn := &recordingConn{id: "c1"}
	reg.OnConnect(conn)
	if _, err := gw.BindIdentity(context.Background(), "abcd", "c1"); err != nil {
		t.Fatalf("BindIdentity: %v", err)
	}

	rr := do(t, h, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "Hello World!" {
		t.Errorf("after bind: got %d %q", rr.Code, rr.Body.String())
	}
	if len(conn.events) != 1 || conn.events[0] != "hello:你好" {
		t.Errorf("events: got %v", conn.events)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/bindings/abcd", "")
	var b api.BindingResponse
	decode(t, rr, &b)
	if !b.Live || b.ConnectionID != "c1" {
		t.Errorf("binding: got %+v", b)
	}

	reg.OnDisconnect("c1")
	rr = do(t, h, http.MethodGet, "/api/v1/bindings/abcd", "")
	decode(t, rr, &b)
	if b.Live || b.ConnectionID != "c1" {
		t.Errorf("binding after disconnect: got %+v, want stale c1", b)
	}
	if rr := do(t, h, http.MethodGet, "/", ""); rr.Code != http.StatusNotFound {
		t.Errorf("after disconnect: got %d, want 404", rr.Code)
	}
}

func TestDeliver_StaleBindingLooksLikeUnknownIdentity(t *testing.T) {
	reg := registry.New(nil, nil)
	gw := gateway.New(binding.NewMemoryStore(), reg, gateway.Options{
		Event:           "hello",
		BindAck:         "ok",
		StoreTimeout:    time.Second,
		DeliveryTimeout: time.Second,
	}, nil, nil)
	h := api.New(api.Deps{NodeID: "n", Router: gw, LocalCount: reg.Count, Greeting: testGreeting})

	reg.OnConnect(&recordingConn{id: "c1"})
	if _, err := gw.BindIdentity(context.Background(), "abcd", "c1"); err != nil {
		t.Fatalf("BindIdentity: %v", err)
	}
	reg.OnDisconnect("c1")

	stale := do(t, h, http.MethodPost, "/api/v1/deliver", `{"identity":"abcd","payload":"x"}`)
	unknown := do(t, h, http.MethodPost, "/api/v1/deliver", `{"identity":"nobody","payload":"x"}`)

	if stale.Code != http.StatusNotFound || unknown.Code != http.StatusNotFound {
		t.Fatalf("status: got stale=%d unknown=%d, want 404 for both", stale.Code, unknown.Code)
	}
	if stale.Body.String() != unknown.Body.String() {
		t.Errorf("body: stale %q differs from unknown %q", stale.Body.String(), unknown.Body.String())
	}
	if strings.Contains(stale.Body.String(), "c1") {
		t.Errorf("body leaks the stale connection id: %s", stale.Body.String())
	}
}
