package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/relaystack/relaystack/server/internal/binding"
	"github.com/relaystack/relaystack/server/internal/gateway"
	"github.com/relaystack/relaystack/server/internal/presence"
)

// maxBodyBytes bounds the size of a deliver request.
const maxBodyBytes = 1 << 20

// Router is the routing side of the relay. Implemented by *gateway.Gateway.
type Router interface {
	Deliver(ctx context.Context, identity string, payload any) gateway.Result
	Resolve(ctx context.Context, identity string) (connID string, live bool, err error)
}

// ClusterView reports presence across nodes. Implemented by *presence.Cluster.
type ClusterView interface {
	Nodes() []presence.Announcement
	Total() int
}

// Greeting is the delivery performed by GET /.
type Greeting struct {
	Identity string
	Message  string
	Reply    string
}

// Deps are the collaborators of the handler. Cluster may be nil.
type Deps struct {
	NodeID     string
	Router     Router
	LocalCount func() int
	Cluster    ClusterView
	Greeting   Greeting
	Logger     *slog.Logger
}

// Handler is the HTTP handler for the relay endpoints.
type Handler struct {
	deps   Deps
	mux    *http.ServeMux
	logger *slog.Logger

	mu       sync.RWMutex
	greeting Greeting
}

// New creates a Handler and registers all routes.
func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		deps:     deps,
		mux:      http.NewServeMux(),
		logger:   logger.With("component", "api"),
		greeting: deps.Greeting,
	}

	h.mux.HandleFunc("/", h.greet)
	h.mux.HandleFunc("/healthz", h.healthz)
	h.mux.HandleFunc("/api/v1/deliver", h.deliver)
	h.mux.HandleFunc("/api/v1/bindings/", h.getBinding) // subtree - extracts {identity}
	h.mux.HandleFunc("/api/v1/presence", h.presence)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// SetGreeting replaces the greeting used by GET /.
func (h *Handler) SetGreeting(g Greeting) {
	h.mu.Lock()
	h.greeting = g
	h.mu.Unlock()
}

func (h *Handler) currentGreeting() Greeting {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.greeting
}

// --- route handlers ---------------------------------------------------------

// greet handles GET / - delivers the greeting and acknowledges in plain text.
func (h *Handler) greet(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	g := h.currentGreeting()
	res := h.deps.Router.Deliver(r.Context(), g.Identity, g.Message)

	switch res.Outcome {
	case gateway.Delivered:
		textResp(w, http.StatusOK, g.Reply)
	case gateway.Unroutable:
		textResp(w, http.StatusNotFound, "unroutable")
	case gateway.StoreUnavailable:
		textResp(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		textResp(w, http.StatusBadGateway, "send failed")
	}
}

// healthz handles GET /healthz.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

// deliver handles POST /api/v1/deliver - routes a payload to an identity.
func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req DeliverRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := binding.ValidateIdentity(req.Identity); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Payload) == 0 {
		jsonErr(w, http.StatusBadRequest, "payload is required")
		return
	}

	res := h.deps.Router.Deliver(r.Context(), req.Identity, req.Payload)
	resp := DeliverResponse{Outcome: string(res.Outcome), ConnectionID: res.ConnectionID}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	jsonResp(w, statusFor(res.Outcome), resp)
}

// getBinding handles GET /api/v1/bindings/{identity}.
func (h *Handler) getBinding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	identity := strings.TrimPrefix(r.URL.Path, "/api/v1/bindings/")
	if err := binding.ValidateIdentity(identity); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	connID, live, err := h.deps.Router.Resolve(r.Context(), identity)
	switch {
	case errors.Is(err, binding.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "identity not bound")
		return
	case err != nil:
		h.logger.Warn("api: resolve failed", "identity", identity, "err", err)
		jsonErr(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	jsonResp(w, http.StatusOK, BindingResponse{
		Identity:     identity,
		ConnectionID: connID,
		Live:         live,
	})
}

// presence handles GET /api/v1/presence.
func (h *Handler) presence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	local := 0
	if h.deps.LocalCount != nil {
		local = h.deps.LocalCount()
	}
	resp := PresenceResponse{
		NodeID:       h.deps.NodeID,
		LocalCount:   local,
		ClusterCount: local,
		Nodes:        []NodeResponse{},
	}
	if h.deps.Cluster != nil {
		for _, a := range h.deps.Cluster.Nodes() {
			resp.Nodes = append(resp.Nodes, NodeResponse{
				NodeID:   a.NodeID,
				Count:    a.Count,
				LastSeen: a.At.UTC().Format(time.RFC3339),
			})
		}
		if len(resp.Nodes) > 0 {
			resp.ClusterCount = h.deps.Cluster.Total()
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

// statusFor maps a delivery outcome to the HTTP status of the deliver endpoint.
func statusFor(o gateway.Outcome) int {
	switch o {
	case gateway.Delivered:
		return http.StatusOK
	case gateway.Unroutable:
		return http.StatusNotFound
	case gateway.StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func textResp(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, body) //nolint:errcheck
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
