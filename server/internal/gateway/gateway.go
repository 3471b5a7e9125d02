package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/relaystack/relaystack/server/internal/binding"
	"github.com/relaystack/relaystack/server/internal/registry"
)

// Outcome classifies a delivery attempt.
type Outcome string

const (
	Delivered        Outcome = "delivered"
	Unroutable       Outcome = "unroutable"
	StoreUnavailable Outcome = "store_unavailable"
	SendFailed       Outcome = "send_failed"
)

// Result is the outcome of Deliver. ConnectionID is set only when a live
// connection was found; Err carries the cause for StoreUnavailable and SendFailed.
type Result struct {
	Outcome      Outcome
	ConnectionID string
	Err          error
}

// Options are the runtime-tunable gateway settings.
type Options struct {
	// Event is the server-to-client event used for pushed payloads.
	Event string

	// BindAck is returned by BindIdentity on success.
	BindAck string

	StoreTimeout    time.Duration
	DeliveryTimeout time.Duration
}

// Lookup resolves a connection id to a live local connection.
type Lookup interface {
	Lookup(id string) (registry.Conn, bool)
}

// Recorder observes gateway activity. Implemented by the metrics package.
type Recorder interface {
	ObserveBind(err error)
	ObserveDelivery(o Outcome)
}

// Gateway composes the binding store and the local registry.
type Gateway struct {
	store    binding.Store
	conns    Lookup
	recorder Recorder
	logger   *slog.Logger
	opts     atomic.Pointer[Options]
}

// New creates a Gateway. recorder may be nil.
func New(store binding.Store, conns Lookup, opts Options, recorder Recorder, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		store:    store,
		conns:    conns,
		recorder: recorder,
		logger:   logger.With("component", "gateway"),
	}
	g.Reconfigure(opts)
	return g
}

// Reconfigure replaces the gateway options for subsequent calls.
func (g *Gateway) Reconfigure(opts Options) {
	g.opts.Store(&opts)
}

// Options returns the options currently in effect.
func (g *Gateway) Options() Options {
	return *g.opts.Load()
}

// BindIdentity binds identity to connID, superseding any previous binding,
// and returns the acknowledgement text for the client.
func (g *Gateway) BindIdentity(ctx context.Context, identity, connID string) (string, error) {
	opts := g.Options()

	ctx, cancel := context.WithTimeout(ctx, opts.StoreTimeout)
	defer cancel()

	err := g.store.Bind(ctx, identity, connID)
	if g.recorder != nil {
		g.recorder.ObserveBind(err)
	}
	if err != nil {
		g.logger.Warn("gateway: bind failed", "identity", identity, "conn", connID, "err", err)
		return "", fmt.Errorf("bind %q: %w", identity, err)
	}

	g.logger.Info("gateway: identity bound", "identity", identity, "conn", connID)
	return opts.BindAck, nil
}

// Resolve returns the connection id bound to identity and whether that
// connection is live on this node.
func (g *Gateway) Resolve(ctx context.Context, identity string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Options().StoreTimeout)
	defer cancel()

	connID, err := g.store.Resolve(ctx, identity)
	if err != nil {
		return "", false, err
	}
	_, live := g.conns.Lookup(connID)
	return connID, live, nil
}

// Deliver sends payload to the connection bound to identity.
func (g *Gateway) Deliver(ctx context.Context, identity string, payload any) Result {
	res := g.deliver(ctx, identity, payload)
	if g.recorder != nil {
		g.recorder.ObserveDelivery(res.Outcome)
	}

	log := g.logger.With("identity", identity, "outcome", string(res.Outcome))
	switch res.Outcome {
	case Delivered:
		log.Info("gateway: delivered", "conn", res.ConnectionID)
	case Unroutable:
		log.Info("gateway: unroutable")
	default:
		log.Warn("gateway: delivery failed", "conn", res.ConnectionID, "err", res.Err)
	}
	return res
}

func (g *Gateway) deliver(ctx context.Context, identity string, payload any) Result {
	opts := g.Options()

	ctx, cancel := context.WithTimeout(ctx, opts.DeliveryTimeout)
	defer cancel()

	sctx, scancel := context.WithTimeout(ctx, opts.StoreTimeout)
	connID, err := g.store.Resolve(sctx, identity)
	scancel()
	switch {
	case errors.Is(err, binding.ErrNotFound):
		return Result{Outcome: Unroutable}
	case err != nil:
		return Result{Outcome: StoreUnavailable, Err: err}
	}

	conn, ok := g.conns.Lookup(connID)
	if !ok {
		// Stale binding: the connection closed or lives on another node.
		// Reported exactly like an unknown identity.
		g.logger.Debug("gateway: stale binding", "identity", identity, "conn", connID)
		return Result{Outcome: Unroutable}
	}

	if err := ctx.Err(); err != nil {
		return Result{Outcome: SendFailed, ConnectionID: connID, Err: err}
	}
	if err := conn.Send(opts.Event, payload); err != nil {
		return Result{Outcome: SendFailed, ConnectionID: connID, Err: err}
	}
	return Result{Outcome: Delivered, ConnectionID: connID}
}
