package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaystack/relaystack/pkg/events"
	"github.com/relaystack/relaystack/server/internal/registry"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Tracker is told about every connection that opens and closes.
type Tracker interface {
	OnConnect(c registry.Conn)
	OnDisconnect(id string) bool
}

// Binder handles the identity bind request of a client.
type Binder interface {
	BindIdentity(ctx context.Context, identity, connID string) (string, error)
}

// Observer counts connection lifecycle events. Implemented by the metrics package.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Options configure the transport.
type Options struct {
	AllowedOrigins []string
	SendBuffer     int
	MaxMessageSize int64
}

// Hub accepts WebSocket connections and hands them to the registry.
type Hub struct {
	tracker  Tracker
	binder   Binder
	observer Observer
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// New creates a Hub. observer may be nil.
func New(tracker Tracker, binder Binder, opts Options, observer Observer, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	policy := newOriginPolicy(opts.AllowedOrigins)
	h := &Hub{
		tracker:  tracker,
		binder:   binder,
		observer: observer,
		opts:     opts,
		logger:   logger.With("component", "ws"),
		clients:  make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if policy.check(r) {
				return true
			}
			h.logger.Warn("ws: origin rejected", "origin", r.Header.Get("Origin"))
			return false
		},
	}
	return h
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	id := uuid.NewString()
	c := &client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		logger: h.logger.With("conn", id),
	}

	if !h.add(c) {
		conn.Close()
		return
	}
	if h.observer != nil {
		h.observer.ConnectionOpened()
	}
	c.logger.Info("ws: connected", "remote", r.RemoteAddr)

	go c.writePump()
	h.tracker.OnConnect(c)

	h.readPump(r.Context(), c) // blocks until connection closes

	h.tracker.OnDisconnect(c.id)
	h.remove(c)
	if h.observer != nil {
		h.observer.ConnectionClosed()
	}
	c.logger.Info("ws: disconnected")
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

// readPump reads client frames until the connection fails.
func (h *Hub) readPump(ctx context.Context, c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(h.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("ws: read failed", "err", err)
			}
			return
		}

		env, err := events.Decode(frame)
		if err != nil {
			c.logger.Warn("ws: malformed frame ignored", "err", err)
			continue
		}
		h.dispatch(ctx, c, env)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *client, env events.Envelope) {
	switch env.Event {
	case events.Bind:
		var identity string
		if err := env.DecodeData(&identity); err != nil {
			c.reply(env.Ack, nil, errors.New("identity must be a string"))
			return
		}
		ack, err := h.binder.BindIdentity(ctx, identity, c.id)
		c.reply(env.Ack, ack, err)
	default:
		c.logger.Debug("ws: unknown event ignored", "event", env.Event)
	}
}

// client is one WebSocket connection. It implements registry.Conn.
type client struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *client) ID() string { return c.id }

// Send queues event for the client without blocking.
func (c *client) Send(event string, data any) error {
	frame, err := events.Encode(event, data)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// reply answers request number ackID. Requests without an ack number get no reply.
func (c *client) reply(ackID uint64, data any, ackErr error) {
	if ackID == 0 {
		return
	}
	frame, err := events.EncodeAck(ackID, data, ackErr)
	if err != nil {
		c.logger.Warn("ws: encode ack failed", "ack", ackID, "err", err)
		return
	}
	if err := c.enqueue(frame); err != nil {
		c.logger.Warn("ws: ack dropped", "ack", ackID, "err", err)
	}
}

func (c *client) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return registry.ErrClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return registry.ErrSendBufferFull
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
