package registry

import (
	"errors"
	"log/slog"
	"sync"
)

// Errors returned by Conn.Send implementations.
var (
	ErrClosed         = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is a live transport session. Send must not block; it either queues the
// event for the connection or fails with ErrClosed or ErrSendBufferFull.
type Conn interface {
	ID() string
	Send(event string, data any) error
}

// Announcer is told the new presence count after every change, together with
// the connections live at that moment.
type Announcer interface {
	Announce(count int, targets []Conn)
}

// Registry is the set of live connections on this node keyed by connection id.
type Registry struct {
	// events serializes OnConnect/OnDisconnect and the announcement they trigger.
	events sync.Mutex

	mu    sync.RWMutex
	conns map[string]Conn
	count int

	announcer Announcer
	logger    *slog.Logger
}

// New creates an empty Registry. announcer may be nil.
func New(announcer Announcer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:     make(map[string]Conn),
		announcer: announcer,
		logger:    logger.With("component", "registry"),
	}
}

// OnConnect registers c as live and announces the new count.
// Registering an id that is already live is ignored.
func (r *Registry) OnConnect(c Conn) {
	r.events.Lock()
	defer r.events.Unlock()

	r.mu.Lock()
	if _, ok := r.conns[c.ID()]; ok {
		r.mu.Unlock()
		r.logger.Warn("registry: duplicate connect ignored", "conn", c.ID())
		return
	}
	r.conns[c.ID()] = c
	r.count++
	count, targets := r.count, r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Debug("registry: connected", "conn", c.ID(), "count", count)
	r.announce(count, targets)
}

// OnDisconnect removes id from the live set and announces the new count.
// It reports whether id was live; a second call for the same id is a no-op.
func (r *Registry) OnDisconnect(id string) bool {
	r.events.Lock()
	defer r.events.Unlock()

	r.mu.Lock()
	if _, ok := r.conns[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, id)
	r.count--
	count, targets := r.count, r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Debug("registry: disconnected", "conn", id, "count", count)
	r.announce(count, targets)
	return true
}

// Lookup returns the live connection for id.
func (r *Registry) Lookup(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Count returns the presence count of this node.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Snapshot returns the connections live at the time of the call.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Conn {
	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) announce(count int, targets []Conn) {
	if r.announcer == nil {
		return
	}
	r.announcer.Announce(count, targets)
}
