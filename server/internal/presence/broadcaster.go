package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaystack/relaystack/server/internal/registry"
)

const publishTimeout = 2 * time.Second

// Broadcaster pushes presence counts to local connections and to other nodes.
type Broadcaster struct {
	event     string
	nodeID    string
	fanout    Fanout
	heartbeat time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	current int

	// pending coalesces counts announced faster than they can be published.
	pending chan struct{}
}

// NewBroadcaster creates a Broadcaster that sends count frames as event.
// fanout may be nil for a node that does not share presence.
func NewBroadcaster(event, nodeID string, fanout Fanout, heartbeat time.Duration, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		event:     event,
		nodeID:    nodeID,
		fanout:    fanout,
		heartbeat: heartbeat,
		logger:    logger.With("component", "presence"),
		now:       time.Now,
		pending:   make(chan struct{}, 1),
	}
}

// Announce sends count to every target and schedules it for publication.
func (b *Broadcaster) Announce(count int, targets []registry.Conn) {
	dropped := 0
	for _, c := range targets {
		if err := c.Send(b.event, count); err != nil {
			dropped++
			b.logger.Debug("presence: count not delivered", "conn", c.ID(), "err", err)
		}
	}
	if dropped > 0 {
		b.logger.Warn("presence: count dropped for slow or closed connections",
			"count", count, "dropped", dropped, "targets", len(targets))
	}

	b.mu.Lock()
	b.current = count
	b.mu.Unlock()

	select {
	case b.pending <- struct{}{}:
	default:
	}
}

// Current returns the last announced count.
func (b *Broadcaster) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Run publishes announced counts to the fan-out and republishes the current
// count every heartbeat. It blocks until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.fanout == nil {
		<-ctx.Done()
		return
	}

	t := time.NewTicker(b.heartbeat)
	defer t.Stop()

	b.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.pending:
			b.publish(ctx)
		case <-t.C:
			b.publish(ctx)
		}
	}
}

func (b *Broadcaster) publish(ctx context.Context) {
	a := Announcement{NodeID: b.nodeID, Count: b.Current(), At: b.now().UTC()}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.fanout.Publish(pctx, a); err != nil {
		b.logger.Error("presence: publish failed", "count", a.Count, "err", err)
	}
}
