package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// entry is an announcement together with the time it was received.
type entry struct {
	Announcement
	seenAt time.Time
}

// Cluster keeps the last announcement of every node.
type Cluster struct {
	mu     sync.RWMutex
	nodes  map[string]entry
	ttl    time.Duration
	now    func() time.Time // injectable for deterministic tests
	logger *slog.Logger
}

// NewCluster creates a Cluster that forgets nodes silent for longer than ttl.
func NewCluster(ttl time.Duration, logger *slog.Logger) *Cluster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cluster{
		nodes:  make(map[string]entry),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "cluster"),
	}
}

// Observe records a, replacing any older announcement from the same node.
// An announcement stamped earlier than the stored one is ignored.
func (c *Cluster) Observe(a Announcement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.nodes[a.NodeID]; ok && a.At.Before(prev.At) {
		return
	}
	c.nodes[a.NodeID] = entry{Announcement: a, seenAt: c.now()}
}

// Nodes returns the live announcements sorted by node id.
func (c *Cluster) Nodes() []Announcement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cutoff := c.now().Add(-c.ttl)
	out := make([]Announcement, 0, len(c.nodes))
	for _, e := range c.nodes {
		if e.seenAt.After(cutoff) {
			out = append(out, e.Announcement)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Total sums the counts of all live nodes.
func (c *Cluster) Total() int {
	total := 0
	for _, a := range c.Nodes() {
		total += a.Count
	}
	return total
}

// Evict removes nodes last heard from before now minus TTL.
// It returns the number of nodes removed.
func (c *Cluster) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-c.ttl)
	removed := 0
	for id, e := range c.nodes {
		if !e.seenAt.After(cutoff) {
			delete(c.nodes, id)
			removed++
		}
	}
	return removed
}

// Run subscribes to f and records every announcement, evicting silent nodes
// every TTL/2 (minimum 1 second). It blocks until ctx is cancelled.
func (c *Cluster) Run(ctx context.Context, f Fanout) error {
	ch, err := f.Subscribe(ctx)
	if err != nil {
		return err
	}

	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					c.logger.Warn("presence: fan-out subscription closed")
				}
				return nil
			}
			c.Observe(a)
		case now := <-t.C:
			if n := c.Evict(now); n > 0 {
				c.logger.Debug("presence: evicted silent nodes", "count", n)
			}
		}
	}
}
