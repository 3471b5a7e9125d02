package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Announcement is one node's presence count at a point in time.
type Announcement struct {
	NodeID string    `json:"node_id"`
	Count  int       `json:"count"`
	At     time.Time `json:"at"`
}

// Fanout distributes announcements between nodes.
type Fanout interface {
	Publish(ctx context.Context, a Announcement) error

	// Subscribe returns a channel of announcements from every node, including
	// this one. The channel is closed when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan Announcement, error)
}

const subscriberBuffer = 64

// MemoryFanout delivers announcements to subscribers in the same process.
type MemoryFanout struct {
	mu   sync.RWMutex
	subs map[chan Announcement]struct{}
}

// NewMemoryFanout creates a MemoryFanout with no subscribers.
func NewMemoryFanout() *MemoryFanout {
	return &MemoryFanout{subs: make(map[chan Announcement]struct{})}
}

// Publish hands a to every subscriber. Subscribers with a full buffer miss it.
func (f *MemoryFanout) Publish(_ context.Context, a Announcement) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.subs {
		select {
		case ch <- a:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is cancelled.
func (f *MemoryFanout) Subscribe(ctx context.Context) (<-chan Announcement, error) {
	ch := make(chan Announcement, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

// redisPubSub is the subset of go-redis used by RedisFanout.
type redisPubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisFanout publishes announcements as JSON on a Redis pub/sub channel.
type RedisFanout struct {
	client  redisPubSub
	channel string
	logger  *slog.Logger
}

// NewRedisFanout creates a RedisFanout on channel.
func NewRedisFanout(client redisPubSub, channel string, logger *slog.Logger) (*RedisFanout, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channel == "" {
		return nil, fmt.Errorf("presence channel cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFanout{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_fanout", "channel", channel),
	}, nil
}

// Publish sends a to every subscribed node.
func (f *RedisFanout) Publish(ctx context.Context, a Announcement) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish announcement: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription with the server before returning.
func (f *RedisFanout) Subscribe(ctx context.Context) (<-chan Announcement, error) {
	ps := f.client.Subscribe(ctx, f.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %q: %w", f.channel, err)
	}

	out := make(chan Announcement, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var a Announcement
				if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
					f.logger.Warn("presence: dropping malformed announcement", "err", err)
					continue
				}
				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
