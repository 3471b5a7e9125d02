package relayclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaystack/relaystack/pkg/events"
)

const (
	defaultBackoffInitial = 1 * time.Second
	defaultBackoffMax     = 60 * time.Second
	defaultBindTimeout    = 10 * time.Second
)

// Options configure a Client.
type Options struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:3000/socket.
	URL string

	// Header is sent with the upgrade request (Origin, for example).
	Header http.Header

	BindTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	Logger *slog.Logger
}

// Client dials the relay WebSocket endpoint.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	logger *slog.Logger
}

// New creates a Client with defaults applied to unset options.
func New(opts Options) *Client {
	if opts.BindTimeout <= 0 {
		opts.BindTimeout = defaultBindTimeout
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = defaultBackoffInitial
	}
	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = defaultBackoffMax
		if opts.BackoffMax < opts.BackoffInitial {
			opts.BackoffMax = opts.BackoffInitial
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "relayclient"),
	}
}

// Dial opens a new session.
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relayclient: dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("relayclient: dial %s: %w", c.opts.URL, err)
	}
	return newSession(conn, c.logger), nil
}

// Run keeps identity bound on a live session and passes every event to
// handle. It reconnects with exponential backoff when the connection is lost
// and binds again after each reconnect. A rejected bind is permanent and
// returned. Run blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context, identity string, handle func(events.Envelope)) error {
	bo := newBackoff(c.opts.BackoffInitial, c.opts.BackoffMax)

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.runSession(ctx, identity, bo, handle)
		var bindErr *BindError
		if errors.As(err, &bindErr) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.next()
		c.logger.Warn("relayclient: connection lost, will reconnect",
			"url", c.opts.URL,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// runSession dials, binds and forwards events until the session ends.
func (c *Client) runSession(ctx context.Context, identity string, bo *backoff, handle func(events.Envelope)) error {
	s, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	bindCtx, cancel := context.WithTimeout(ctx, c.opts.BindTimeout)
	ack, err := s.Bind(bindCtx, identity)
	cancel()
	if err != nil {
		return err
	}

	c.logger.Info("relayclient: connected", "url", c.opts.URL, "identity", identity, "ack", ack)
	bo.reset()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-s.Events():
			if !ok {
				return s.Err()
			}
			handle(env)
		}
	}
}
