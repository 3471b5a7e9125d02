package relayclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaystack/relaystack/pkg/events"
)

const writeTimeout = 10 * time.Second

// ErrSessionClosed is returned by Bind when the connection ends first.
var ErrSessionClosed = errors.New("relayclient: session closed")

// BindError is the error text the server returned for a rejected bind.
type BindError struct {
	Identity string
	Reason   string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("relayclient: bind %q rejected: %s", e.Identity, e.Reason)
}

// Session is one live WebSocket connection to the relay.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	nextAck atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan events.Envelope

	events    chan events.Envelope
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	err       error
}

func newSession(conn *websocket.Conn, logger *slog.Logger) *Session {
	s := &Session{
		conn:    conn,
		logger:  logger,
		pending: make(map[uint64]chan events.Envelope),
		events:  make(chan events.Envelope, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Events delivers every non-ack frame. It is closed when the session ends.
func (s *Session) Events() <-chan events.Envelope { return s.events }

// Done is closed when the connection has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended. Valid after Done is closed.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Bind binds identity to this connection and returns the server's ack text.
func (s *Session) Bind(ctx context.Context, identity string) (string, error) {
	id := s.nextAck.Add(1)
	reply := make(chan events.Envelope, 1)

	s.mu.Lock()
	s.pending[id] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	frame, err := events.EncodeRequest(events.Bind, identity, id)
	if err != nil {
		return "", err
	}
	if err := s.write(websocket.TextMessage, frame); err != nil {
		return "", fmt.Errorf("relayclient: send bind: %w", err)
	}

	select {
	case env := <-reply:
		if env.Error != "" {
			return "", &BindError{Identity: identity, Reason: env.Error}
		}
		var ack string
		if len(env.Data) > 0 {
			if err := env.DecodeData(&ack); err != nil {
				return "", fmt.Errorf("relayclient: bind ack: %w", err)
			}
		}
		return ack, nil
	case <-s.done:
		return "", ErrSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close ends the session.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")) //nolint:errcheck
		err = s.conn.Close()
	})
	return err
}

func (s *Session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *Session) readLoop() {
	defer close(s.events)

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			s.err = err
			close(s.done)
			return
		}

		env, err := events.Decode(frame)
		if err != nil {
			s.logger.Warn("relayclient: malformed frame ignored", "err", err)
			continue
		}

		if env.Event == events.Ack {
			// Claim the entry so a repeated ack for the same number is dropped
			// instead of blocking on the one-slot reply channel.
			s.mu.Lock()
			reply, ok := s.pending[env.Ack]
			delete(s.pending, env.Ack)
			s.mu.Unlock()
			if ok {
				reply <- env
			}
			continue
		}

		select {
		case s.events <- env:
		case <-s.closing:
			s.err = ErrSessionClosed
			close(s.done)
			return
		}
	}
}
