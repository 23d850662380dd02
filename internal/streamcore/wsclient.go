package streamcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSSubscription implements Subscription over a raw WebSocket connection
// to the upstream validator's transaction-notification endpoint. It is the
// concrete counterpart to the Hub's server-side use of gorilla/websocket
// (internal/api/websocket.go) — same library, client role instead of
// server role.
type WSSubscription struct {
	url  string
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSSubscription dials url and returns a ready Subscription. The
// connection is established eagerly so a failure at startup surfaces
// immediately rather than on the first Recv.
func NewWSSubscription(ctx context.Context, url string) (*WSSubscription, error) {
	s := &WSSubscription{url: url}
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WSSubscription) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("streamcore: dial %s: %w", s.url, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Recv blocks for the next message (text or binary), translating any read error into
// ErrDisconnect so StreamCore's reconnect loop can take over.
func (s *WSSubscription) Recv(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrDisconnect
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, ErrDisconnect
		}
		return r.data, nil
	}
}

// Reconnect tears down any existing connection and redials.
func (s *WSSubscription) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
	return s.dial(ctx)
}

// Close shuts down the underlying connection.
func (s *WSSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
