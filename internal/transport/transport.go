// Package transport implements C3: the real-time stream transport port and
// its gorilla/websocket client-dialer adapter. Unlike the teacher's server
// side (which upgrades inbound HTTP connections), the agent is purely a
// client of wss://stream.pushbullet.com — this file adapts the teacher's
// websocket framing conventions to the dialer side of the same library.
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ReadyState mirrors the small state set a browser WebSocket exposes, which
// spec.md §4.4 builds its close-code classification against.
type ReadyState int32

const (
	StateClosed ReadyState = iota
	StateConnecting
	StateOpen
)

// CloseInfo carries the close code and reason gorilla/websocket surfaces on
// disconnect, so callers can classify permanent vs transient per spec.md
// §4.4 without depending on this package's types directly.
type CloseInfo struct {
	Code   int
	Reason string
}

// Transport is the C3 port: a single real-time connection with callback
// hooks, matching the event-driven shape of a browser WebSocket rather than
// a blocking read loop — the agent's channel controller (C10) drives it
// entirely from callbacks so it can be unit tested without a real socket.
type Transport interface {
	Open(ctx context.Context, url string) error
	OnOpen(func())
	OnMessage(func(data []byte))
	OnError(func(err error))
	OnClose(func(CloseInfo))
	ReadyState() ReadyState
	Close(code int, reason string) error
}

// WSTransport is the default Transport adapter.
type WSTransport struct {
	dialer *websocket.Dialer

	mu    sync.Mutex
	conn  *websocket.Conn
	state atomic.Int32

	onOpen    func()
	onMessage func([]byte)
	onError   func(error)
	onClose   func(CloseInfo)

	readDone chan struct{}
}

// New builds a WSTransport with sane handshake timeouts.
func New() *WSTransport {
	return &WSTransport{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (t *WSTransport) OnOpen(fn func())               { t.onOpen = fn }
func (t *WSTransport) OnMessage(fn func(data []byte))  { t.onMessage = fn }
func (t *WSTransport) OnError(fn func(err error))      { t.onError = fn }
func (t *WSTransport) OnClose(fn func(CloseInfo))      { t.onClose = fn }
func (t *WSTransport) ReadyState() ReadyState          { return ReadyState(t.state.Load()) }

// Open dials the stream endpoint and starts the background read pump. It
// returns once the handshake completes; OnOpen fires synchronously inside
// Open, before the read pump goroutine starts.
func (t *WSTransport) Open(ctx context.Context, url string) error {
	t.state.Store(int32(StateConnecting))
	conn, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		t.state.Store(int32(StateClosed))
		return fmt.Errorf("transport: dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.readDone = make(chan struct{})
	t.mu.Unlock()

	t.state.Store(int32(StateOpen))
	if t.onOpen != nil {
		t.onOpen()
	}

	go t.readPump(conn, t.readDone)
	return nil
}

func (t *WSTransport) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.state.Store(int32(StateClosed))
			info := CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
			if ce, ok := err.(*websocket.CloseError); ok {
				info.Code = ce.Code
				info.Reason = ce.Text
			}
			if t.onClose != nil {
				t.onClose(info)
			}
			return
		}
		if t.onMessage != nil {
			t.onMessage(data)
		}
	}
}

// Close sends a close frame and tears down the connection. It does not
// itself invoke OnClose — the read pump's own ReadMessage error observes the
// resulting close and fires the callback exactly once, avoiding a double
// notification race between caller-initiated and peer-initiated closes.
func (t *WSTransport) Close(code int, reason string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(2*time.Second))
	return conn.Close()
}
