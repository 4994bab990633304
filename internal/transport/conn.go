package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"syncrelay/internal/constants"
)

var ErrClosed = errors.New("transport closed")

// Conn is a message-oriented connection: one ReadMessage returns exactly one
// frame written by the remote WriteMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSConn adapts a gorilla websocket to Conn. Writes are serialized and Close
// is idempotent.
type WSConn struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	conn.SetReadLimit(constants.MaxWSMessageSize)
	return &WSConn{conn: conn}
}

func (w *WSConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *WSConn) WriteMessage(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping writes a websocket ping control frame.
func (w *WSConn) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(constants.WriteTimeout))
}

// SetPongHandler forwards to the underlying websocket.
func (w *WSConn) SetPongHandler(fn func(string) error) {
	w.conn.SetPongHandler(fn)
}

func (w *WSConn) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

func (w *WSConn) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.mu.Unlock()
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// IsNormalClose reports whether err is a clean websocket shutdown.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
