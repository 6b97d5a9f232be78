package ingress

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn adapts *websocket.Conn to domain.Conn. A mutex guards every
// write to the underlying socket, so the Write Serializer's single
// in-flight text write and this package's periodic ping control frame
// never race on the same connection — gorilla's own contract is that
// at most one goroutine may call a Conn's write methods at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{conn: c}
}

// WriteMessage implements domain.Conn for the Write Serializer.
func (w *wsConn) WriteMessage(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// WritePing sends a control-frame ping, serialized against the same
// mutex as WriteMessage.
func (w *wsConn) WritePing() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close implements domain.Conn.
func (w *wsConn) Close() error {
	return w.conn.Close()
}
