package companion

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/iris/internal/call"
)

var errUnsupportedFrame = errors.New("unsupported websocket frame type")

// wsConn adapts a gorilla connection to call.Conn. Writes are serialized and
// bounded by writeTimeout.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration, readLimit int64) *wsConn {
	ws.SetReadLimit(readLimit)
	return &wsConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) ReadMessage() (call.MessageKind, []byte, error) {
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return 0, nil, err
	}
	switch kind {
	case websocket.TextMessage:
		return call.TextMessage, data, nil
	case websocket.BinaryMessage:
		return call.BinaryMessage, data, nil
	default:
		return 0, nil, errUnsupportedFrame
	}
}

func (c *wsConn) WriteMessage(kind call.MessageKind, data []byte) error {
	wsKind := websocket.TextMessage
	if kind == call.BinaryMessage {
		wsKind = websocket.BinaryMessage
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(wsKind, data)
}

func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *wsConn) closeWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
