package realtime

import (
	"errors"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn presents a websocket as the byte stream STOMP frames are read from
// and written to. Each write is sent as one text message.
type wsConn struct {
	ws      *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
	// done is closed once the socket fails or is closed
	done     chan struct{}
	doneOnce sync.Once
}

var _ io.ReadWriteCloser = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws, done: make(chan struct{})}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				c.markDone()
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	c.markDone()
	return c.ws.Close()
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

func (c *wsConn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
