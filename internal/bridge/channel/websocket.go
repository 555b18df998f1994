package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8 << 20
)

// Conn adapts a websocket connection to an Endpoint.
// Writes are serialised; reads happen on the single Listen loop.
type Conn struct {
	ws     *websocket.Conn
	origin string

	writeMu sync.Mutex
	closeMu sync.Once
	done    chan struct{}
}

// NewConn wraps ws. origin is the peer's origin as established at the
// handshake (the Origin header on the host, the host URL on the sandbox).
func NewConn(ws *websocket.Conn, origin string) *Conn {
	ws.SetReadLimit(maxMessageSize)
	return &Conn{ws: ws, origin: origin, done: make(chan struct{})}
}

// Origin returns the peer origin.
func (c *Conn) Origin() string {
	return c.origin
}

// Post writes frame as a single text message.
func (c *Conn) Post(frame any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("post frame: %w", err)
	}
	return nil
}

// Listen reads frames until the connection fails, ctx is done or Close is
// called. handler runs on the read loop and must not block for long.
func (c *Conn) Listen(ctx context.Context, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		handler(Message{Origin: c.origin, Data: data, Source: c})
	}
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and releases the socket.
func (c *Conn) Close() error {
	var err error
	c.closeMu.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	})
	return err
}
