package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatpulse/pkg/types"
)

// Connection wraps one gorilla WebSocket connection. All writes go through
// a single writer goroutine fed by a buffered channel, which serializes
// frames and preserves the order events were emitted in. The user identity
// is fixed at handshake time from the verified token and never changes.
type Connection struct {
	id           string
	userID       string
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection creates a connection wrapper and starts its writer
// goroutine. userID must already be verified by the caller.
func NewConnection(conn *websocket.Conn, userID string, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		userID:       userID,
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()
	return c
}

// ID returns the opaque connection identifier.
func (c *Connection) ID() string { return c.id }

// UserID returns the identity the connection authenticated as.
func (c *Connection) UserID() string { return c.userID }

// EmitEvent queues an event frame on the outbound buffer. It never blocks:
// a full buffer or a closed connection yields an error and the frame is
// dropped, which is the fire-and-forget contract the dispatch layer expects.
func (c *Connection) EmitEvent(event string, payload interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	frame := types.Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return ErrInvalidPayload
		}
		frame.Data = data
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return ErrInvalidPayload
	}

	select {
	case c.writeCh <- raw:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrWriteBufferFull
	}
}

// writeLoop is the single writer for the underlying socket.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Ping sends a control ping with the connection's write timeout.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close tears the connection down exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done exposes the connection's lifetime for goroutines tied to it.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }
