package ws

import (
	"errors"
	"sync"

	"nhooyr.io/websocket"

	"github.com/park285/cheese-lobby/pkg/protocol"
)

var (
	ErrSendQueueFull = errors.New("send queue full")
	ErrConnClosed    = errors.New("connection closed")
)

// conn is the broker's Sink for one websocket. Send only enqueues; the write
// loop owns the socket.
type conn struct {
	id  protocol.PlayerID
	ws  *websocket.Conn
	out chan []byte

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	code      websocket.StatusCode
	reason    string
}

func newConn(id protocol.PlayerID, c *websocket.Conn, buffer int) *conn {
	return &conn{
		id:   id,
		ws:   c,
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
		code: websocket.StatusNormalClosure,
	}
}

// Send never blocks. A full queue means the peer is not keeping up, so the
// connection is closed and the broker will see it leave.
func (c *conn) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		c.shutdown(websocket.StatusPolicyViolation, "send queue full")
		return ErrSendQueueFull
	}
}

// shutdown records the first close reason and signals the loops.
func (c *conn) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.code, c.reason = code, reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *conn) status() (websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}
