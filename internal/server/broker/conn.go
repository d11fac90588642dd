package broker

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// connection is one peer's websocket. Only writePump writes to ws.
type connection struct {
	ws     *websocket.Conn
	peerID string
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once
	written   chan struct{}

	writeTimeout time.Duration
	pingPeriod   time.Duration
}

func newConnection(ws *websocket.Conn, peerID string, opts Options) *connection {
	return &connection{
		ws:           ws,
		peerID:       peerID,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		written:      make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		pingPeriod:   opts.PingPeriod,
	}
}

func (c *connection) PeerID() string { return c.peerID }

// Deliver queues msg without blocking.
func (c *connection) Deliver(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close asks the writer to flush what is queued and hang up.
func (c *connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *connection) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *connection) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.written)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if err := c.write(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
