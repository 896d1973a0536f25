package webchat

import (
	"sync"
	"time"

	"github.com/chilts/sid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = int64(4096)
	sendBufferSize = 64
)

// Identity is the stable (user id, username) pair an authenticated credential
// resolves to.
type Identity struct {
	UserID   string
	Username string
}

// Client is one live duplex connection bound to an authenticated identity.
// The identity is fixed for the connection's lifetime; the current room field
// only changes inside the hub's room-scoped critical sections or on the
// connection's own session goroutine.
type Client struct {
	ID       string
	UserID   string
	Username string

	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	room   string
	closed bool
}

// NewClient wraps an established connection for the given identity.
func NewClient(conn *websocket.Conn, identity Identity) *Client {
	return &Client{
		ID:       sid.IdBase64(),
		UserID:   identity.UserID,
		Username: identity.Username,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}
}

// Room returns the id of the room the connection is currently in, or "" when
// it is unjoined.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	c.room = roomID
	c.mu.Unlock()
}

// deliver enqueues a payload for the write pump without ever blocking. A full
// or already closed queue counts as a delivery failure and callers treat the
// connection as gone.
func (c *Client) deliver(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend shuts the outbound queue down. Idempotent; called from the read
// pump on transport close and from the hub when delivery fails.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump(session *Session) {
	defer func() {
		session.Close()
		c.closeSend()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, rawData, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("comp", "client").WithField("user", c.Username).WithError(err).Error("failed to read frame")
			}
			return
		}
		session.Handle(rawData)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logrus.WithField("comp", "client").WithField("user", c.Username).WithError(err).Debug("failed to write frame")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
