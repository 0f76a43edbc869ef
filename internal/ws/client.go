package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nqdang/qbattle/internal/protocol"
	"github.com/nqdang/qbattle/internal/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Large enough for a classic-mode finish report with its answer list.
	maxMessageSize = 16 << 10

	sendBuffer = 64
)

// Client is one WebSocket connection. roomCode and userID are set once by
// the dispatcher when the connection attaches to a room and never change;
// a user switching rooms reconnects.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	roomCode string
	userID   string
	username string

	mu     sync.Mutex
	send   chan protocol.Event
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan protocol.Event, sendBuffer),
	}
}

// push queues an event for delivery. A full buffer means the client cannot
// keep up with the room; the connection is cut and the read pump handles
// the disconnect.
func (c *Client) push(ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		slog.Warn("ws: send buffer full, dropping client", "room", c.roomCode, "user", c.userID)
		c.closed = true
		close(c.send)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads envelopes and hands them to onMessage until the connection
// drops. Runs on the connection's goroutine.
func (c *Client) readPump(onMessage func(*Client, protocol.Envelope)) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws: read failed", "room", c.roomCode, "user", c.userID, "error", err)
			}
			return
		}
		onMessage(c, env)
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	telemetry.ConnectedClients.Inc()
	defer telemetry.ConnectedClients.Dec()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				slog.Warn("ws: write failed", "room", c.roomCode, "user", c.userID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
