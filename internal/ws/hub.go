// Package ws carries the room protocol over WebSocket: one hub for fanout,
// one client per connection, one dispatcher mapping envelopes onto the
// room registry and the game engine.
package ws

import (
	"sync"

	"github.com/nqdang/qbattle/internal/protocol"
)

// Hub indexes connected clients by room and user and fans events out to
// them. It implements the engine's push interface.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Client // roomCode -> userID -> client
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*Client),
	}
}

// Register attaches a client to a room. A reconnect replaces the previous
// connection for the same user; the old one is closed.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	room := h.rooms[c.roomCode]
	if room == nil {
		room = make(map[string]*Client)
		h.rooms[c.roomCode] = room
	}
	old := room[c.userID]
	room[c.userID] = c
	h.mu.Unlock()

	if old != nil && old != c {
		old.close()
	}
}

// Unregister detaches a client. A newer connection for the same user stays
// registered.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.roomCode]
	if !ok {
		return
	}
	if room[c.userID] != c {
		return
	}
	delete(room, c.userID)
	if len(room) == 0 {
		delete(h.rooms, c.roomCode)
	}
}

// ToRoom delivers an event to every client in a room. Slow clients whose
// send buffer is full are dropped rather than allowed to stall the room.
func (h *Hub) ToRoom(roomCode string, ev protocol.Event) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomCode]))
	for _, c := range h.rooms[roomCode] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.push(ev)
	}
}

// ToUser delivers an event to a single client.
func (h *Hub) ToUser(roomCode, userID string, ev protocol.Event) {
	h.mu.RLock()
	c := h.rooms[roomCode][userID]
	h.mu.RUnlock()

	if c != nil {
		c.push(ev)
	}
}

// Connected reports whether any client is registered for the user in the
// room.
func (h *Hub) Connected(roomCode, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomCode][userID] != nil
}

// RoomSize reports the connected client count for a room.
func (h *Hub) RoomSize(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}
