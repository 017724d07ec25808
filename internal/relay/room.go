package relay

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrBackpressure = errors.New("relay: backpressure")

// wsClient is one connected participant: the socket plus its buffered write
// channel. TrySend never blocks; slow consumers lose frames instead of
// stalling the room.
type wsClient struct {
	userID   string
	userName string
	userType string

	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *wsClient) TrySend(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("relay: connection closed")
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

type room struct {
	id      string
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func (r *room) add(c *wsClient) *wsClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.clients[c.userID]
	r.clients[c.userID] = c
	return prev
}

func (r *room) remove(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, userID)
	return len(r.clients)
}

func (r *room) get(userID string) (*wsClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

// others returns every member except userID.
func (r *room) others(userID string) []*wsClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*wsClient, 0, len(r.clients))
	for id, c := range r.clients {
		if id != userID {
			out = append(out, c)
		}
	}
	return out
}

// Hub tracks the live rooms. Rooms exist only while they have members;
// nothing persists.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

func (h *Hub) getOrCreate(id string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return r
	}
	r := &room{id: id, clients: make(map[string]*wsClient)}
	h.rooms[id] = r
	return r
}

func (h *Hub) lookup(id string) (*room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	return r, ok
}

func (h *Hub) removeClient(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if r.remove(userID) == 0 {
		delete(h.rooms, roomID)
	}
}
