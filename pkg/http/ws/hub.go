package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub manages WebSocket connections and targeted delivery to participants.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection // participant_id -> connection
	rooms       map[string][]string    // room_id -> []participant_id
	logger      zerolog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		rooms:       make(map[string][]string),
		logger:      logger,
	}
}

// RegisterConnection adds a connection for a participant.
func (h *Hub) RegisterConnection(participantID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Close existing connection if any
	if old, exists := h.connections[participantID]; exists {
		old.Close()
	}

	h.connections[participantID] = conn
	h.logger.Info().Str("participant_id", participantID).Msg("connection registered")
}

// UnregisterConnection removes a connection and its room memberships.
// The connection is only dropped if it is still the registered one, so a
// reconnect that replaced it is left untouched.
func (h *Hub) UnregisterConnection(participantID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, exists := h.connections[participantID]; exists && current == conn {
		current.Close()
		delete(h.connections, participantID)
		h.logger.Info().Str("participant_id", participantID).Msg("connection unregistered")
	}

	for roomID, members := range h.rooms {
		for i, id := range members {
			if id == participantID {
				h.rooms[roomID] = append(members[:i], members[i+1:]...)
				break
			}
		}
	}
}

// JoinRoom associates a participant with a room for targeted broadcasts.
func (h *Hub) JoinRoom(roomID, participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[roomID]
	for _, id := range members {
		if id == participantID {
			return // already joined
		}
	}
	h.rooms[roomID] = append(members, participantID)
}

// LeaveRoom removes a participant from a room.
func (h *Hub) LeaveRoom(roomID, participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[roomID]
	for i, id := range members {
		if id == participantID {
			h.rooms[roomID] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
}

// BroadcastToRoom sends a message to every participant in a room.
func (h *Hub) BroadcastToRoom(roomID string, msg Message) error {
	h.mu.RLock()
	members := append([]string(nil), h.rooms[roomID]...)
	h.mu.RUnlock()

	var firstErr error
	for _, participantID := range members {
		if err := h.SendToParticipant(participantID, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendToParticipant delivers a message to a specific participant.
func (h *Hub) SendToParticipant(participantID string, msg Message) error {
	h.mu.RLock()
	conn, exists := h.connections[participantID]
	h.mu.RUnlock()

	if !exists {
		return ErrConnectionNotFound
	}

	return conn.Send(msg)
}

// IsConnected reports whether a participant currently has a live connection.
func (h *Hub) IsConnected(participantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, exists := h.connections[participantID]
	return exists
}

// Connection represents a WebSocket connection with send queue.
type Connection struct {
	conn   *websocket.Conn
	sendCh chan Message
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

// NewConnection wraps a WebSocket connection.
func NewConnection(conn *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		conn:   conn,
		sendCh: make(chan Message, 256),
		logger: logger,
	}
}

// Send queues a message for delivery.
func (c *Connection) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.sendCh <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops the send queue. The write pump drains any queued messages,
// emits a close frame and closes the underlying socket, so a message queued
// right before Close still reaches the peer.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.sendCh)
}

// WritePump sends messages from the send queue.
func (c *Connection) WritePump() {
	defer c.conn.Close()

	for msg := range c.sendCh {
		if err := c.conn.WriteJSON(msg); err != nil {
			c.logger.Warn().Err(err).Msg("write error")
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ReadPump receives messages and calls the handler until the peer goes away.
func (c *Connection) ReadPump(handler func(Message) error) {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			break
		}

		if err := handler(msg); err != nil {
			c.logger.Warn().Err(err).Msg("message handler error")
		}
	}
}

const readTimeout = 60 * time.Second

var (
	ErrConnectionNotFound = &Error{Code: "connection_not_found", Message: "Participant connection not found"}
	ErrConnectionClosed   = &Error{Code: "connection_closed", Message: "Connection is closed"}
	ErrSendQueueFull      = &Error{Code: "send_queue_full", Message: "Send queue is full"}
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
