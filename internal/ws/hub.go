package ws

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a connected WebSocket client. A connection starts
// anonymous; userID and userName are bound later by a setOnline frame and
// are guarded by the hub mutex.
type Client struct {
	conn     *websocket.Conn
	connID   string
	userID   string
	userName string
	send     chan []byte
	hub      *Hub

	// mu serializes trySend against the single closeSend of the buffer
	mu     sync.Mutex
	closed bool
}

// ConnID returns the ephemeral connection id minted at upgrade time
func (c *Client) ConnID() string {
	return c.connID
}

// trySend queues a frame for the write pump, reporting whether it was
// accepted. Drops instead of blocking when the buffer is full, and drops
// instead of panicking when the buffer is already closed; a handler reply
// can race the eviction of its own socket.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send buffer exactly once. Every close goes through
// here so a late trySend observes the flag rather than a closed channel.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// OnlineUser is one roster entry in an onlineUsers frame
type OnlineUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageHandler consumes inbound frames. The router implements it.
type MessageHandler interface {
	HandleMessage(client *Client, raw []byte)
}

// Hub maintains the set of active connections and the userID -> client
// presence binding. At most one client is bound per user; a second bind for
// the same id evicts the first.
type Hub struct {
	conns      map[string]*Client // connID -> Client (all sockets)
	clients    map[string]*Client // userID -> Client (bound sockets only)
	register   chan *Client
	unregister chan *Client
	maxConns   int
	handler    MessageHandler
	mu         sync.RWMutex
}

// NewHub creates a new Hub capped at maxConns concurrent sockets
func NewHub(maxConns int) *Hub {
	return &Hub{
		conns:      make(map[string]*Client),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		maxConns:   maxConns,
	}
}

// SetMessageHandler wires the inbound frame router. Must be called before
// the hub accepts connections.
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.handler = handler
}

// Run processes connection registration and teardown
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.conns[client.connID] = client
			total := len(h.conns)
			h.mu.Unlock()

			log.Printf("[WS] Connection %s open (%d active)", client.connID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			closedConn := false
			unboundID := ""
			if cur, ok := h.conns[client.connID]; ok && cur == client {
				delete(h.conns, client.connID)
				closedConn = true

				if client.userID != "" {
					if bound, ok := h.clients[client.userID]; ok && bound == client {
						delete(h.clients, client.userID)
						unboundID = client.userID
					}
					client.userID = ""
					client.userName = ""
				}
			}
			h.mu.Unlock()

			if closedConn {
				client.closeSend()
				log.Printf("[WS] Connection %s closed", client.connID)
			}
			if unboundID != "" {
				log.Printf("[WS] User %s disconnected", unboundID)
				markUserOffline(unboundID)
				h.broadcastRoster()
			}
		}
	}
}

// CanAccept reports whether the hub is below its connection cap
func (h *Hub) CanAccept() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns) < h.maxConns
}

// BindUser binds a socket to a user identity. A previous socket bound to the
// same user is closed and replaced; a previous identity on this socket is
// dropped. Broadcasts the refreshed roster.
func (h *Hub) BindUser(client *Client, userID, name string) {
	h.mu.Lock()

	var replaced *Client
	if old, exists := h.clients[userID]; exists && old != client {
		replaced = old
		delete(h.conns, old.connID)
		old.userID = ""
		old.userName = ""
	}

	if client.userID != "" && client.userID != userID {
		if bound, ok := h.clients[client.userID]; ok && bound == client {
			delete(h.clients, client.userID)
		}
	}

	client.userID = userID
	client.userName = name
	h.clients[userID] = client
	h.mu.Unlock()

	// The replaced socket is already out of the registry, so no broadcast can
	// reach its buffer anymore; in-flight replies from its own read pump land
	// in trySend's closed check. The close happens without the hub lock held.
	if replaced != nil {
		log.Printf("[WS] User %s rebinding - closing old connection %s", userID, replaced.connID)
		if err := replaced.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced by new connection"), time.Now().Add(5*time.Second)); err != nil {
			log.Printf("Error writing close control to old connection of %s: %v", userID, err)
		}
		replaced.conn.Close()
		replaced.closeSend()
	}

	log.Printf("[WS] User %s online (conn %s)", userID, client.connID)
	markUserOnline(userID)
	h.broadcastRoster()
}

// UnbindUser clears a socket's identity without closing it. setOnline with
// online=false lands here; the socket may bind again later.
func (h *Hub) UnbindUser(client *Client) {
	h.mu.Lock()
	userID := client.userID
	if userID != "" {
		if bound, ok := h.clients[userID]; ok && bound == client {
			delete(h.clients, userID)
		}
		client.userID = ""
		client.userName = ""
	}
	h.mu.Unlock()

	if userID == "" {
		return
	}
	log.Printf("[WS] User %s went offline (conn %s)", userID, client.connID)
	markUserOffline(userID)
	h.broadcastRoster()
}

// UserOf returns the user currently bound to a client, or ""
func (h *Hub) UserOf(client *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.userID
}

// IsOnline reports whether a user has a bound socket
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.clients[userID]
	return exists
}

// OnlineUsers snapshots the roster of bound users, ordered by id
func (h *Hub) OnlineUsers() []OnlineUser {
	h.mu.RLock()
	users := make([]OnlineUser, 0, len(h.clients))
	for id, client := range h.clients {
		users = append(users, OnlineUser{ID: id, Name: client.userName})
	}
	h.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// broadcastRoster pushes the current onlineUsers list to every bound socket
func (h *Hub) broadcastRoster() {
	h.BroadcastToAll(map[string]interface{}{
		"type":  "onlineUsers",
		"users": h.OnlineUsers(),
	})
}

// SendToUser sends a message to a specific bound user
func (h *Hub) SendToUser(userID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, exists := h.clients[userID]; exists {
		if !client.trySend(data) {
			log.Printf("[WS] SendToUser dropped message for user %s (buffer full)", userID)
		}
	} else {
		log.Printf("[WS] SendToUser no client for user %s", userID)
	}
}

// BroadcastToUsers sends a message to each listed user that is online.
// Offline recipients are skipped silently; they resync from the store.
func (h *Hub) BroadcastToUsers(userIDs []string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userID := range userIDs {
		if client, exists := h.clients[userID]; exists {
			if !client.trySend(data) {
				log.Printf("[WS] Broadcast dropped message for user %s (buffer full)", userID)
			}
		}
	}
}

// BroadcastToAll sends a message to every bound user
func (h *Hub) BroadcastToAll(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for userID, client := range h.clients {
		if !client.trySend(data) {
			log.Printf("[WS] Broadcast dropped message for user %s (buffer full)", userID)
		}
	}
}

// Shutdown closes every connection with a going-away frame. Read pumps
// observe the closed sockets and drain through unregister as usual.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*Client, 0, len(h.conns))
	for _, client := range h.conns {
		conns = append(conns, client)
	}
	h.mu.Unlock()

	for _, client := range conns {
		client.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Server shutting down"), time.Now().Add(5*time.Second))
		client.conn.Close()
	}
	log.Printf("[WS] Closed %d connection(s) on shutdown", len(conns))
}
