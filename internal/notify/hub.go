package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/docshare/host/internal/errors"
	"github.com/docshare/host/internal/gate"
)

// sendBufferSize is the per-client outgoing message buffer. It absorbs
// bursts (e.g. many live-reload events) without blocking the broadcaster;
// when it fills, messages are dropped for that client.
const sendBufferSize = 64

// DecisionHandler applies an operator decision to the gate.
type DecisionHandler func(requestID string, allow bool) error

// PendingProvider returns the prompts still awaiting a decision, replayed to
// clients on connect so nothing raised while no operator was watching is lost.
type PendingProvider func() []gate.Prompt

// Hub manages control client connections. It implements gate.Notifier:
// prompts are broadcast to every connected client, and the hub counts as
// available while at least one client is connected.
//
// Thread safety: all exported methods are safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	stopped  bool
	upgrader websocket.Upgrader

	decisionHandler DecisionHandler
	pendingProvider PendingProvider

	// greeting builds the server.status message for a fresh client.
	// Set by the lifecycle manager once the server URL is known.
	greeting func() Message
}

// client is a single control connection with its own write pump, so a slow
// client cannot block the hub.
type client struct {
	conn *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once
	hub  *Hub
}

// close signals the client to shut down exactly once.
// Safe to call from multiple goroutines.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// NewHub creates a control hub. The decision handler receives operator
// answers; it is required.
func NewHub(decide DecisionHandler) *Hub {
	return &Hub{
		clients:         make(map[*client]bool),
		decisionHandler: decide,
		upgrader: websocket.Upgrader{
			// The control socket is reachable on the LAN only and carries
			// no credentials; any origin may connect.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetPendingProvider sets the source of unanswered prompts replayed on connect.
func (h *Hub) SetPendingProvider(p PendingProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingProvider = p
}

// SetGreeting sets the builder for the server.status message sent on connect.
func (h *Hub) SetGreeting(f func() Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.greeting = f
}

// Notify broadcasts an approval prompt to all connected clients.
// Returns approval.unavailable if no client is connected.
func (h *Hub) Notify(p gate.Prompt) error {
	if h.ClientCount() == 0 {
		return apperrors.NotifierUnavailable()
	}
	h.Broadcast(NewApprovalRequestMessage(p))
	return nil
}

// Available reports whether at least one control client is connected.
func (h *Hub) Available() bool {
	return h.ClientCount() > 0
}

// ClientCount returns the number of connected control clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every connected client.
// Non-blocking: slow clients drop messages rather than stalling the caller.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return
	}
	for c := range h.clients {
		select {
		case <-c.done:
		case c.send <- msg:
		default:
			log.Printf("notify: client send buffer full, dropping %s", msg.Type)
		}
	}
}

// Stop disconnects all clients and rejects new connections.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.stopped = true
	for c := range h.clients {
		c.close()
	}
	h.clients = make(map[*client]bool)
}

// HandleWS upgrades an HTTP request to a control connection.
// Mount on the server mux at /ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("notify: websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan Message, sendBufferSize),
		done: make(chan struct{}),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[c] = true
	greeting := h.greeting
	pendingProvider := h.pendingProvider
	h.mu.Unlock()

	log.Printf("notify: control client connected (%d total)", h.ClientCount())

	// Start the write pump before replaying state so the buffer drains
	// while we fill it.
	go c.writePump()

	if greeting != nil {
		c.send <- greeting()
	}
	if pendingProvider != nil {
		for _, p := range pendingProvider() {
			select {
			case c.send <- NewApprovalRequestMessage(p):
			case <-time.After(5 * time.Second):
				log.Printf("notify: timeout replaying pending prompt to client")
			}
		}
	}

	go c.readPump()
}

// writePump sends queued messages to the WebSocket and pings periodically to
// detect dead connections.
func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("notify: failed to marshal message: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("notify: write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages, routing approval decisions to the handler.
// It also detects disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		c.hub.mu.Unlock()
		c.close()
		log.Printf("notify: control client disconnected (%d remaining)", c.hub.ClientCount())
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Printf("notify: read error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("notify: failed to parse message: %v", err)
			continue
		}

		switch msg.Type {
		case MessageTypeApprovalDecision:
			c.handleDecision(data)
		default:
			log.Printf("notify: received message: type=%s", msg.Type)
		}
	}
}

// handleDecision validates an approval.decision payload, applies it through
// the decision handler, and confirms the result to the sender.
func (c *client) handleDecision(data []byte) {
	var msg struct {
		Type    MessageType             `json:"type"`
		Payload ApprovalDecisionPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("notify: failed to parse approval.decision payload: %v", err)
		c.sendResult("", false, apperrors.CodeServerInvalidMessage, "invalid message format")
		return
	}

	payload := msg.Payload
	if payload.RequestID == "" {
		c.sendResult("", false, apperrors.CodeServerInvalidMessage, "request_id is required")
		return
	}
	if payload.Decision != "allow" && payload.Decision != "deny" {
		c.sendResult(payload.RequestID, false, apperrors.CodeServerInvalidMessage,
			"decision must be 'allow' or 'deny'")
		return
	}

	if err := c.hub.decisionHandler(payload.RequestID, payload.Decision == "allow"); err != nil {
		code, message := apperrors.ToCodeAndMessage(err)
		c.sendResult(payload.RequestID, false, code, message)
		return
	}

	log.Printf("notify: decision applied: request=%s decision=%s", payload.RequestID, payload.Decision)

	// All clients learn the prompt is resolved so stale dialogs close.
	c.hub.Broadcast(NewApprovalResultMessage(payload.RequestID, true, "", ""))
}

// sendResult sends an approval result to this client only.
func (c *client) sendResult(requestID string, success bool, code, msg string) {
	select {
	case c.send <- NewApprovalResultMessage(requestID, success, code, msg):
	default:
		log.Printf("notify: client send buffer full, dropping approval result")
	}
}
