// Package listener provides example Announcer listeners: external
// collaborators that consume lifecycle events, not part of the core (C.7).
// WebsocketListener is grounded on the reference codebase's
// observer.WebSocketObserver/WebSocketHub pair.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yawl-engine/core/internal/config"
	"github.com/yawl-engine/core/internal/platform/logging"
	"github.com/yawl-engine/core/pkg/announce"
)

// WebsocketHub manages connected WebSocket clients and broadcasts case events
// to them, per case subscription. Grounded on the reference codebase's
// WebSocketHub register/unregister/broadcast channel loop.
type WebsocketHub struct {
	clients    map[*WebsocketClient]bool
	broadcast  chan []byte
	register   chan *WebsocketClient
	unregister chan *WebsocketClient
	logger     *logging.Logger
	mu         sync.RWMutex
}

// WebsocketClient is one connected WebSocket subscriber, optionally scoped to
// a single case ID.
type WebsocketClient struct {
	ID     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *WebsocketHub
	caseID string // "" subscribes to every case
}

// eventMessage is the wire shape of an event pushed to a WebSocket client.
type eventMessage struct {
	Kind       string         `json:"kind"`
	CaseID     string         `json:"case_id"`
	WorkItemID string         `json:"work_item_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Seq        uint64         `json:"seq"`
	Payload    map[string]any `json:"payload,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// NewWebsocketHub builds a hub and starts its dispatch loop.
func NewWebsocketHub(cfg config.ListenerConfig, l *logging.Logger) *WebsocketHub {
	h := &WebsocketHub{
		clients:    make(map[*WebsocketClient]bool),
		broadcast:  make(chan []byte, cfg.WebSocketBufferSize),
		register:   make(chan *WebsocketClient),
		unregister: make(chan *WebsocketClient),
		logger:     l,
	}
	go h.run()
	return h
}

func (h *WebsocketHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastToCase delivers msg to every client subscribed to caseID, plus
// every client with no case filter.
func (h *WebsocketHub) BroadcastToCase(caseID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.caseID == "" || c.caseID == caseID {
			select {
			case c.send <- msg:
			default:
				if h.logger != nil {
					h.logger.Warn("websocket client send buffer full, dropping event", "client_id", c.ID)
				}
			}
		}
	}
}

// ClientCount reports how many clients are currently connected.
func (h *WebsocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewWebsocketClient wraps an upgraded connection as a hub client.
func NewWebsocketClient(id string, conn *websocket.Conn, hub *WebsocketHub, caseID string) *WebsocketClient {
	return &WebsocketClient{ID: id, conn: conn, send: make(chan []byte, 256), hub: hub, caseID: caseID}
}

// ReadPump drains client-originated frames (pings/close) until the connection
// closes, then unregisters the client. Required by gorilla/websocket's
// duplex-pump convention even though clients never send commands here.
func (c *WebsocketClient) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump writes queued events and periodic pings to the connection.
func (c *WebsocketClient) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// Register adds a client to the hub.
func (h *WebsocketHub) Register(c *WebsocketClient) { h.register <- c }

// Unregister removes a client from the hub.
func (h *WebsocketHub) Unregister(c *WebsocketClient) { h.unregister <- c }

// WebsocketListener implements announce.Listener, fanning every delivered
// event out to a WebsocketHub.
type WebsocketListener struct {
	hub    *WebsocketHub
	filter announce.Filter
	logger *logging.Logger
}

// NewWebsocketListener builds a listener registered with the Announcer in
// Deferred mode (so a slow or disconnected client never stalls kernel
// execution under the case lock).
func NewWebsocketListener(hub *WebsocketHub, filter announce.Filter, l *logging.Logger) *WebsocketListener {
	return &WebsocketListener{hub: hub, filter: filter, logger: l}
}

func (w *WebsocketListener) Name() string            { return "websocket" }
func (w *WebsocketListener) Filter() announce.Filter { return w.filter }

func (w *WebsocketListener) HandleEvent(ctx context.Context, event announce.Event) error {
	msg := eventMessage{
		Kind:       string(event.Kind),
		CaseID:     event.CaseID,
		WorkItemID: event.WorkItemID,
		Timestamp:  event.Timestamp,
		Seq:        event.Seq,
		Payload:    event.Payload,
		Message:    event.Message,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		if w.logger != nil {
			w.logger.ErrorContext(ctx, "failed to marshal websocket event", "error", err, "kind", msg.Kind)
		}
		return fmt.Errorf("marshal websocket event: %w", err)
	}
	w.hub.BroadcastToCase(event.CaseID, data)
	return nil
}
