package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dexft/dexft/internal/api"
	"github.com/dexft/dexft/internal/eventbus"
	"github.com/dexft/dexft/internal/toggle"
)

// Websocket message types.
const (
	MessageToggleState   = api.StreamToggleState
	MessageToggleChanged = api.StreamToggleChanged
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 16
)

// Message is one frame on the /ws stream.
type Message = api.StreamMessage

// Client is one connected websocket peer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans toggle.changed events out to websocket clients.
type Hub struct {
	bus      *eventbus.Bus
	current  func() toggle.View
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	lifecycle eventbus.ServiceLifecycle
}

// NewHub creates a hub. current supplies the view sent to new clients.
// originAllowed validates the Origin header on upgrade requests.
func NewHub(bus *eventbus.Bus, current func() toggle.View, originAllowed func(string) bool) *Hub {
	return &Hub{
		bus:     bus,
		current: current,
		clients: make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if originAllowed != nil {
					return originAllowed(origin)
				}
				return false
			},
		},
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Start subscribes to toggle.changed and broadcasts every view.
func (h *Hub) Start(ctx context.Context) error {
	h.lifecycle.Start(ctx)
	if h.bus == nil {
		return nil
	}
	sub := eventbus.SubscribeTo(h.bus, eventbus.Daemon.Toggle,
		eventbus.WithSubscriptionName("ws_hub"),
		eventbus.WithSubscriptionBuffer(32),
	)
	h.lifecycle.AddSubscriptions(sub)
	h.lifecycle.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, sub, nil, func(evt eventbus.ToggleEvent) {
			h.Broadcast(MessageToggleChanged, toggle.FromEvent(evt))
		})
	})
	return nil
}

// Shutdown stops the subscription and disconnects every client.
func (h *Hub) Shutdown(ctx context.Context) error {
	err := h.lifecycle.Shutdown(ctx)

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return err
}

// Broadcast sends a view to every client. Slow clients miss frames rather
// than block the hub.
func (h *Hub) Broadcast(msgType string, view toggle.View) {
	payload, err := encodeMessage(msgType, view)
	if err != nil {
		log.Printf("[WebSocket] marshal %s: %v", msgType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			log.Printf("[WebSocket] client %s send buffer full, dropping %s", c.id, msgType)
		}
	}
}

// HandleWebSocket upgrades the request and registers a client. The current
// view is sent immediately so the peer starts in sync.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] upgrade error: %v", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		hub:  h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteWait))
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	if h.current != nil {
		if payload, err := encodeMessage(MessageToggleState, h.current()); err == nil {
			client.send <- payload
		}
	}
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func encodeMessage(msgType string, view toggle.View) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Data:      api.ToToggleDTO(view),
		Timestamp: time.Now().UTC(),
	})
}

// readPump drains the connection so control frames are processed. Clients
// never send commands over the stream.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WebSocket] client %s: %v", c.id, err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
