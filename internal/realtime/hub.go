// Package realtime streams oracle activity over WebSocket.
//
// Consumers connect once and receive score updates, oracle address
// rotations, and threshold changes as they happen, with optional
// per-client filtering by event type, account, or minimum score.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trustgrid/oracle/internal/metrics"
)

// EventType names a kind of oracle event on the wire.
type EventType string

const (
	EventScoreUpdated     EventType = "score_updated"
	EventScoreComputed    EventType = "score_computed"
	EventOracleUpdated    EventType = "oracle_updated"
	EventThresholdUpdated EventType = "threshold_updated"
)

// Event is the JSON frame pushed to subscribed clients.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription is the filter a client sends as a text frame. A zero
// Subscription delivers everything.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	Accounts   []string    `json:"accounts"` // Watch specific accounts
	MinScore   float64     `json:"minScore"` // Only score events at or above this
}

func (s Subscription) wantsType(t EventType) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, want := range s.EventTypes {
		if want == t {
			return true
		}
	}
	return false
}

func (s Subscription) wantsAccount(data any) bool {
	if len(s.Accounts) == 0 {
		return true
	}
	fields, ok := data.(map[string]any)
	if !ok {
		// Payload has no extractable account; let it through.
		return true
	}
	account, _ := fields["account"].(string)
	for _, watched := range s.Accounts {
		if strings.EqualFold(watched, account) {
			return true
		}
	}
	return false
}

func (s Subscription) meetsMinScore(e *Event) bool {
	if s.MinScore <= 0 {
		return true
	}
	if e.Type != EventScoreUpdated && e.Type != EventScoreComputed {
		return true
	}
	fields, ok := e.Data.(map[string]any)
	if !ok {
		return true
	}
	score, ok := fields["score"].(float64)
	return !ok || score >= s.MinScore
}

// Client is one WebSocket connection and its current filter.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

const (
	// MaxClients caps concurrent WebSocket connections.
	MaxClients = 10000

	clientSendBuffer = 256
	readLimit        = 512 * 1024
	pongWait         = 60 * time.Second
	pingInterval     = 30 * time.Second
	writeWait        = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients send no Origin
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// expectedCloseCodes are close codes for an orderly client disconnect.
var expectedCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// Hub owns the client set and fans events out to matching connections.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; blocks late upgrades
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a hub. Call Run to start event delivery.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run is the hub's event loop. It owns all client set mutation and
// returns when ctx is cancelled, closing every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("realtime hub stopped")
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.dropClient(client)
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.totalClients.Add(1)
	if current := int64(len(h.clients)); current > h.peakClients.Load() {
		h.peakClients.Store(current)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("client connected", "total", n)
}

func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("client disconnected", "total", n)
}

func (h *Hub) closeAll() {
	h.logger.Info("realtime hub shutting down, closing client connections")
	h.mu.Lock()
	for client := range h.clients {
		close(client.send) // writePump sends CloseMessage on closed channel
		delete(h.clients, client)
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
}

func (h *Hub) fanOut(event *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal failed", "type", event.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !h.shouldSend(client, event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// Clients with a full send buffer are evicted rather than holding
	// up delivery to everyone else.
	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			if _, ok := h.clients[client]; ok {
				close(client.send)
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// shouldSend reports whether event passes the client's filter.
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if sub.AllEvents {
		return true
	}
	return sub.wantsType(event.Type) &&
		sub.wantsAccount(event.Data) &&
		sub.meetsMinScore(event)
}

// Broadcast queues an event for delivery. Drops the event if the
// broadcast buffer is full rather than blocking the caller.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// BroadcastScoreUpdate queues a score_updated event with the given payload.
func (h *Hub) BroadcastScoreUpdate(data map[string]any) {
	h.Broadcast(&Event{
		Type:      EventScoreUpdated,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Stats reports connection and delivery counters for the stats endpoint.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades the request and attaches the connection to
// the hub. New clients start subscribed to all events until they send
// a Subscription frame.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump consumes inbound frames. The only meaningful inbound payload
// is a Subscription update; everything else is ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, expectedCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump drains the send channel and keeps the connection alive with
// periodic pings. A closed send channel means the hub evicted us.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
