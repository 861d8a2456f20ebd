// Package realtime streams new risk assessments to dashboards over
// WebSocket, so open views see transactions as they are analyzed.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbd888/merchantshield/internal/metrics"
	"github.com/mbd888/merchantshield/internal/risk"
	"github.com/mbd888/merchantshield/internal/transactions"
)

const (
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = 30 * time.Second
	maxSubscriptionSize = 64 * 1024
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// EventType for real-time events
type EventType string

const (
	EventTransactionAnalyzed EventType = "transaction.analyzed"
	EventSessionChanged      EventType = "session.changed"
)

// Event represents a real-time event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`

	merchant string
	label    risk.Label
}

// Subscription filters for a client. The zero value receives everything.
type Subscription struct {
	EventTypes []EventType `json:"eventTypes"`
	Merchants  []string    `json:"merchants"`
	MinLabel   risk.Label  `json:"minLabel"`
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 1000

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int
	upgrader   websocket.Upgrader

	totalEvents  atomic.Int64
	totalClients atomic.Int64
}

// NewHub creates a hub. Browser connections are accepted from the same
// host and from allowedOrigins ("*" allows any).
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		if origin == "http://"+r.Host || origin == "https://"+r.Host {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("realtime hub stopped")
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.dropClients(c)
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.totalClients.Add(1)
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("dashboard attached", "clients", n)
}

// dropClients closes the send channel of each client still registered.
// A closed channel tells writePump to send a close frame and exit.
func (h *Hub) dropClients(cs ...*Client) {
	h.mu.Lock()
	for _, c := range cs {
		if h.clients[c] {
			delete(h.clients, c)
			close(c.send)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("dashboard detached", "clients", n)
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	h.dropClients(all...)
}

// fanOut delivers one event to every matching client. Clients whose
// buffer is full are disconnected rather than blocking the hub.
func (h *Hub) fanOut(event *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode event", "type", event.Type, "error", err)
		return
	}

	var lagging []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.subscription().Matches(event) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			lagging = append(lagging, c)
		}
	}
	h.mu.RUnlock()

	if len(lagging) > 0 {
		h.logger.Warn("dropping lagging dashboards", "count", len(lagging))
		h.dropClients(lagging...)
	}
}

// Matches reports whether the event passes the subscription filters.
// Merchant and label filters only apply to analyzed transactions.
func (s Subscription) Matches(event *Event) bool {
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, event.Type) {
		return false
	}
	if event.Type != EventTransactionAnalyzed {
		return true
	}
	if len(s.Merchants) > 0 && !slices.Contains(s.Merchants, event.merchant) {
		return false
	}
	return s.MinLabel == "" || event.label.AtLeast(s.MinLabel)
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// Broadcast sends an event to all matching clients
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// PublishAssessment broadcasts the canonical record of a new assessment.
func (h *Hub) PublishAssessment(a *risk.Assessment) {
	record := transactions.FromAssessment(a)
	h.Broadcast(&Event{
		Type:      EventTransactionAnalyzed,
		Timestamp: time.Now().UTC(),
		Data:      record,
		merchant:  record.MerchantUsername,
		label:     record.RiskLabel,
	})
}

// PublishSession tells dashboards the session user changed. username is
// empty after a logout.
func (h *Hub) PublishSession(username string, role string) {
	h.Broadcast(&Event{
		Type:      EventSessionChanged,
		Timestamp: time.Now().UTC(),
		Data:      map[string]string{"username": username, "role": role},
	})
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket. Initial filters may be given
// as query parameters: merchant (repeatable) and minLabel.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
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

	sub, err := subscriptionFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  sub,
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func subscriptionFromQuery(r *http.Request) (Subscription, error) {
	q := r.URL.Query()
	sub := Subscription{Merchants: q["merchant"]}
	if raw := q.Get("minLabel"); raw != "" {
		label, err := risk.ParseLabel(raw)
		if err != nil {
			return Subscription{}, err
		}
		sub.MinLabel = label
	}
	return sub, nil
}

// readPump applies subscription updates sent by the dashboard. It also
// owns the read deadline, which each pong extends.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	c.conn.SetReadLimit(maxSubscriptionSize)
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read", "error", err)
			}
			return
		}
		sub, ok := decodeSubscription(msg)
		if !ok {
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

// decodeSubscription ignores malformed updates so one bad frame does not
// reset the filters already in place.
func decodeSubscription(msg []byte) (Subscription, bool) {
	var sub Subscription
	if err := json.Unmarshal(msg, &sub); err != nil {
		return Subscription{}, false
	}
	if sub.MinLabel != "" {
		label, err := risk.ParseLabel(string(sub.MinLabel))
		if err != nil {
			return Subscription{}, false
		}
		sub.MinLabel = label
	}
	return sub, true
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case msg, open := <-c.send:
			if !open {
				_ = write(websocket.CloseMessage, []byte{})
				return
			}
			if err := write(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("websocket write", "error", err)
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
