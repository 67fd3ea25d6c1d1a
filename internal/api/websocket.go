package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/aircat-gateway/internal/bridges/aircat"
	"github.com/nerrad567/aircat-gateway/internal/device"
	"github.com/nerrad567/aircat-gateway/internal/infrastructure/config"
	"github.com/nerrad567/aircat-gateway/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsSendBuffer is the number of outbound frames queued per client. Frames
// for a client whose queue is full are dropped and counted.
const wsSendBuffer = 256

// WSMessage is the envelope of every frame the hub sends.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a frame received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload selects the events a client receives.
//
// Devices narrows device events to the listed IDs (any separator style is
// accepted); empty means every device. Each subscribe replaces the device
// filter. With Snapshot set, the reply is followed by one
// device.status_changed event per matching device that has reported.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
	Snapshot bool     `json:"snapshot,omitempty"`
}

// Hub fans gateway events out to WebSocket clients. It implements
// aircat.Broadcaster.
type Hub struct {
	cfg      config.WebSocketConfig
	registry *device.Registry
	logger   *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool

	dropped atomic.Uint64
}

// NewHub creates a hub. registry serves snapshot requests and may be nil.
func NewHub(cfg config.WebSocketConfig, registry *device.Registry, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		clients:  make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client and
// refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Broadcast queues an event for every client subscribed to eventType.
// aircat.Update payloads also pass through each client's device filter.
func (h *Hub) Broadcast(eventType string, payload any) {
	deviceID := ""
	if u, ok := payload.(aircat.Update); ok {
		deviceID = u.DeviceID
	}

	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.logger.Error("encoding websocket event", "event_type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(eventType, deviceID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.queue(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of frames discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "clients", n)
	return true
}

// unregister removes c and stops its writer. Safe to repeat.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// snapshot returns one status event per reported device c wants, in ID order.
func (h *Hub) snapshot(c *wsClient) [][]byte {
	if h.registry == nil {
		return nil
	}
	entries := h.registry.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	var out [][]byte
	for _, e := range entries {
		if !c.wants(aircat.EventStatusChanged, e.ID) {
			continue
		}
		data, err := encodeEvent(aircat.EventStatusChanged, aircat.Update{
			DeviceID:   e.ID,
			Status:     e.Status,
			HasStatus:  true,
			ReceivedAt: e.UpdatedAt,
		})
		if err != nil {
			h.logger.Error("encoding snapshot event", "device_id", e.ID, "error", err)
			continue
		}
		out = append(out, data)
	}
	return out
}

func encodeEvent(eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// wsClient is one WebSocket connection. send is never closed; done tells
// the writer to say goodbye and exit.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
	devices  map[string]struct{} // nil means every device
}

func newWSClient(hub *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// queue hands data to the writer without blocking.
func (c *wsClient) queue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.hub.dropped.Add(1)
	}
}

func (c *wsClient) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if c.devices == nil || deviceID == "" {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

// upgrader accepts browsers from allowed origins; non-browser clients send
// no Origin header and are always accepted.
func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
}

// handleWebSocket upgrades the request. Clients receive nothing until they
// subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", RequestID(r.Context()))
		return
	}

	c := newWSClient(s.hub, conn)
	if !s.hub.register(c) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck // closing anyway
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// wsTimings converts the configured seconds, substituting defaults for
// unset values.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = 30*time.Second, 10*time.Second
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}

func (c *wsClient) readPump() {
	defer c.hub.unregister(c)

	ping, pong := wsTimings(c.hub.cfg)
	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	}
	// Pongs and client frames both keep the connection alive; browsers do
	// not always answer protocol pings.
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(ping + pong)) }
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // as above
		c.handle(data)
	}
}

func (c *wsClient) writePump() {
	ping, pong := wsTimings(c.hub.cfg)
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(pong)) //nolint:errcheck // surfaces on write
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data := <-c.send:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")) //nolint:errcheck // closing anyway
			return
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.subscribe(req)
	case WSTypeUnsubscribe:
		c.unsubscribe(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.fail(req.ID, "unknown message type: "+req.Type)
	}
}

func decodeSubscription(raw json.RawMessage) (WSSubscribePayload, error) {
	var sub WSSubscribePayload
	if len(raw) == 0 {
		return sub, errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, errors.New("invalid payload")
	}
	if len(sub.Channels) == 0 {
		return sub, errors.New("no channels given")
	}
	return sub, nil
}

// deviceFilter normalises ids, returning nil for an empty list.
func deviceFilter(ids []string) (map[string]struct{}, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	set := make(map[string]struct{}, len(ids))
	list := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := device.NormalizeID(raw)
		if !device.ValidID(id) {
			return nil, nil, fmt.Errorf("invalid device id %q", raw)
		}
		if _, dup := set[id]; !dup {
			set[id] = struct{}{}
			list = append(list, id)
		}
	}
	return set, list, nil
}

func (c *wsClient) subscribe(req wsRequest) {
	sub, err := decodeSubscription(req.Payload)
	if err != nil {
		c.fail(req.ID, "subscribe: "+err.Error())
		return
	}
	devices, ids, err := deviceFilter(sub.Devices)
	if err != nil {
		c.fail(req.ID, "subscribe: "+err.Error())
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.channels[ch] = struct{}{}
	}
	c.devices = devices
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", sub.Channels, "devices", ids)
	c.reply(req.ID, WSTypeResponse, map[string]any{
		"subscribed": sub.Channels,
		"devices":    ids,
	})

	if sub.Snapshot {
		for _, data := range c.hub.snapshot(c) {
			c.queue(data)
		}
	}
}

func (c *wsClient) unsubscribe(req wsRequest) {
	sub, err := decodeSubscription(req.Payload)
	if err != nil {
		c.fail(req.ID, "unsubscribe: "+err.Error())
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.channels, ch)
	}
	c.mu.Unlock()

	c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.queue(data)
}

func (c *wsClient) fail(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
