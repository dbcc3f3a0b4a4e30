package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Event stream WebSocket: hub + per-client pumps
// ============================================================================
//
//   - The Hub tracks connected clients and fans out pre-serialized frames.
//   - Each client has its own write pump; a client whose queue fills up is
//     disconnected so it cannot stall the others.
//   - On connect the client receives "state_init" with a StateSnapshot,
//     requested through the daemon loop.
//
// Messages are JSON text frames: {type, ts, data}.
// ============================================================================

// Websocket message types.
const (
	wsTypeStateInit     = "state_init"
	wsTypeButtonPressed = "button_pressed"
	wsTypeRotatedCW     = "rotated_cw"
	wsTypeRotatedCCW    = "rotated_ccw"
	wsTypeButtonLevel   = "button_level"
	wsTypeLEDChanged    = "led_changed"
	wsTypeReadFault     = "read_fault"
	wsTypeRotationReset = "rotation_reset"
)

type wsButtonPressedData struct {
	Count uint64 `json:"count"`
	Edges uint32 `json:"edges"`
}

type wsRotatedData struct {
	Value int64 `json:"value"`
	Delta int64 `json:"delta"`
	Fast  bool  `json:"fast"`
}

type wsButtonLevelData struct {
	Pressed bool `json:"pressed"`
}

type wsLEDChangedData struct {
	On bool `json:"on"`
}

type wsReadFaultData struct {
	Source string `json:"source"`
	Count  uint32 `json:"count"`
	Error  string `json:"error,omitempty"`
}

type wsRotationResetData struct {
	Previous int64 `json:"previous"`
}

// wsOutboundEvent is a typed, externally consumable status event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time
}

// envelope is the wire format for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// convertStatus maps a StatusEvent to its wire type and payload.
func convertStatus(ev StatusEvent) (wsOutboundEvent, bool) {
	switch e := ev.(type) {
	case ButtonPressed:
		return wsOutboundEvent{
			Type: wsTypeButtonPressed,
			Data: wsButtonPressedData{Count: e.Count, Edges: e.Edges},
			At:   e.At,
		}, true

	case Rotated:
		typ := wsTypeRotatedCW
		if e.Direction == CounterClockwise {
			typ = wsTypeRotatedCCW
		}
		return wsOutboundEvent{
			Type: typ,
			Data: wsRotatedData{Value: e.Value, Delta: e.Delta, Fast: e.Fast},
			At:   e.At,
		}, true

	case ButtonLevelChanged:
		return wsOutboundEvent{Type: wsTypeButtonLevel, Data: wsButtonLevelData{Pressed: e.Pressed}, At: e.At}, true

	case LEDChanged:
		return wsOutboundEvent{Type: wsTypeLEDChanged, Data: wsLEDChangedData{On: e.On}, At: e.At}, true

	case ReadFault:
		return wsOutboundEvent{
			Type: wsTypeReadFault,
			Data: wsReadFaultData{Source: e.Source, Count: e.Count, Error: e.Err},
			At:   e.At,
		}, true

	case RotationReset:
		return wsOutboundEvent{Type: wsTypeRotationReset, Data: wsRotationResetData{Previous: e.Previous}, At: e.At}, true

	default:
		return wsOutboundEvent{}, false
	}
}

// marshalEnvelope serializes a message; a zero ts means now.
func marshalEnvelope(typ string, at time.Time, data any) ([]byte, error) {
	ts := at.UTC()
	if at.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 32).
	SendBuf int
	// BroadcastBuf is the hub inbound queue size (default 128).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	// Closing send makes writePump exit.
	safeCloseChan(c.send)
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // close of closed channel
	}()
	close(ch)
}

// BroadcastBytes enqueues a serialized frame. It never blocks; when the hub
// queue is full the frame is dropped.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// Publish serializes a status event and broadcasts it.
func (h *Hub) Publish(ev StatusEvent) {
	out, ok := convertStatus(ev)
	if !ok {
		return
	}
	msg, err := marshalEnvelope(out.Type, out.At, out.Data)
	if err != nil {
		h.logger.Warn("ws marshal failed", "type", out.Type, "error", err)
		return
	}
	h.BroadcastBytes(msg)
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// trySend queues msg without blocking. It reports false when the queue is
// full or the hub already closed it.
func (c *Client) trySend(msg []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// closeStatus extracts the websocket close code and text when present.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes queued messages and keepalive pings.
// It exits on write error or when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards incoming messages; it exists to process control frames
// and notice disconnects.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type Server struct {
	logger *slog.Logger
	hub    *Hub

	// events reaches the daemon loop for snapshot requests.
	events chan<- Event
}

// NewServer constructs the websocket server. Start Hub().Run(ctx) separately.
func NewServer(logger *slog.Logger, events chan<- Event, cfg HubConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg),
		events: events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// requestSnapshot asks the daemon loop for a snapshot, giving up when ctx ends.
func requestSnapshot(ctx context.Context, events chan<- Event) (StateSnapshot, error) {
	if events == nil {
		return StateSnapshot{}, errors.New("no daemon event channel")
	}
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Second)
		defer cancel()
	}

	reply := make(chan StateSnapshot, 1)
	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case events <- RequestStateSnapshot{Reply: reply}:
	}

	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

// handleWS upgrades and registers a client, then sends state_init.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)
	s.hub.register <- client

	// The pumps outlive the request; the hub and connection errors end them.
	go client.writePump()
	go client.readPump()

	snap, err := requestSnapshot(r.Context(), s.events)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := marshalEnvelope(wsTypeStateInit, time.Now(), snap)
	if err != nil {
		s.logger.Warn("ws marshal failed", "type", wsTypeStateInit, "error", err)
		return
	}
	if !client.trySend(initMsg) {
		s.hub.unregister <- client
	}
}
