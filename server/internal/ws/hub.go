package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forgewatch/forgewatch/pkg/types"
)

const (
	writeTimeout = 10 * time.Second

	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing queue depth. A client whose
	// queue is full is disconnected.
	sendBufSize = 16
)

// Message types.
const (
	TypeMachinesData = "machines-data"
	TypeAlert        = "alert"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Source supplies the state broadcast to clients. *engine.Engine implements it.
type Source interface {
	Snapshots() []types.MachineSnapshot
	ActiveAlerts() []types.Alert
}

// MachinesData is the periodic state message.
type MachinesData struct {
	Type      string                  `json:"type"`
	Machines  []types.MachineSnapshot `json:"machines"`
	Alerts    []types.Alert           `json:"alerts"`
	Timestamp time.Time               `json:"timestamp"`
}

// AlertMessage announces one newly fired alert.
type AlertMessage struct {
	Type  string      `json:"type"`
	Alert types.Alert `json:"alert"`
}

// Hub fans machine state out to every connected client.
type Hub struct {
	interval time.Duration
	now      func() time.Time

	srcMu sync.RWMutex
	src   Source

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads from src and broadcasts every interval. src
// may be nil and set later with SetSource; until then clients receive empty
// lists.
func New(src Source, interval time.Duration) *Hub {
	return &Hub{
		src:      src,
		interval: interval,
		now:      time.Now,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts machines-data every interval until ctx is cancelled, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if h.Count() == 0 {
				continue
			}
			if data, err := h.machinesData(); err == nil {
				h.broadcast(data)
			}
		}
	}
}

// Notify pushes a to every client. It implements alerts.Notifier.
func (h *Hub) Notify(a types.Alert) {
	data, err := json.Marshal(AlertMessage{Type: TypeAlert, Alert: a})
	if err != nil {
		slog.Error("ws: marshal alert", "alert", a.ID, "err", err)
		return
	}
	h.broadcast(data)
}

// ServeHTTP upgrades the request, sends the current state and then streams
// broadcasts until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	h.register(c)
	defer h.unregister(c)
	slog.Debug("ws: client connected", "remote", r.RemoteAddr)

	if data, err := h.machinesData(); err == nil {
		h.offer(c, data)
	}

	go c.writeLoop()
	c.readLoop()
}

// SetSource replaces the state source.
func (h *Hub) SetSource(src Source) {
	h.srcMu.Lock()
	h.src = src
	h.srcMu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) machinesData() ([]byte, error) {
	h.srcMu.RLock()
	src := h.src
	h.srcMu.RUnlock()

	machines, active := []types.MachineSnapshot{}, []types.Alert{}
	if src != nil {
		if s := src.Snapshots(); s != nil {
			machines = s
		}
		if a := src.ActiveAlerts(); a != nil {
			active = a
		}
	}
	data, err := json.Marshal(MachinesData{
		Type:      TypeMachinesData,
		Machines:  machines,
		Alerts:    active,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		slog.Error("ws: marshal machines-data", "err", err)
	}
	return data, err
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !h.offer(c, data) {
			slog.Warn("ws: slow client dropped", "remote", c.conn.RemoteAddr().String())
			h.unregister(c)
		}
	}
}

// offer queues data for c without blocking. It reports false when the queue
// is full. Clients already removed are skipped.
func (h *Hub) offer(c *client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// write sends one frame under the write deadline.
func (c *client) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// writeLoop forwards queued messages and pings until the queue is closed or a
// write fails.
func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case msg, open := <-c.send:
			if !open {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			err = c.write(websocket.TextMessage, msg)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

// readLoop services control frames until the peer goes away; the dashboard
// never sends data.
func (c *client) readLoop() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend("")
	c.conn.SetPongHandler(extend)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
