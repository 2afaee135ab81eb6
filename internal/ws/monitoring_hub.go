package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zaqqye/proctoring_backend/internal/metrics"
	"github.com/zaqqye/proctoring_backend/internal/proctoring"
)

type monitoringMessage struct {
	sessionID string
	payload   []byte
}

// MonitoringHub fans session updates out to admin and proctor dashboards.
type MonitoringHub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan monitoringMessage
	done       chan struct{}
	connected  atomic.Int64
	clients    map[*client]struct{}
	logger     *slog.Logger
}

func NewMonitoringHub(logger *slog.Logger) *MonitoringHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitoringHub{
		register:   make(chan *client),
		done:       make(chan struct{}),
		unregister: make(chan *client),
		broadcast:  make(chan monitoringMessage, 256),
		clients:    make(map[*client]struct{}),
		logger:     logger,
	}
}

// Run owns the client set until ctx is done.
func (h *MonitoringHub) Run(ctx context.Context) {
	gauge := metrics.ActiveWebSocketClients.WithLabelValues("monitoring")
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
				h.track(gauge, -1)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.track(gauge, 1)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.track(gauge, -1)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(msg.sessionID) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// Slow consumer.
					delete(h.clients, c)
					close(c.send)
					h.track(gauge, -1)
				}
			}
		}
	}
}

// Broadcast queues u for every dashboard watching its session. It never
// blocks the caller; updates are dropped when the queue is full.
func (h *MonitoringHub) Broadcast(u proctoring.SessionUpdate) {
	if h == nil {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		h.logger.Error("ws: failed to marshal session update", "error", err)
		return
	}
	select {
	case h.broadcast <- monitoringMessage{sessionID: u.SessionID, payload: data}:
	default:
		h.logger.Warn("ws: monitoring queue full, dropping update", "session_id", u.SessionID, "event", u.Event)
	}
}

// add registers c unless the hub has stopped.
func (h *MonitoringHub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *MonitoringHub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *MonitoringHub) track(g prometheus.Gauge, delta int64) {
	g.Add(float64(delta))
	h.connected.Add(delta)
}

// Connected is the number of registered sockets.
func (h *MonitoringHub) Connected() int {
	if h == nil {
		return 0
	}
	return int(h.connected.Load())
}
