package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zaqqye/proctoring_backend/internal/metrics"
	"github.com/zaqqye/proctoring_backend/internal/proctoring"
)

// CandidateMessage tells the candidate's monitor widget what changed.
type CandidateMessage struct {
	Type             string    `json:"type"`
	SessionID        string    `json:"session_id"`
	Status           string    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	LivenessRequired bool      `json:"liveness_required"`
	At               time.Time `json:"at"`
}

// candidateEvents are the updates worth pushing to the session owner.
var candidateEvents = map[string]bool{
	proctoring.UpdatePaused:           true,
	proctoring.UpdateResumed:          true,
	proctoring.UpdateLivenessRequired: true,
	proctoring.UpdateCompleted:        true,
}

type candidateNotification struct {
	userID  string
	payload []byte
}

// CandidateHub keeps at most one socket per user; a new connection replaces
// the old one.
type CandidateHub struct {
	register   chan *client
	unregister chan *client
	notify     chan candidateNotification
	done       chan struct{}
	connected  atomic.Int64
	clients    map[string]*client
	logger     *slog.Logger
}

func NewCandidateHub(logger *slog.Logger) *CandidateHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &CandidateHub{
		register:   make(chan *client),
		done:       make(chan struct{}),
		unregister: make(chan *client),
		notify:     make(chan candidateNotification, 256),
		clients:    make(map[string]*client),
		logger:     logger,
	}
}

func (h *CandidateHub) Run(ctx context.Context) {
	gauge := metrics.ActiveWebSocketClients.WithLabelValues("candidate")
	drop := func(c *client) {
		delete(h.clients, c.userID)
		close(c.send)
		h.track(gauge, -1)
	}
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for _, c := range h.clients {
				drop(c)
			}
			return
		case c := <-h.register:
			if existing, ok := h.clients[c.userID]; ok {
				drop(existing)
			}
			h.clients[c.userID] = c
			h.track(gauge, 1)
		case c := <-h.unregister:
			if stored, ok := h.clients[c.userID]; ok && stored == c {
				drop(c)
			}
		case msg := <-h.notify:
			if c, ok := h.clients[msg.userID]; ok {
				select {
				case c.send <- msg.payload:
				default:
					drop(c)
				}
			}
		}
	}
}

// Notify pushes u to the session owner if it is a candidate-facing event.
func (h *CandidateHub) Notify(u proctoring.SessionUpdate) {
	if h == nil || !candidateEvents[u.Event] {
		return
	}
	data, err := json.Marshal(CandidateMessage{
		Type:             u.Event,
		SessionID:        u.SessionID,
		Status:           u.Status,
		Reason:           u.Reason,
		LivenessRequired: u.LivenessRequired,
		At:               u.At,
	})
	if err != nil {
		return
	}
	select {
	case h.notify <- candidateNotification{userID: u.UserID, payload: data}:
	default:
		h.logger.Warn("ws: candidate queue full, dropping update", "user_id", u.UserID, "event", u.Event)
	}
}

// add registers c unless the hub has stopped.
func (h *CandidateHub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *CandidateHub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *CandidateHub) track(g prometheus.Gauge, delta int64) {
	g.Add(float64(delta))
	h.connected.Add(delta)
}

// Connected is the number of registered sockets.
func (h *CandidateHub) Connected() int {
	if h == nil {
		return 0
	}
	return int(h.connected.Load())
}
