// Package ws pushes live session updates over websockets: dashboards get
// every update, candidates get the ones about their own session.
package ws

import (
	"context"
	"log/slog"

	"github.com/zaqqye/proctoring_backend/internal/proctoring"
)

type Hubs struct {
	Monitoring *MonitoringHub
	Candidate  *CandidateHub
}

func NewHubs(logger *slog.Logger) *Hubs {
	return &Hubs{
		Monitoring: NewMonitoringHub(logger),
		Candidate:  NewCandidateHub(logger),
	}
}

// Run starts both hubs; they stop when ctx is done.
func (h *Hubs) Run(ctx context.Context) {
	go h.Monitoring.Run(ctx)
	go h.Candidate.Run(ctx)
}

// Notify implements proctoring.Notifier.
func (h *Hubs) Notify(_ context.Context, u proctoring.SessionUpdate) {
	if h == nil {
		return
	}
	h.Monitoring.Broadcast(u)
	h.Candidate.Notify(u)
}
