package proctoring

import (
	"context"
	"strings"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/models"
)

// ListSessions is the dashboard listing for admins and proctors. It is the
// REST counterpart of the monitoring socket and never writes.
func (s *Service) ListSessions(ctx context.Context, actor Actor, f SessionFilter) ([]SessionView, int64, error) {
	if actor.Role != RoleAdmin && actor.Role != RoleProctor {
		return nil, 0, apperr.Forbidden("only proctors and administrators may list sessions")
	}
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	switch f.Status {
	case "", models.SessionActive, models.SessionPaused, models.SessionCompleted:
	default:
		return nil, 0, apperr.Invalid("status must be active, paused or completed")
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, 0, apperr.Invalid("limit and offset must not be negative")
	}
	rows, total, err := s.store.ListSessions(ctx, f)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	now := s.clock.Now()
	out := make([]SessionView, 0, len(rows))
	for i := range rows {
		out = append(out, NewSessionView(&rows[i], now))
	}
	return out, total, nil
}
