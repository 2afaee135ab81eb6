package proctoring

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zaqqye/proctoring_backend/internal/models"
)

// ErrNotFound is returned by stores for a missing row.
var ErrNotFound = errors.New("proctoring: not found")

// Mutator changes a locked session and returns violations to append in the
// same unit of work. Returning an error discards every change. It may run
// more than once when the store retries, so it must not have side effects
// outside s.
type Mutator func(s *models.ProctoringSession) ([]models.Violation, error)

// SessionFilter narrows ListSessions. Zero fields match everything; a zero
// Limit returns every match.
type SessionFilter struct {
	Status      string
	UserID      string
	ChallengeID string
	Limit       int
	Offset      int
}

// Store persists sessions and everything keyed to them.
type Store interface {
	CreateSession(ctx context.Context, s *models.ProctoringSession) error
	GetSession(ctx context.Context, id string) (*models.ProctoringSession, error)
	// UpdateSession locks session id, applies fn, appends the violations it
	// returns and bumps TotalViolations/TotalPenalty atomically with them.
	UpdateSession(ctx context.Context, id string, fn Mutator) (*models.ProctoringSession, []models.Violation, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]models.ProctoringSession, error)
	ListCompletedSessions(ctx context.Context, userID string) ([]models.ProctoringSession, error)
	// ListSessions returns one page, newest first, and the total match count.
	ListSessions(ctx context.Context, f SessionFilter) ([]models.ProctoringSession, int64, error)

	ListViolations(ctx context.Context, sessionID string) ([]models.Violation, error)
	ListViolationsByUser(ctx context.Context, userID string) ([]models.Violation, error)

	GetChallenge(ctx context.Context, sessionID string) (*models.LivenessChallenge, error)
	PutChallenge(ctx context.Context, c *models.LivenessChallenge) error
	DeleteChallenge(ctx context.Context, sessionID string) error

	CreateSnapshot(ctx context.Context, snap *models.SessionSnapshot) error
	ListSnapshots(ctx context.Context, sessionID string) ([]models.SessionSnapshot, error)

	GetSettings(ctx context.Context, scope string) (*models.ProctoringSettings, error)
	SaveSettings(ctx context.Context, st *models.ProctoringSettings) error

	FindTrustScore(ctx context.Context, userID string) (*models.TrustScore, bool, error)
	SaveTrustScore(ctx context.Context, ts *models.TrustScore) error
}

// stampViolations fills identity fields on vs and folds them into s's
// aggregates. Both stores call it inside their critical section.
func stampViolations(s *models.ProctoringSession, vs []models.Violation, now time.Time) {
	for i := range vs {
		v := &vs[i]
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		v.SessionID = s.ID
		v.UserID = s.UserID
		if v.Timestamp.IsZero() {
			v.Timestamp = now
		}
		v.CreatedAt = now
		s.TotalViolations++
		s.TotalPenalty += v.Penalty
	}
}
