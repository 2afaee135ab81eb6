package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeSessionStarted EventType = "session.started"
	EventTypeSessionEnded   EventType = "session.ended"
	EventTypeTrustUpdated   EventType = "trust.updated"
)

// BaseEvent carries the fields common to every message on the exchange.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Version   string    `json:"version"`
}

// SessionEvent is published when a proctored session starts or ends.
type SessionEvent struct {
	BaseEvent
	SessionID          string  `json:"sessionId"`
	UserID             string  `json:"userId"`
	ChallengeID        string  `json:"challengeId"`
	SubmissionID       string  `json:"submissionId,omitempty"`
	Status             string  `json:"status"`
	TotalViolations    int     `json:"totalViolations"`
	TotalPenalty       int     `json:"totalPenalty"`
	IntegrityScore     float64 `json:"integrityScore"`
	TotalPausedSeconds int64   `json:"totalPausedSeconds"`
}

// TrustEvent is published after a user's trust score is recomputed.
type TrustEvent struct {
	BaseEvent
	UserID     string  `json:"userId"`
	TotalScore float64 `json:"totalScore"`
	TrustLevel string  `json:"trustLevel"`
	Degraded   bool    `json:"degraded,omitempty"`
}

func newBase(t EventType, at time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: at.Unix(),
		Version:   "1.0",
	}
}

// NewSessionEvent stamps a session event of type t.
func NewSessionEvent(t EventType, at time.Time) *SessionEvent {
	return &SessionEvent{BaseEvent: newBase(t, at)}
}

// NewTrustEvent stamps a trust.updated event.
func NewTrustEvent(at time.Time) *TrustEvent {
	return &TrustEvent{BaseEvent: newBase(EventTypeTrustUpdated, at)}
}
