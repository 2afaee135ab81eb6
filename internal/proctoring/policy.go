package proctoring

import (
	"context"
	"time"

	"github.com/zaqqye/proctoring_backend/internal/models"
)

// Roles carried by the authenticated principal.
const (
	RoleAdmin     = models.RoleAdmin
	RoleProctor   = models.RoleProctor
	RoleCandidate = models.RoleCandidate
)

// Known device names for RequiredDevices.
var KnownDevices = []string{"camera", "microphone", "audio"}

// Policy is the process-wide proctoring configuration. Per-user settings may
// override RequiredDevices, HeartbeatTimeout, ConsentRequired and
// SessionDuration.
type Policy struct {
	SessionDuration          time.Duration
	HeartbeatTimeout         time.Duration
	LivenessWindow           time.Duration
	LivenessFailureThreshold int
	RequiredDevices          []string
	ConsentRequired          bool
	ConsentPolicyVersion     string
	IPHashSalt               string
	MaxEventBatch            int
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		SessionDuration:          90 * time.Minute,
		HeartbeatTimeout:         30 * time.Second,
		LivenessWindow:           30 * time.Second,
		LivenessFailureThreshold: 3,
		RequiredDevices:          []string{"camera", "microphone", "audio"},
		ConsentRequired:          true,
		ConsentPolicyVersion:     "2026-02-25",
		MaxEventBatch:            200,
	}
}

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanAccessUser reports whether a may read or act on userID's data.
func (a Actor) CanAccessUser(userID string) bool {
	return a.IsAdmin() || (a.UserID != "" && a.UserID == userID)
}

// ChallengeCatalog answers whether a coding challenge exists.
type ChallengeCatalog interface {
	ChallengeExists(ctx context.Context, challengeID string) (bool, error)
}

// AllowAllCatalog accepts every non-empty id. Used when no catalog
// service is configured.
type AllowAllCatalog struct{}

func (AllowAllCatalog) ChallengeExists(_ context.Context, id string) (bool, error) {
	return id != "", nil
}

// TrustRecomputer refreshes a user's trust score after a session ends.
type TrustRecomputer interface {
	Recompute(ctx context.Context, userID string) (*models.TrustScore, error)
}

// Notifier pushes session changes to live dashboards.
type Notifier interface {
	Notify(ctx context.Context, u SessionUpdate)
}

// Live update kinds.
const (
	UpdateStarted          = "session_started"
	UpdatePaused           = "paused"
	UpdateResumed          = "resumed"
	UpdateCompleted        = "completed"
	UpdateViolation        = "violation"
	UpdateLivenessRequired = "liveness_required"
	UpdateLivenessVerified = "liveness_verified"
)

// SessionUpdate is one live push.
type SessionUpdate struct {
	Event            string    `json:"event"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	Status           string    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	LivenessRequired bool      `json:"liveness_required"`
	TotalViolations  int       `json:"total_violations"`
	TotalPenalty     int       `json:"total_penalty"`
	At               time.Time `json:"at"`
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, SessionUpdate) {}
