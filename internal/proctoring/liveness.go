package proctoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/logging"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/penalty"
	"github.com/zaqqye/proctoring_backend/internal/traces"
	"github.com/zaqqye/proctoring_backend/internal/utils"
)

// LivenessAction is one prompt the candidate may be asked to perform.
type LivenessAction struct {
	Code   string
	Prompt string
}

// LivenessActions is the fixed pool challenges are drawn from.
var LivenessActions = []LivenessAction{
	{Code: "turn_head_left", Prompt: "Slowly turn your head to the left"},
	{Code: "turn_head_right", Prompt: "Slowly turn your head to the right"},
	{Code: "look_up", Prompt: "Look up toward the top of your screen"},
	{Code: "blink_twice", Prompt: "Blink twice"},
	{Code: "smile", Prompt: "Smile at the camera"},
	{Code: "nod", Prompt: "Nod your head"},
}

func promptFor(code string) string {
	for _, a := range LivenessActions {
		if a.Code == code {
			return a.Prompt
		}
	}
	return ""
}

// ChallengeView is what the candidate sees. The expected action code stays
// on the server.
type ChallengeView struct {
	ChallengeID      string    `json:"challenge_id"`
	Prompt           string    `json:"prompt"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int       `json:"expires_in_seconds"`
}

// Verification failure reasons.
const (
	LivenessNoChallenge = "no_active_challenge"
	LivenessExpired     = "challenge_expired"
	LivenessMismatch    = "action_mismatch"
)

type VerifyResult struct {
	Verified         bool   `json:"verified"`
	Reason           string `json:"reason,omitempty"`
	LivenessRequired bool   `json:"liveness_required"`
	Failures         int    `json:"failures"`
	ViolationLogged  bool   `json:"violation_logged"`
	SessionStatus    string `json:"session_status"`
}

// RequestLivenessChallenge returns the outstanding unexpired challenge, or
// issues a new one that replaces anything older.
func (s *Service) RequestLivenessChallenge(ctx context.Context, actor Actor, id string) (*ChallengeView, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.RequestLivenessChallenge", traces.SessionID(id))
	defer span.End()

	sess, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionCompleted {
		return nil, errSessionCompleted
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	now := s.clock.Now()
	existing, err := s.store.GetChallenge(ctx, id)
	switch {
	case err == nil && now.Before(existing.ExpiresAt):
		return challengeView(existing, now), nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, apperr.Internal(err)
	}

	idx, err := utils.PickIndex(len(LivenessActions))
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("pick liveness action: %w", err))
	}
	c := &models.LivenessChallenge{
		SessionID:      id,
		ID:             uuid.NewString(),
		ExpectedAction: LivenessActions[idx].Code,
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.policy.LivenessWindow),
	}
	if err := s.store.PutChallenge(ctx, c); err != nil {
		return nil, apperr.Internal(err)
	}
	livenessTotal.WithLabelValues("issued").Inc()
	logging.L(ctx).Info("liveness challenge issued", "session_id", id, "challenge_id", c.ID)
	return challengeView(c, now), nil
}

func challengeView(c *models.LivenessChallenge, now time.Time) *ChallengeView {
	return &ChallengeView{
		ChallengeID:      c.ID,
		Prompt:           promptFor(c.ExpectedAction),
		IssuedAt:         c.IssuedAt,
		ExpiresAt:        c.ExpiresAt,
		ExpiresInSeconds: int(c.ExpiresAt.Sub(now) / time.Second),
	}
}

// VerifyLivenessChallenge checks responseAction against the outstanding
// challenge. Every attempt consumes the challenge. Success clears the
// liveness block; failure leaves it, and every Nth failure is logged as a
// liveness_failed violation. An answer with no outstanding challenge is
// reported but not counted as a failure.
func (s *Service) VerifyLivenessChallenge(ctx context.Context, actor Actor, id, responseAction string) (*VerifyResult, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.VerifyLivenessChallenge", traces.SessionID(id))
	defer span.End()

	if _, err := s.loadOwned(ctx, actor, id); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	now := s.clock.Now()
	action := penalty.Normalize(responseAction)

	reason := ""
	c, err := s.store.GetChallenge(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		reason = LivenessNoChallenge
	case err != nil:
		return nil, apperr.Internal(err)
	case !now.Before(c.ExpiresAt):
		reason = LivenessExpired
	case c.ExpectedAction != action:
		reason = LivenessMismatch
	}

	threshold := s.policy.LivenessFailureThreshold
	var res VerifyResult
	sess, vs, err := s.mutateLocked(ctx, id, func(row *models.ProctoringSession) ([]models.Violation, error) {
		res = VerifyResult{}
		if row.Status == models.SessionCompleted {
			return nil, errSessionCompleted
		}
		if reason == "" {
			verified := now
			row.LivenessRequired = false
			row.LivenessVerifiedAt = &verified
			res.Verified = true
			return nil, nil
		}
		res.Reason = reason
		if reason == LivenessNoChallenge {
			return nil, nil
		}
		row.LivenessFailures++
		if threshold > 0 && row.LivenessFailures%threshold == 0 {
			return []models.Violation{s.newViolation("liveness_failed", "",
				fmt.Sprintf("%d failed liveness checks", row.LivenessFailures), 1.0, SourceLiveness,
				map[string]any{"failures": row.LivenessFailures, "last_reason": reason}, now)}, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if c != nil {
		if err := s.store.DeleteChallenge(ctx, id); err != nil {
			logging.L(ctx).Warn("failed to consume liveness challenge", "session_id", id, "error", err)
		}
	}

	res.LivenessRequired = sess.LivenessRequired
	res.Failures = sess.LivenessFailures
	res.ViolationLogged = len(vs) > 0
	res.SessionStatus = sess.Status

	if res.Verified {
		livenessTotal.WithLabelValues("verified").Inc()
		logging.L(ctx).Info("liveness verified", "session_id", id)
		s.notify(ctx, UpdateLivenessVerified, sess, "")
	} else {
		outcome := strings.TrimPrefix(strings.TrimPrefix(reason, "challenge_"), "action_")
		if reason == LivenessNoChallenge {
			outcome = "missing"
		}
		livenessTotal.WithLabelValues(outcome).Inc()
		logging.L(ctx).Info("liveness verification failed", "session_id", id, "reason", reason, "failures", sess.LivenessFailures)
		if res.ViolationLogged {
			s.notify(ctx, UpdateViolation, sess, "liveness_failed")
		}
	}
	return &res, nil
}
