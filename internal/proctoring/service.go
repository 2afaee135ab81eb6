// Package proctoring is the session integrity engine: lifecycle state
// machine, heartbeat monitor, violation ledger, event ingestion and
// liveness challenges.
//
// Every mutation of a session goes through Store.UpdateSession while the
// service holds the session's shard lock, so aggregate counters always move
// together with the ledger rows that justify them.
package proctoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/clock"
	"github.com/zaqqye/proctoring_backend/internal/events"
	"github.com/zaqqye/proctoring_backend/internal/logging"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/penalty"
	"github.com/zaqqye/proctoring_backend/internal/syncutil"
	"github.com/zaqqye/proctoring_backend/internal/traces"
	"github.com/zaqqye/proctoring_backend/internal/trust"
	"github.com/zaqqye/proctoring_backend/internal/utils"
)

// Violation sources.
const (
	SourceClient   = "client"
	SourceEvent    = "event"
	SourceML       = "ml"
	SourceSystem   = "system"
	SourceLiveness = "liveness"
)

var errSessionNotFound = apperr.NotFound(apperr.CodeSessionNotFound, "session not found")

// Service orchestrates the engine.
type Service struct {
	store     Store
	policy    Policy
	clock     clock.Clock
	penalties *penalty.Table
	catalog   ChallengeCatalog
	notifier  Notifier
	publisher events.Publisher
	trust     TrustRecomputer
	locks     syncutil.ShardedMutex
	logger    *slog.Logger
}

// NewService builds a service with the standard penalty table, the real
// clock and no collaborators.
func NewService(store Store, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		policy:    normalizePolicy(policy),
		clock:     clock.Real{},
		penalties: penalty.Standard(),
		catalog:   AllowAllCatalog{},
		notifier:  nopNotifier{},
		logger:    logger,
	}
}

func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) WithPenaltyTable(t *penalty.Table) *Service {
	s.penalties = t
	return s
}

func (s *Service) WithCatalog(c ChallengeCatalog) *Service {
	s.catalog = c
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithPublisher(p events.Publisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) WithTrust(t TrustRecomputer) *Service {
	s.trust = t
	return s
}

// Policy returns the process-wide policy.
func (s *Service) Policy() Policy { return s.policy }

func normalizePolicy(p Policy) Policy {
	d := DefaultPolicy()
	if p.SessionDuration <= 0 {
		p.SessionDuration = d.SessionDuration
	}
	if p.HeartbeatTimeout <= 0 {
		p.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if p.LivenessWindow <= 0 {
		p.LivenessWindow = d.LivenessWindow
	}
	if p.LivenessFailureThreshold <= 0 {
		p.LivenessFailureThreshold = d.LivenessFailureThreshold
	}
	if p.RequiredDevices == nil {
		p.RequiredDevices = d.RequiredDevices
	}
	if p.ConsentPolicyVersion == "" {
		p.ConsentPolicyVersion = d.ConsentPolicyVersion
	}
	if p.MaxEventBatch <= 0 {
		p.MaxEventBatch = d.MaxEventBatch
	}
	return p
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, ErrNotFound) {
		return errSessionNotFound
	}
	return apperr.Internal(err)
}

// loadOwned fetches a session the actor may access.
func (s *Service) loadOwned(ctx context.Context, actor Actor, id string) (*models.ProctoringSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Invalid("sessionId is required")
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !actor.CanAccessUser(sess.UserID) {
		return nil, apperr.Forbidden("you do not have access to this session")
	}
	return sess, nil
}

// mutate checks ownership, then applies fn under the session lock.
func (s *Service) mutate(ctx context.Context, actor Actor, id string, fn Mutator) (*models.ProctoringSession, []models.Violation, error) {
	if _, err := s.loadOwned(ctx, actor, id); err != nil {
		return nil, nil, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.mutateLocked(ctx, id, fn)
}

// mutateLocked expects the caller to hold the session lock.
func (s *Service) mutateLocked(ctx context.Context, id string, fn Mutator) (*models.ProctoringSession, []models.Violation, error) {
	sess, vs, err := s.store.UpdateSession(ctx, id, fn)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	for _, v := range vs {
		label := v.ViolationType
		if !s.penalties.Lookup(v.ViolationType).Known {
			label = "unknown"
		}
		violationsTotal.WithLabelValues(label, v.Severity).Inc()
	}
	return sess, vs, nil
}

// newViolation resolves type, severity and penalty through the table. A
// valid reporter severity wins over the table's.
func (s *Service) newViolation(rawType string, severity penalty.Severity, description string, confidence float64, source string, evidence map[string]any, at time.Time) models.Violation {
	entry := s.penalties.Lookup(rawType)
	sev := entry.Severity
	if severity.Rank() > 0 {
		sev = severity
	}
	if description == "" {
		description = strings.ReplaceAll(entry.Type, "_", " ") + " detected"
	}
	v := models.Violation{
		ViolationType: entry.Type,
		Severity:      string(sev),
		Penalty:       entry.Points,
		Description:   description,
		Confidence:    confidence,
		Source:        source,
		Timestamp:     at,
	}
	if len(evidence) > 0 {
		if raw, err := json.Marshal(evidence); err == nil {
			v.Evidence = raw
		}
	}
	return v
}

func (s *Service) notify(ctx context.Context, event string, sess *models.ProctoringSession, reason string) {
	s.notifier.Notify(ctx, SessionUpdate{
		Event:            event,
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		Status:           sess.Status,
		Reason:           reason,
		LivenessRequired: sess.LivenessRequired,
		TotalViolations:  sess.TotalViolations,
		TotalPenalty:     sess.TotalPenalty,
		At:               s.clock.Now(),
	})
}

func (s *Service) sessionEvent(t events.EventType, sess *models.ProctoringSession) *events.SessionEvent {
	ev := events.NewSessionEvent(t, s.clock.Now())
	ev.SessionID = sess.ID
	ev.UserID = sess.UserID
	ev.ChallengeID = sess.ChallengeID
	ev.Status = sess.Status
	ev.TotalViolations = sess.TotalViolations
	ev.TotalPenalty = sess.TotalPenalty
	ev.IntegrityScore = trust.IntegrityScore(sess.TotalPenalty)
	ev.TotalPausedSeconds = sess.TotalPausedSeconds
	if sess.SubmissionID != nil {
		ev.SubmissionID = *sess.SubmissionID
	}
	return ev
}

// ConsentInput is the candidate's acknowledgement of the monitoring notice.
type ConsentInput struct {
	Accepted      bool
	PolicyVersion string
	NoticeLocale  string
	Scope         []string
}

type StartInput struct {
	ChallengeID string
	Consent     *ConsentInput
	ClientIP    string
	UserAgent   string
}

type StartResult struct {
	SessionID       string    `json:"sessionId"`
	DeadlineAt      time.Time `json:"deadline_at"`
	DurationSeconds int       `json:"duration_seconds"`
	RequiredDevices []string  `json:"required_devices"`
	PolicyVersion   string    `json:"policy_version"`
}

// StartSession validates consent against the effective policy and opens a
// new active session.
func (s *Service) StartSession(ctx context.Context, actor Actor, in StartInput) (*StartResult, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.StartSession", traces.UserID(actor.UserID))
	defer span.End()

	challengeID := strings.TrimSpace(in.ChallengeID)
	if challengeID == "" {
		return nil, apperr.Invalid("challengeId is required")
	}
	if actor.UserID == "" {
		return nil, apperr.New(apperr.KindUnauthorized, apperr.CodeUnauthorized, "authentication required")
	}
	exists, err := s.catalog.ChallengeExists(ctx, challengeID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("challenge lookup: %w", err))
	}
	if !exists {
		return nil, apperr.NotFound(apperr.CodeChallengeNotFound, "challenge not found")
	}

	eff, err := s.effective(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if eff.ConsentRequired {
		if in.Consent == nil || !in.Consent.Accepted {
			return nil, apperr.New(apperr.KindInvalid, apperr.CodeConsentRequired, "consent to proctoring is required")
		}
		if strings.TrimSpace(in.Consent.PolicyVersion) != s.policy.ConsentPolicyVersion {
			return nil, apperr.Conflict(apperr.CodeConsentVersionMismatch,
				fmt.Sprintf("consent policy version mismatch: current version is %s", s.policy.ConsentPolicyVersion))
		}
	}

	now := s.clock.Now()
	duration := time.Duration(eff.SessionDurationMinutes) * time.Minute
	sess := &models.ProctoringSession{
		ID:              uuid.NewString(),
		UserID:          actor.UserID,
		ChallengeID:     challengeID,
		Status:          models.SessionActive,
		StartTime:       now,
		DeadlineAt:      now.Add(duration),
		DurationSeconds: int(duration / time.Second),
		RequiredDevices: append([]string(nil), eff.RequiredDevices...),
		IPHash:          utils.HashIP(s.policy.IPHashSalt, in.ClientIP),
		UserAgent:       in.UserAgent,
		WindowFocused:   true,
	}
	if c := in.Consent; c != nil && c.Accepted {
		accepted := now
		sess.ConsentPolicyVersion = strings.TrimSpace(c.PolicyVersion)
		sess.ConsentAcceptedAt = &accepted
		sess.ConsentNoticeLocale = c.NoticeLocale
		sess.ConsentScope = append([]string(nil), c.Scope...)
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, apperr.Internal(err)
	}

	sessionsStarted.Inc()
	logging.L(ctx).Info("proctoring session started",
		"session_id", sess.ID, "user_id", sess.UserID, "challenge_id", challengeID)
	s.notify(ctx, UpdateStarted, sess, "")
	if s.publisher != nil {
		if err := s.publisher.PublishSessionStarted(ctx, s.sessionEvent(events.EventTypeSessionStarted, sess)); err != nil {
			logging.L(ctx).Warn("failed to publish session.started", "session_id", sess.ID, "error", err)
		}
	}

	return &StartResult{
		SessionID:       sess.ID,
		DeadlineAt:      sess.DeadlineAt,
		DurationSeconds: sess.DurationSeconds,
		RequiredDevices: eff.RequiredDevices,
		PolicyVersion:   s.policy.ConsentPolicyVersion,
	}, nil
}

// EndSession completes a session. Ending a completed session succeeds
// without changing it.
func (s *Service) EndSession(ctx context.Context, actor Actor, id, submissionID string) (*models.ProctoringSession, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.EndSession", traces.SessionID(id))
	defer span.End()

	now := s.clock.Now()
	var ended bool
	sess, _, err := s.mutate(ctx, actor, id, func(row *models.ProctoringSession) ([]models.Violation, error) {
		ended = complete(row, strings.TrimSpace(submissionID), now)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if !ended {
		return sess, nil
	}

	sessionsEnded.Inc()
	logging.L(ctx).Info("proctoring session ended",
		"session_id", sess.ID, "total_violations", sess.TotalViolations, "total_penalty", sess.TotalPenalty)
	s.notify(ctx, UpdateCompleted, sess, "")

	if s.trust != nil {
		if _, err := s.trust.Recompute(ctx, sess.UserID); err != nil {
			logging.L(ctx).Error("trust recompute after session end failed", "user_id", sess.UserID, "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishSessionEnded(ctx, s.sessionEvent(events.EventTypeSessionEnded, sess)); err != nil {
			logging.L(ctx).Warn("failed to publish session.ended", "session_id", sess.ID, "error", err)
		}
	}
	return sess, nil
}

// PauseSession is an explicit pause. It overrides any automatic pause, so
// only an explicit resume can lift it.
func (s *Service) PauseSession(ctx context.Context, actor Actor, id, reason string) (*models.ProctoringSession, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.PauseSession", traces.SessionID(id))
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Paused by user"
	}
	now := s.clock.Now()
	var entered bool
	sess, _, err := s.mutate(ctx, actor, id, func(row *models.ProctoringSession) ([]models.Violation, error) {
		var err error
		entered, err = pause(row, reason, PauseManual, now)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	if entered {
		pausesTotal.WithLabelValues(string(PauseManual)).Inc()
	}
	s.notify(ctx, UpdatePaused, sess, reason)
	return sess, nil
}

// ResumeSession lifts a pause once the latest heartbeat is fresh, shows
// every required device ready and no liveness check is outstanding.
func (s *Service) ResumeSession(ctx context.Context, actor Actor, id string) (*models.ProctoringSession, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.ResumeSession", traces.SessionID(id))
	defer span.End()

	eff, err := s.effectiveForSession(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sess, _, err := s.mutate(ctx, actor, id, func(row *models.ProctoringSession) ([]models.Violation, error) {
		switch StateOf(row).(type) {
		case Completed:
			return nil, errSessionCompleted
		case Active:
			return nil, errSessionNotPaused
		}
		if err := resumeBlocker(row, eff.heartbeatTimeout(), now); err != nil {
			return nil, err
		}
		return nil, resume(row, now)
	})
	if err != nil {
		return nil, err
	}
	resumesTotal.WithLabelValues("manual").Inc()
	s.notify(ctx, UpdateResumed, sess, "")
	return sess, nil
}

// resumeBlocker explains why row may not leave Paused yet, or returns nil.
func resumeBlocker(row *models.ProctoringSession, timeout time.Duration, now time.Time) error {
	if row.HeartbeatAt == nil {
		return apperr.Conflict(apperr.CodeLivenessRequired, "a device heartbeat is required before resuming")
	}
	if timeout > 0 && now.Sub(*row.HeartbeatAt) > timeout {
		return apperr.Conflict(apperr.CodeLivenessRequired, "latest heartbeat is stale; send a fresh heartbeat before resuming")
	}
	if missing := missingDevices(row); len(missing) > 0 {
		return apperr.Conflict(apperr.CodeLivenessRequired,
			"required devices not ready: "+strings.Join(missing, ", "))
	}
	if row.LivenessRequired {
		return apperr.Conflict(apperr.CodeLivenessRequired, "liveness check required before resuming")
	}
	return nil
}

// GetSession is a pure read.
func (s *Service) GetSession(ctx context.Context, actor Actor, id string) (*SessionView, error) {
	sess, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	v := NewSessionView(sess, s.clock.Now())
	return &v, nil
}

// GetStatus reads the session and, if its heartbeat has gone stale, records
// the timeout first.
func (s *Service) GetStatus(ctx context.Context, actor Actor, id string) (*StatusView, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.GetStatus", traces.SessionID(id))
	defer span.End()

	sess, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	eff, err := s.effective(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if isStale(sess, eff.heartbeatTimeout(), now) {
		var timedOut bool
		sess, _, err = s.mutate(ctx, actor, id, func(row *models.ProctoringSession) ([]models.Violation, error) {
			var vs []models.Violation
			vs, timedOut = s.checkStale(row, eff.heartbeatTimeout(), now)
			return vs, nil
		})
		if err != nil {
			return nil, err
		}
		if timedOut {
			s.afterTimeout(ctx, sess)
		}
	}
	return newStatusView(sess, eff.heartbeatTimeout(), now), nil
}
