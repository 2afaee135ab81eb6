package proctoring

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/logging"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/penalty"
	"github.com/zaqqye/proctoring_backend/internal/traces"
)

// ViolationInput is a violation reported by the client monitor.
type ViolationInput struct {
	Type        string
	Severity    string
	Description string
	Confidence  *float64
	Evidence    map[string]any
	Timestamp   *time.Time
}

// Detection is one finding from an ML analyzer.
type Detection struct {
	Type        string
	Confidence  float64
	Description string
}

type ViolationResult struct {
	Violations      []models.Violation `json:"violations"`
	TotalViolations int                `json:"total_violations"`
	TotalPenalty    int                `json:"total_penalty"`
	IntegrityScore  float64            `json:"integrity_score"`
}

func (s *Service) buildViolation(in ViolationInput, source string, now time.Time) (models.Violation, error) {
	if strings.TrimSpace(in.Type) == "" {
		return models.Violation{}, apperr.Invalid("violation type is required")
	}
	var sev penalty.Severity
	if strings.TrimSpace(in.Severity) != "" {
		parsed, err := penalty.ParseSeverity(in.Severity)
		if err != nil {
			return models.Violation{}, apperr.Invalid("severity must be low, medium or high")
		}
		sev = parsed
	}
	confidence := 1.0
	if in.Confidence != nil {
		if *in.Confidence < 0 || *in.Confidence > 1 {
			return models.Violation{}, apperr.Invalid("confidence must be between 0 and 1")
		}
		confidence = *in.Confidence
	}
	return s.newViolation(in.Type, sev, strings.TrimSpace(in.Description), confidence, source, in.Evidence, eventTime(in.Timestamp, now)), nil
}

// eventTime trusts a client timestamp unless it is missing or in the future.
func eventTime(ts *time.Time, now time.Time) time.Time {
	if ts == nil || ts.IsZero() || ts.After(now) {
		return now
	}
	return ts.UTC()
}

// LogViolation appends one violation.
func (s *Service) LogViolation(ctx context.Context, actor Actor, id string, in ViolationInput) (*ViolationResult, error) {
	return s.LogMultipleViolations(ctx, actor, id, []ViolationInput{in})
}

// LogMultipleViolations validates every input, then appends them all in one
// unit of work. A single invalid entry rejects the request.
func (s *Service) LogMultipleViolations(ctx context.Context, actor Actor, id string, in []ViolationInput) (*ViolationResult, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.LogViolations", traces.SessionID(id), traces.BatchSize(len(in)))
	defer span.End()

	if len(in) == 0 {
		return nil, apperr.Invalid("at least one violation is required")
	}
	if len(in) > s.policy.MaxEventBatch {
		return nil, apperr.Invalid("too many violations in one request")
	}
	now := s.clock.Now()
	built := make([]models.Violation, 0, len(in))
	for _, v := range in {
		vv, err := s.buildViolation(v, SourceClient, now)
		if err != nil {
			return nil, err
		}
		built = append(built, vv)
	}
	return s.appendViolations(ctx, actor, id, built)
}

// RecordDetections turns ML findings into ledger entries.
func (s *Service) RecordDetections(ctx context.Context, actor Actor, id string, detections []Detection, evidence map[string]any) (*ViolationResult, error) {
	if len(detections) == 0 {
		return nil, nil
	}
	ctx, span := traces.StartSpan(ctx, "proctoring.RecordDetections", traces.SessionID(id), traces.BatchSize(len(detections)))
	defer span.End()

	now := s.clock.Now()
	built := make([]models.Violation, 0, len(detections))
	for _, d := range detections {
		if strings.TrimSpace(d.Type) == "" {
			continue
		}
		conf := d.Confidence
		if conf < 0 || conf > 1 {
			conf = 0
		}
		built = append(built, s.newViolation(d.Type, "", d.Description, conf, SourceML, evidence, now))
	}
	if len(built) == 0 {
		return nil, nil
	}
	return s.appendViolations(ctx, actor, id, built)
}

func (s *Service) appendViolations(ctx context.Context, actor Actor, id string, built []models.Violation) (*ViolationResult, error) {
	sess, vs, err := s.mutate(ctx, actor, id, func(row *models.ProctoringSession) ([]models.Violation, error) {
		if row.Status == models.SessionCompleted {
			return nil, errSessionCompleted
		}
		out := make([]models.Violation, len(built))
		copy(out, built)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	for _, v := range vs {
		logging.L(ctx).Info("violation recorded", "session_id", sess.ID,
			"type", v.ViolationType, "severity", v.Severity, "penalty", v.Penalty, "source", v.Source)
	}
	s.notify(ctx, UpdateViolation, sess, vs[len(vs)-1].ViolationType)
	return &ViolationResult{
		Violations:      vs,
		TotalViolations: sess.TotalViolations,
		TotalPenalty:    sess.TotalPenalty,
		IntegrityScore:  integrity(sess.TotalPenalty),
	}, nil
}

// ViolationSummary aggregates a user's ledger across sessions.
type ViolationSummary struct {
	UserID          string         `json:"user_id"`
	TotalSessions   int            `json:"total_sessions"`
	TotalViolations int            `json:"total_violations"`
	TotalPenalty    int            `json:"total_penalty"`
	ByType          map[string]int `json:"by_type"`
	BySeverity      map[string]int `json:"by_severity"`
	LastViolationAt *time.Time     `json:"last_violation_at"`
}

func (s *Service) GetUserViolationSummary(ctx context.Context, actor Actor, userID string) (*ViolationSummary, error) {
	if !actor.CanAccessUser(userID) {
		return nil, apperr.Forbidden("you may only view your own violations")
	}
	sessions, err := s.store.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	vs, err := s.store.ListViolationsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	sum := &ViolationSummary{
		UserID:        userID,
		TotalSessions: len(sessions),
		ByType:        map[string]int{},
		BySeverity:    map[string]int{},
	}
	for _, v := range vs {
		sum.TotalViolations++
		sum.TotalPenalty += v.Penalty
		sum.ByType[v.ViolationType]++
		sum.BySeverity[v.Severity]++
		if sum.LastViolationAt == nil || v.Timestamp.After(*sum.LastViolationAt) {
			ts := v.Timestamp
			sum.LastViolationAt = &ts
		}
	}
	return sum, nil
}

// ListUserSessions returns a user's sessions, newest first.
func (s *Service) ListUserSessions(ctx context.Context, actor Actor, userID string) ([]SessionView, error) {
	if !actor.CanAccessUser(userID) {
		return nil, apperr.Forbidden("you may only view your own sessions")
	}
	sessions, err := s.store.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	now := s.clock.Now()
	out := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		out = append(out, NewSessionView(&sessions[i], now))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}
