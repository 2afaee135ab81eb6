package proctoring

import (
	"context"
	"sort"
	"time"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/penalty"
)

type TimelineBucket struct {
	Minute  time.Time `json:"minute"`
	Offset  int       `json:"offset_minutes"`
	Count   int       `json:"count"`
	Penalty int       `json:"penalty"`
}

type Analytics struct {
	SessionID            string           `json:"session_id"`
	Status               string           `json:"status"`
	TotalViolations      int              `json:"total_violations"`
	TotalPenalty         int              `json:"total_penalty"`
	IntegrityScore       float64          `json:"integrity_score"`
	SeverityDistribution map[string]int   `json:"severity_distribution"`
	ViolationsByType     map[string]int   `json:"violations_by_type"`
	Timeline             []TimelineBucket `json:"timeline"`
	PeakMinute           *time.Time       `json:"peak_violation_time"`
	PeakCount            int              `json:"peak_violation_count"`
	PauseCount           int              `json:"pause_count"`
	TotalPausedSeconds   int64            `json:"total_paused_seconds"`
	SnapshotCount        int              `json:"snapshot_count"`
	ElapsedSeconds       int64            `json:"elapsed_seconds"`
}

// GetSessionAnalytics projects the ledger; it never writes.
func (s *Service) GetSessionAnalytics(ctx context.Context, actor Actor, id string) (*Analytics, error) {
	sess, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	vs, err := s.store.ListViolations(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	snaps, err := s.store.ListSnapshots(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	a := &Analytics{
		SessionID:            sess.ID,
		Status:               sess.Status,
		TotalViolations:      sess.TotalViolations,
		TotalPenalty:         sess.TotalPenalty,
		IntegrityScore:       integrity(sess.TotalPenalty),
		SeverityDistribution: map[string]int{"low": 0, "medium": 0, "high": 0},
		ViolationsByType:     map[string]int{},
		Timeline:             []TimelineBucket{},
		PauseCount:           sess.PauseCount,
		TotalPausedSeconds:   sess.TotalPausedSeconds,
		SnapshotCount:        len(snaps),
	}
	end := s.clock.Now()
	if sess.EndTime != nil {
		end = *sess.EndTime
	}
	if d := end.Sub(sess.StartTime); d > 0 {
		a.ElapsedSeconds = int64(d / time.Second)
	}

	buckets := map[time.Time]*TimelineBucket{}
	startMinute := sess.StartTime.Truncate(time.Minute)
	for _, v := range vs {
		a.SeverityDistribution[v.Severity]++
		a.ViolationsByType[v.ViolationType]++
		m := v.Timestamp.UTC().Truncate(time.Minute)
		b, ok := buckets[m]
		if !ok {
			b = &TimelineBucket{Minute: m, Offset: int(m.Sub(startMinute) / time.Minute)}
			buckets[m] = b
		}
		b.Count++
		b.Penalty += v.Penalty
	}
	for _, b := range buckets {
		a.Timeline = append(a.Timeline, *b)
	}
	sort.Slice(a.Timeline, func(i, j int) bool { return a.Timeline[i].Minute.Before(a.Timeline[j].Minute) })
	for i := range a.Timeline {
		if a.Timeline[i].Count > a.PeakCount {
			a.PeakCount = a.Timeline[i].Count
			m := a.Timeline[i].Minute
			a.PeakMinute = &m
		}
	}
	return a, nil
}

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

type Risk struct {
	SessionID         string   `json:"session_id"`
	Status            string   `json:"status"`
	IntegrityScore    float64  `json:"integrity_score"`
	RiskLevel         string   `json:"risk_level"`
	TotalViolations   int      `json:"total_violations"`
	TotalPenalty      int      `json:"total_penalty"`
	HighSeverityCount int      `json:"high_severity_count"`
	Flags             []string `json:"flags"`
}

// Risk flags.
const (
	FlagMultiplePeople     = "multiple_people"
	FlagRepeatedTabSwitch  = "repeated_tab_switching"
	FlagLivenessFailures   = "liveness_failures"
	FlagDeviceInterruption = "device_interruptions"
	FlagHeartbeatGaps      = "heartbeat_gaps"
	FlagAssistanceSuspect  = "possible_assistance"
)

// GetSessionRisk grades the session from its ledger; it never writes.
func (s *Service) GetSessionRisk(ctx context.Context, actor Actor, id string) (*Risk, error) {
	sess, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	vs, err := s.store.ListViolations(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	byType := map[string]int{}
	high := 0
	for _, v := range vs {
		byType[v.ViolationType]++
		if v.Severity == string(penalty.SeverityHigh) {
			high++
		}
	}
	score := integrity(sess.TotalPenalty)
	r := &Risk{
		SessionID:         sess.ID,
		Status:            sess.Status,
		IntegrityScore:    score,
		RiskLevel:         riskLevel(score),
		TotalViolations:   sess.TotalViolations,
		TotalPenalty:      sess.TotalPenalty,
		HighSeverityCount: high,
		Flags:             riskFlags(sess, byType),
	}
	return r, nil
}

func riskLevel(integrity float64) string {
	switch {
	case integrity >= 75:
		return RiskLow
	case integrity >= 50:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func riskFlags(sess *models.ProctoringSession, byType map[string]int) []string {
	flags := []string{}
	if byType["multiple_faces"] > 0 || byType["multiple_voices"] > 0 {
		flags = append(flags, FlagMultiplePeople)
	}
	if byType["tab_switch"] >= 3 {
		flags = append(flags, FlagRepeatedTabSwitch)
	}
	if byType["liveness_failed"] > 0 {
		flags = append(flags, FlagLivenessFailures)
	}
	if sess.PauseCount >= 3 {
		flags = append(flags, FlagDeviceInterruption)
	}
	if byType["heartbeat_timeout"] > 0 {
		flags = append(flags, FlagHeartbeatGaps)
	}
	if byType["suspicious_conversation"] > 0 || byType["forbidden_object"] > 0 || byType["multiple_screens"] > 0 {
		flags = append(flags, FlagAssistanceSuspect)
	}
	return flags
}
