package proctoring

import (
	"time"

	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/trust"
)

type DeviceState struct {
	CameraReady     bool `json:"cameraReady"`
	MicrophoneReady bool `json:"microphoneReady"`
	AudioReady      bool `json:"audioReady"`
	WindowFocused   bool `json:"windowFocused"`
	IsPaused        bool `json:"isPaused"`
}

type ConsentView struct {
	PolicyVersion string     `json:"policy_version,omitempty"`
	AcceptedAt    *time.Time `json:"accepted_at"`
	NoticeLocale  string     `json:"notice_locale,omitempty"`
	Scope         []string   `json:"scope"`
}

// SessionView is the client-facing projection of a session row.
type SessionView struct {
	SessionID          string      `json:"session_id"`
	UserID             string      `json:"user_id"`
	ChallengeID        string      `json:"challenge_id"`
	Status             string      `json:"status"`
	PauseReason        *string     `json:"pause_reason"`
	PauseSource        string      `json:"pause_source,omitempty"`
	StartTime          time.Time   `json:"start_time"`
	DeadlineAt         time.Time   `json:"deadline_at"`
	EndTime            *time.Time  `json:"end_time"`
	DurationSeconds    int         `json:"duration_seconds"`
	RemainingSeconds   int64       `json:"remaining_seconds"`
	PauseCount         int         `json:"pause_count"`
	TotalPausedSeconds int64       `json:"total_paused_seconds"`
	TotalViolations    int         `json:"total_violations"`
	TotalPenalty       int         `json:"total_penalty"`
	IntegrityScore     float64     `json:"integrity_score"`
	SubmissionID       *string     `json:"submission_id"`
	RequiredDevices    []string    `json:"required_devices"`
	Devices            DeviceState `json:"devices"`
	HeartbeatAt        *time.Time  `json:"heartbeat_at"`
	LivenessRequired   bool        `json:"liveness_required"`
	LivenessVerifiedAt *time.Time  `json:"liveness_verified_at"`
	Consent            ConsentView `json:"consent"`
}

func NewSessionView(s *models.ProctoringSession, now time.Time) SessionView {
	remaining := int64(0)
	if s.Status != models.SessionCompleted && now.Before(s.DeadlineAt) {
		remaining = int64(s.DeadlineAt.Sub(now) / time.Second)
	}
	return SessionView{
		SessionID:          s.ID,
		UserID:             s.UserID,
		ChallengeID:        s.ChallengeID,
		Status:             s.Status,
		PauseReason:        s.PauseReason,
		PauseSource:        s.PauseSource,
		StartTime:          s.StartTime,
		DeadlineAt:         s.DeadlineAt,
		EndTime:            s.EndTime,
		DurationSeconds:    s.DurationSeconds,
		RemainingSeconds:   remaining,
		PauseCount:         s.PauseCount,
		TotalPausedSeconds: s.TotalPausedSeconds,
		TotalViolations:    s.TotalViolations,
		TotalPenalty:       s.TotalPenalty,
		IntegrityScore:     integrity(s.TotalPenalty),
		SubmissionID:       s.SubmissionID,
		RequiredDevices:    append([]string{}, s.RequiredDevices...),
		Devices: DeviceState{
			CameraReady:     s.CameraReady,
			MicrophoneReady: s.MicrophoneReady,
			AudioReady:      s.AudioReady,
			WindowFocused:   s.WindowFocused,
			IsPaused:        s.ClientPaused,
		},
		HeartbeatAt:        s.HeartbeatAt,
		LivenessRequired:   s.LivenessRequired,
		LivenessVerifiedAt: s.LivenessVerifiedAt,
		Consent: ConsentView{
			PolicyVersion: s.ConsentPolicyVersion,
			AcceptedAt:    s.ConsentAcceptedAt,
			NoticeLocale:  s.ConsentNoticeLocale,
			Scope:         append([]string{}, s.ConsentScope...),
		},
	}
}

// StatusView adds heartbeat health to SessionView.
type StatusView struct {
	SessionView
	MissingDevices      []string `json:"missing_devices"`
	HeartbeatAgeSeconds *int64   `json:"heartbeat_age_seconds"`
	HeartbeatStale      bool     `json:"heartbeat_stale"`
	CanResume           bool     `json:"can_resume"`
}

func newStatusView(s *models.ProctoringSession, timeout time.Duration, now time.Time) *StatusView {
	v := &StatusView{SessionView: NewSessionView(s, now), MissingDevices: []string{}}
	if s.HeartbeatAt != nil {
		age := int64(now.Sub(*s.HeartbeatAt) / time.Second)
		v.HeartbeatAgeSeconds = &age
		v.MissingDevices = append(v.MissingDevices, missingDevices(s)...)
	} else {
		v.MissingDevices = append(v.MissingDevices, s.RequiredDevices...)
	}
	v.HeartbeatStale = s.HeartbeatTimeout != nil || (s.Status != models.SessionCompleted && now.Sub(lastSignOfLife(s)) > timeout)
	v.CanResume = s.Status == models.SessionPaused && resumeBlocker(s, timeout, now) == nil
	return v
}

func integrity(totalPenalty int) float64 {
	return trust.IntegrityScore(totalPenalty)
}

// View projects sess at the service clock's current time.
func (s *Service) View(sess *models.ProctoringSession) SessionView {
	return NewSessionView(sess, s.clock.Now())
}
