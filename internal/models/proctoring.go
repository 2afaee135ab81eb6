package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session status column values.
const (
	SessionActive    = "active"
	SessionPaused    = "paused"
	SessionCompleted = "completed"
)

// ProctoringSession is one proctored exam attempt. The engine keeps the
// pause fields consistent with Status; nothing else should write them.
type ProctoringSession struct {
	ID              string `gorm:"primaryKey;size:36"`
	UserID          string `gorm:"size:64;index"`
	ChallengeID     string `gorm:"size:64;index"`
	Status          string `gorm:"size:16;index"`
	StartTime       time.Time
	DeadlineAt      time.Time
	DurationSeconds int
	EndTime         *time.Time

	PauseReason        *string `gorm:"type:text"`
	PauseSource        string  `gorm:"size:32"`
	PausedAt           *time.Time
	PauseCount         int
	TotalPausedSeconds int64

	// Consent, written once at start.
	ConsentPolicyVersion string `gorm:"size:32"`
	ConsentAcceptedAt    *time.Time
	ConsentNoticeLocale  string                      `gorm:"size:16"`
	ConsentScope         datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	IPHash               string                      `gorm:"size:64"`
	UserAgent            string                      `gorm:"type:text"`

	TotalViolations int
	TotalPenalty    int
	SubmissionID    *string `gorm:"size:64"`

	RequiredDevices  datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CameraReady      bool
	MicrophoneReady  bool
	AudioReady       bool
	WindowFocused    bool
	ClientPaused     bool
	HeartbeatAt      *time.Time
	HeartbeatTimeout *time.Time

	LivenessRequired   bool
	LivenessVerifiedAt *time.Time
	LivenessFailures   int

	// Highest event sequence accepted; nil until the first sequenced event.
	LastEventSeq *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *ProctoringSession) Clone() *ProctoringSession {
	if s == nil {
		return nil
	}
	c := *s
	c.EndTime = cloneTime(s.EndTime)
	c.PausedAt = cloneTime(s.PausedAt)
	c.ConsentAcceptedAt = cloneTime(s.ConsentAcceptedAt)
	c.HeartbeatAt = cloneTime(s.HeartbeatAt)
	c.HeartbeatTimeout = cloneTime(s.HeartbeatTimeout)
	c.LivenessVerifiedAt = cloneTime(s.LivenessVerifiedAt)
	if s.PauseReason != nil {
		r := *s.PauseReason
		c.PauseReason = &r
	}
	if s.SubmissionID != nil {
		id := *s.SubmissionID
		c.SubmissionID = &id
	}
	if s.LastEventSeq != nil {
		seq := *s.LastEventSeq
		c.LastEventSeq = &seq
	}
	c.ConsentScope = append(datatypes.JSONSlice[string](nil), s.ConsentScope...)
	c.RequiredDevices = append(datatypes.JSONSlice[string](nil), s.RequiredDevices...)
	return &c
}

// DeviceReady reports the last heartbeat's readiness for a device name.
func (s *ProctoringSession) DeviceReady(device string) bool {
	switch device {
	case "camera":
		return s.CameraReady
	case "microphone":
		return s.MicrophoneReady
	case "audio":
		return s.AudioReady
	case "window", "window_focus":
		return s.WindowFocused
	}
	return false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Violation is immutable once written. Penalty is resolved at insert time.
type Violation struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	SessionID     string         `gorm:"size:36;index" json:"session_id"`
	UserID        string         `gorm:"size:64;index" json:"user_id"`
	ViolationType string         `gorm:"size:64;index" json:"violation_type"`
	Severity      string         `gorm:"size:16" json:"severity"`
	Penalty       int            `json:"penalty"`
	Description   string         `gorm:"type:text" json:"description"`
	Confidence    float64        `json:"confidence"`
	Source        string         `gorm:"size:16" json:"source"`
	Timestamp     time.Time      `gorm:"index" json:"timestamp"`
	Evidence      datatypes.JSON `json:"evidence,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// LivenessChallenge is the single outstanding challenge for a session.
type LivenessChallenge struct {
	SessionID      string `gorm:"primaryKey;size:36"`
	ID             string `gorm:"size:36;uniqueIndex"`
	ExpectedAction string `gorm:"size:32"`
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// SessionSnapshot records metadata of an uploaded webcam frame. Image bytes
// are not retained.
type SessionSnapshot struct {
	ID         string `gorm:"primaryKey;size:36"`
	SessionID  string `gorm:"size:36;index"`
	UserID     string `gorm:"size:64;index"`
	SHA256     string `gorm:"size:64"`
	SizeBytes  int
	MimeType   string `gorm:"size:32"`
	FaceCount  *int
	Degraded   bool
	CapturedAt time.Time
	CreatedAt  time.Time
}
