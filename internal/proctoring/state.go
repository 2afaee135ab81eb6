package proctoring

import (
	"time"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/models"
)

// PauseSource records who paused a session. Only non-manual pauses may be
// lifted by a heartbeat.
type PauseSource string

const (
	PauseManual           PauseSource = "manual"
	PauseDevices          PauseSource = "devices"
	PauseHeartbeatTimeout PauseSource = "heartbeat_timeout"
)

// State is the lifecycle variant of a session. Each variant carries only the
// fields valid for it.
type State interface {
	Status() string
}

type Active struct{}

type Paused struct {
	Reason string
	Source PauseSource
	Since  time.Time
}

type Completed struct {
	EndedAt time.Time
}

func (Active) Status() string    { return models.SessionActive }
func (Paused) Status() string    { return models.SessionPaused }
func (Completed) Status() string { return models.SessionCompleted }

// StateOf reads the variant out of the flat row.
func StateOf(s *models.ProctoringSession) State {
	switch s.Status {
	case models.SessionCompleted:
		ended := s.UpdatedAt
		if s.EndTime != nil {
			ended = *s.EndTime
		}
		return Completed{EndedAt: ended}
	case models.SessionPaused:
		p := Paused{Source: PauseSource(s.PauseSource), Since: s.StartTime}
		if s.PauseReason != nil {
			p.Reason = *s.PauseReason
		}
		if s.PausedAt != nil {
			p.Since = *s.PausedAt
		}
		if p.Source == "" {
			p.Source = PauseManual
		}
		return p
	default:
		return Active{}
	}
}

// setState writes st back onto the row and clears fields the variant does
// not own.
func setState(s *models.ProctoringSession, st State) {
	switch v := st.(type) {
	case Active:
		s.Status = models.SessionActive
		s.PauseReason = nil
		s.PauseSource = ""
		s.PausedAt = nil
	case Paused:
		s.Status = models.SessionPaused
		reason := v.Reason
		since := v.Since
		s.PauseReason = &reason
		s.PauseSource = string(v.Source)
		s.PausedAt = &since
	case Completed:
		s.Status = models.SessionCompleted
		s.PauseReason = nil
		s.PauseSource = ""
		s.PausedAt = nil
		if s.EndTime == nil {
			ended := v.EndedAt
			s.EndTime = &ended
		}
	}
}

var (
	errSessionCompleted = apperr.Conflict(apperr.CodeSessionCompleted, "session is already completed")
	errSessionNotPaused = apperr.Conflict(apperr.CodeSessionNotPaused, "session is not paused")
)

// pause moves s into Paused. entered is true only for active → paused, the
// one transition that counts toward PauseCount.
func pause(s *models.ProctoringSession, reason string, source PauseSource, now time.Time) (entered bool, err error) {
	switch cur := StateOf(s).(type) {
	case Completed:
		return false, errSessionCompleted
	case Paused:
		setState(s, Paused{Reason: reason, Source: source, Since: cur.Since})
		return false, nil
	default:
		setState(s, Paused{Reason: reason, Source: source, Since: now})
		s.PauseCount++
		return true, nil
	}
}

// resume moves s from Paused to Active and banks the paused time.
func resume(s *models.ProctoringSession, now time.Time) error {
	switch cur := StateOf(s).(type) {
	case Completed:
		return errSessionCompleted
	case Active:
		return errSessionNotPaused
	case Paused:
		s.TotalPausedSeconds += pausedSeconds(cur.Since, now)
		setState(s, Active{})
	}
	return nil
}

// complete ends s. It reports false when s was already completed.
func complete(s *models.ProctoringSession, submissionID string, now time.Time) bool {
	switch cur := StateOf(s).(type) {
	case Completed:
		return false
	case Paused:
		s.TotalPausedSeconds += pausedSeconds(cur.Since, now)
	}
	setState(s, Completed{EndedAt: now})
	if submissionID != "" && s.SubmissionID == nil {
		id := submissionID
		s.SubmissionID = &id
	}
	return true
}

func pausedSeconds(since, now time.Time) int64 {
	d := now.Sub(since)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
