package proctoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zaqqye/proctoring_backend/internal/logging"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/traces"
)

// Heartbeat is one device readiness report from the client.
type Heartbeat struct {
	CameraReady     bool
	MicrophoneReady bool
	AudioReady      bool
	IsPaused        bool
	WindowFocused   bool
	Timestamp       *time.Time
}

type HeartbeatResult struct {
	SessionID        string   `json:"session_id"`
	Status           string   `json:"status"`
	PauseReason      *string  `json:"pause_reason"`
	PauseSource      string   `json:"pause_source,omitempty"`
	MissingDevices   []string `json:"missing_devices"`
	AutoPaused       bool     `json:"auto_paused"`
	AutoResumed      bool     `json:"auto_resumed"`
	HeartbeatTimeout bool     `json:"heartbeat_timeout"`
	LivenessRequired bool     `json:"liveness_required"`
	ViolationsLogged int      `json:"violations_logged"`
}

// RecordHeartbeat stores the latest device snapshot and drives automatic
// pause and resume. Missing required devices pause the session; a later
// heartbeat with every device ready lifts a device or timeout pause, never a
// manual one.
func (s *Service) RecordHeartbeat(ctx context.Context, actor Actor, id string, hb Heartbeat) (*HeartbeatResult, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.RecordHeartbeat", traces.SessionID(id))
	defer span.End()

	eff, err := s.effectiveForSession(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	timeout := eff.heartbeatTimeout()
	now := s.clock.Now()

	var res HeartbeatResult
	sess, vs, err := s.mutate(ctx, actor, id, func(row *models.ProctoringSession) ([]models.Violation, error) {
		res = HeartbeatResult{}
		if row.Status == models.SessionCompleted {
			return nil, errSessionCompleted
		}
		vs, timedOut := s.checkStale(row, timeout, now)
		res.HeartbeatTimeout = timedOut

		row.CameraReady = hb.CameraReady
		row.MicrophoneReady = hb.MicrophoneReady
		row.AudioReady = hb.AudioReady
		row.WindowFocused = hb.WindowFocused
		row.ClientPaused = hb.IsPaused
		received := now
		row.HeartbeatAt = &received
		row.HeartbeatTimeout = nil

		missing := missingDevices(row)
		res.MissingDevices = missing

		switch st := StateOf(row).(type) {
		case Active:
			if len(missing) > 0 {
				if _, err := pause(row, devicesReason(missing), PauseDevices, now); err != nil {
					return nil, err
				}
				res.AutoPaused = true
				for _, d := range missing {
					vs = append(vs, s.newViolation(d+"_disabled", "", d+" became unavailable during the session",
						1.0, SourceSystem, map[string]any{"device": d}, now))
				}
			}
		case Paused:
			switch {
			case len(missing) > 0:
				if st.Source == PauseDevices {
					if _, err := pause(row, devicesReason(missing), PauseDevices, now); err != nil {
						return nil, err
					}
				}
			case st.Source != PauseManual && !row.LivenessRequired:
				if err := resume(row, now); err != nil {
					return nil, err
				}
				res.AutoResumed = true
			}
		}
		return vs, nil
	})
	if err != nil {
		return nil, err
	}

	res.SessionID = sess.ID
	res.Status = sess.Status
	res.PauseReason = sess.PauseReason
	res.PauseSource = sess.PauseSource
	res.LivenessRequired = sess.LivenessRequired
	res.ViolationsLogged = len(vs)
	if res.MissingDevices == nil {
		res.MissingDevices = []string{}
	}

	if hb.Timestamp != nil {
		logging.L(ctx).Debug("heartbeat received", "session_id", sess.ID, "clock_skew_ms", now.Sub(*hb.Timestamp).Milliseconds())
	}
	if res.HeartbeatTimeout {
		s.afterTimeout(ctx, sess)
	}
	switch {
	case res.AutoPaused:
		pausesTotal.WithLabelValues(string(PauseDevices)).Inc()
		logging.L(ctx).Info("session auto-paused", "session_id", sess.ID, "missing_devices", res.MissingDevices)
		s.notify(ctx, UpdatePaused, sess, *sess.PauseReason)
	case res.AutoResumed:
		resumesTotal.WithLabelValues("heartbeat").Inc()
		logging.L(ctx).Info("session auto-resumed", "session_id", sess.ID)
		s.notify(ctx, UpdateResumed, sess, "")
	}
	return &res, nil
}

// checkStale records a heartbeat_timeout once per silence. The last sign of
// life is the latest heartbeat, or the session start before the first one.
// Any active session is paused and a liveness check becomes mandatory.
func (s *Service) checkStale(row *models.ProctoringSession, timeout time.Duration, now time.Time) ([]models.Violation, bool) {
	if !isStale(row, timeout, now) {
		return nil, false
	}
	last := lastSignOfLife(row)
	age := now.Sub(last)
	marked := now
	row.HeartbeatTimeout = &marked
	row.LivenessRequired = true

	if row.Status == models.SessionActive {
		reason := fmt.Sprintf("heartbeat timeout: no heartbeat for %ds", int(age/time.Second))
		// Active → paused cannot fail.
		_, _ = pause(row, reason, PauseHeartbeatTimeout, now)
	}
	v := s.newViolation("heartbeat_timeout", "",
		fmt.Sprintf("no heartbeat received for %d seconds", int(age/time.Second)),
		1.0, SourceSystem, map[string]any{
			"last_heartbeat_at": last.Format(time.RFC3339),
			"age_seconds":       int(age / time.Second),
			"timeout_seconds":   int(timeout / time.Second),
		}, now)
	return []models.Violation{v}, true
}

func (s *Service) afterTimeout(ctx context.Context, sess *models.ProctoringSession) {
	if sess.PauseSource == string(PauseHeartbeatTimeout) {
		pausesTotal.WithLabelValues(string(PauseHeartbeatTimeout)).Inc()
	}
	logging.L(ctx).Warn("heartbeat timeout recorded", "session_id", sess.ID)
	s.notify(ctx, UpdateLivenessRequired, sess, "heartbeat timeout")
}

func isStale(row *models.ProctoringSession, timeout time.Duration, now time.Time) bool {
	if timeout <= 0 || row.Status == models.SessionCompleted || row.HeartbeatTimeout != nil {
		return false
	}
	return now.Sub(lastSignOfLife(row)) > timeout
}

func lastSignOfLife(row *models.ProctoringSession) time.Time {
	if row.HeartbeatAt != nil {
		return *row.HeartbeatAt
	}
	return row.StartTime
}

// missingDevices lists required devices the last heartbeat reported not
// ready, in policy order.
func missingDevices(row *models.ProctoringSession) []string {
	var missing []string
	for _, d := range row.RequiredDevices {
		if !row.DeviceReady(d) {
			missing = append(missing, d)
		}
	}
	return missing
}

func devicesReason(missing []string) string {
	return "devices unavailable: " + strings.Join(missing, ", ")
}
