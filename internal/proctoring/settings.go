package proctoring

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/logging"
	"github.com/zaqqye/proctoring_backend/internal/models"
)

// Settings is the policy in force for one user.
type Settings struct {
	Scope                   string   `json:"scope"`
	Source                  string   `json:"source"`
	RequiredDevices         []string `json:"required_devices"`
	HeartbeatTimeoutSeconds int      `json:"heartbeat_timeout_seconds"`
	ConsentRequired         bool     `json:"consent_required"`
	ConsentPolicyVersion    string   `json:"consent_policy_version"`
	SessionDurationMinutes  int      `json:"session_duration_minutes"`
	LivenessWindowSeconds   int      `json:"liveness_window_seconds"`
}

func (st Settings) heartbeatTimeout() time.Duration {
	return time.Duration(st.HeartbeatTimeoutSeconds) * time.Second
}

// Where resolved settings came from.
const (
	SettingsSourceUser    = "user"
	SettingsSourceGlobal  = "global"
	SettingsSourceDefault = "default"
)

// SettingsUpdate carries the fields to change. Nil fields keep the value
// currently in force for the scope.
type SettingsUpdate struct {
	UserID                  string
	RequiredDevices         *[]string
	HeartbeatTimeoutSeconds *int
	ConsentRequired         *bool
	SessionDurationMinutes  *int
}

func (s *Service) defaultSettings() Settings {
	return Settings{
		Scope:                   models.GlobalSettingsScope,
		Source:                  SettingsSourceDefault,
		RequiredDevices:         append([]string(nil), s.policy.RequiredDevices...),
		HeartbeatTimeoutSeconds: int(s.policy.HeartbeatTimeout / time.Second),
		ConsentRequired:         s.policy.ConsentRequired,
		ConsentPolicyVersion:    s.policy.ConsentPolicyVersion,
		SessionDurationMinutes:  int(s.policy.SessionDuration / time.Minute),
		LivenessWindowSeconds:   int(s.policy.LivenessWindow / time.Second),
	}
}

func (s *Service) fromRow(row *models.ProctoringSettings, source string) Settings {
	st := s.defaultSettings()
	st.Scope = row.Scope
	st.Source = source
	st.RequiredDevices = append([]string{}, row.RequiredDevices...)
	if row.HeartbeatTimeoutSeconds > 0 {
		st.HeartbeatTimeoutSeconds = row.HeartbeatTimeoutSeconds
	}
	st.ConsentRequired = row.ConsentRequired
	if row.SessionDurationMinutes > 0 {
		st.SessionDurationMinutes = row.SessionDurationMinutes
	}
	return st
}

// effective resolves user row, then global row, then process policy.
func (s *Service) effective(ctx context.Context, userID string) (Settings, error) {
	if userID != "" {
		row, err := s.store.GetSettings(ctx, userID)
		switch {
		case err == nil:
			return s.fromRow(row, SettingsSourceUser), nil
		case !errors.Is(err, ErrNotFound):
			return Settings{}, apperr.Internal(err)
		}
	}
	row, err := s.store.GetSettings(ctx, models.GlobalSettingsScope)
	switch {
	case err == nil:
		st := s.fromRow(row, SettingsSourceGlobal)
		if userID != "" {
			st.Scope = userID
		}
		return st, nil
	case !errors.Is(err, ErrNotFound):
		return Settings{}, apperr.Internal(err)
	}
	st := s.defaultSettings()
	if userID != "" {
		st.Scope = userID
	}
	return st, nil
}

func (s *Service) effectiveForSession(ctx context.Context, actor Actor, id string) (Settings, error) {
	sess, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return Settings{}, err
	}
	return s.effective(ctx, sess.UserID)
}

// GetSettings returns the settings in force for userID, or the global
// settings when userID is empty. Non-admins may only read their own.
func (s *Service) GetSettings(ctx context.Context, actor Actor, userID string) (*Settings, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = actor.UserID
	}
	if userID != "" && userID != models.GlobalSettingsScope && !actor.CanAccessUser(userID) {
		return nil, apperr.Forbidden("you may only read your own settings")
	}
	if userID == models.GlobalSettingsScope {
		userID = ""
	}
	st, err := s.effective(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateSettings writes a full settings row for the scope. Admin only.
func (s *Service) UpdateSettings(ctx context.Context, actor Actor, in SettingsUpdate) (*Settings, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("only administrators may change proctoring settings")
	}
	scope := strings.TrimSpace(in.UserID)
	lookup := scope
	if scope == "" || scope == models.GlobalSettingsScope {
		scope, lookup = models.GlobalSettingsScope, ""
	}
	cur, err := s.effective(ctx, lookup)
	if err != nil {
		return nil, err
	}

	if in.RequiredDevices != nil {
		devices, err := normalizeDevices(*in.RequiredDevices)
		if err != nil {
			return nil, err
		}
		cur.RequiredDevices = devices
	}
	if in.HeartbeatTimeoutSeconds != nil {
		v := *in.HeartbeatTimeoutSeconds
		if v < 5 || v > 600 {
			return nil, apperr.Invalid("heartbeat_timeout_seconds must be between 5 and 600")
		}
		cur.HeartbeatTimeoutSeconds = v
	}
	if in.ConsentRequired != nil {
		cur.ConsentRequired = *in.ConsentRequired
	}
	if in.SessionDurationMinutes != nil {
		v := *in.SessionDurationMinutes
		if v < 1 || v > 600 {
			return nil, apperr.Invalid("session_duration_minutes must be between 1 and 600")
		}
		cur.SessionDurationMinutes = v
	}

	row := &models.ProctoringSettings{
		Scope:                   scope,
		RequiredDevices:         cur.RequiredDevices,
		HeartbeatTimeoutSeconds: cur.HeartbeatTimeoutSeconds,
		ConsentRequired:         cur.ConsentRequired,
		SessionDurationMinutes:  cur.SessionDurationMinutes,
		UpdatedBy:               actor.UserID,
	}
	if err := s.store.SaveSettings(ctx, row); err != nil {
		return nil, apperr.Internal(err)
	}
	logging.L(ctx).Info("proctoring settings updated", "scope", scope, "updated_by", actor.UserID)

	source := SettingsSourceUser
	if scope == models.GlobalSettingsScope {
		source = SettingsSourceGlobal
	}
	out := s.fromRow(row, source)
	return &out, nil
}

func normalizeDevices(in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		d := strings.ToLower(strings.TrimSpace(raw))
		if d == "" || seen[d] {
			continue
		}
		known := false
		for _, k := range KnownDevices {
			if d == k {
				known = true
				break
			}
		}
		if !known {
			return nil, apperr.Invalid("unknown device " + d + "; expected camera, microphone or audio")
		}
		seen[d] = true
		out = append(out, d)
	}
	return out, nil
}
