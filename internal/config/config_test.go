package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DB_HOST", "REQUIRED_DEVICES", "CONSENT_REQUIRED", "ML_TIMEOUT_SECONDS", "HEARTBEAT_TIMEOUT_SECONDS"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.False(t, cfg.UseDatabase())
	assert.Equal(t, 4*time.Second, cfg.MLTimeout)
	p := cfg.Policy()
	assert.Equal(t, 90*time.Minute, p.SessionDuration)
	assert.Equal(t, 30*time.Second, p.HeartbeatTimeout)
	assert.Equal(t, 3, p.LivenessFailureThreshold)
	assert.Equal(t, []string{"camera", "microphone", "audio"}, p.RequiredDevices)
	assert.True(t, p.ConsentRequired)
	assert.Equal(t, "2026-02-25", p.ConsentPolicyVersion)
	assert.Equal(t, 200, p.MaxEventBatch)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db")
	t.Setenv("REQUIRED_DEVICES", " Camera, ,microphone ")
	t.Setenv("CONSENT_REQUIRED", "false")
	t.Setenv("HEARTBEAT_TIMEOUT_SECONDS", "45")
	t.Setenv("ML_SERVICE_URL", "http://ml:5000/")
	t.Setenv("RATE_HEARTBEAT_PER_MINUTE", "not-a-number")
	t.Setenv("GRADING_TIMEOUT", "2s")

	cfg := Load()
	assert.True(t, cfg.UseDatabase())
	assert.Equal(t, []string{"camera", "microphone"}, cfg.RequiredDevices)
	assert.False(t, cfg.ConsentRequired)
	assert.Equal(t, 45*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, "http://ml:5000", cfg.MLServiceURL)
	assert.Equal(t, 60, cfg.RateHeartbeat.Limit)
	assert.Equal(t, 2*time.Second, cfg.GradingTimeout)
}
