package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctoring_backend/internal/proctoring"
	"github.com/zaqqye/proctoring_backend/internal/utils"
)

// ConfigController tells the client monitor how to behave for the caller.
type ConfigController struct {
	Svc       *proctoring.Service
	MLEnabled bool
}

func (cc *ConfigController) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	st, err := cc.Svc.GetSettings(c.Request.Context(), actor, actor.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	p := cc.Svc.Policy()

	c.JSON(http.StatusOK, gin.H{
		"policy_version":             st.ConsentPolicyVersion,
		"consent_required":           st.ConsentRequired,
		"required_devices":           st.RequiredDevices,
		"heartbeat_timeout_seconds":  st.HeartbeatTimeoutSeconds,
		"session_duration_minutes":   st.SessionDurationMinutes,
		"liveness_window_seconds":    st.LivenessWindowSeconds,
		"liveness_failure_threshold": p.LivenessFailureThreshold,
		"max_event_batch":            p.MaxEventBatch,
		"limits": gin.H{
			"image_bytes":    utils.MaxImageBytes,
			"audio_bytes":    utils.MaxAudioBytes,
			"snapshot_bytes": utils.MaxSnapshotBytes,
		},
		"formats": gin.H{
			"image": utils.ImageFormats,
			"audio": utils.AudioFormats,
		},
		"flags": gin.H{
			"mlAnalysis": cc.MLEnabled,
		},
		"schema_version": 1,
	})
}
