package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctoring_backend/internal/proctoring"
)

type SettingsController struct {
	Svc *proctoring.Service
}

// Get returns the settings in force for ?user_id (default: the caller).
func (sc *SettingsController) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	userID := c.Query("user_id")
	if userID == "" {
		userID = actor.UserID
	}
	st, err := sc.Svc.GetSettings(c.Request.Context(), actor, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type settingsRequest struct {
	UserID                  FlexibleString `json:"user_id"`
	RequiredDevices         *[]string      `json:"required_devices"`
	HeartbeatTimeoutSeconds *int           `json:"heartbeat_timeout_seconds"`
	ConsentRequired         *bool          `json:"consent_required"`
	SessionDurationMinutes  *int           `json:"session_duration_minutes"`
}

// Update writes the global row, or a user override when user_id is set.
func (sc *SettingsController) Update(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req settingsRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := sc.Svc.UpdateSettings(c.Request.Context(), actor, proctoring.SettingsUpdate{
		UserID:                  req.UserID.String(),
		RequiredDevices:         req.RequiredDevices,
		HeartbeatTimeoutSeconds: req.HeartbeatTimeoutSeconds,
		ConsentRequired:         req.ConsentRequired,
		SessionDurationMinutes:  req.SessionDurationMinutes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
