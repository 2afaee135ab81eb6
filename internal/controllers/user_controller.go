package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/proctoring"
)

// TrustSource reads and refreshes trust scores.
type TrustSource interface {
	Get(ctx context.Context, userID string) (*models.TrustScore, error)
	Recompute(ctx context.Context, userID string) (*models.TrustScore, error)
}

// UserController serves per-user views. Callers may read only their own
// data unless they are admins.
type UserController struct {
	Svc   *proctoring.Service
	Trust TrustSource
}

func (uc *UserController) target(c *gin.Context) (proctoring.Actor, string, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		return actor, "", false
	}
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		respondError(c, apperr.Invalid("user id is required"))
		return actor, "", false
	}
	return actor, userID, true
}

func (uc *UserController) Sessions(c *gin.Context) {
	actor, userID, ok := uc.target(c)
	if !ok {
		return
	}
	views, err := uc.Svc.ListUserSessions(c.Request.Context(), actor, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": views, "meta": gin.H{"total": len(views)}})
}

func (uc *UserController) ViolationSummary(c *gin.Context) {
	actor, userID, ok := uc.target(c)
	if !ok {
		return
	}
	sum, err := uc.Svc.GetUserViolationSummary(c.Request.Context(), actor, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (uc *UserController) GetTrust(c *gin.Context) {
	uc.trust(c, uc.Trust.Get)
}

func (uc *UserController) RecomputeTrust(c *gin.Context) {
	uc.trust(c, uc.Trust.Recompute)
}

func (uc *UserController) trust(c *gin.Context, fn func(context.Context, string) (*models.TrustScore, error)) {
	actor, userID, ok := uc.target(c)
	if !ok {
		return
	}
	if !actor.CanAccessUser(userID) {
		respondError(c, apperr.Forbidden("you may only view your own trust score"))
		return
	}
	ts, err := fn(c.Request.Context(), userID)
	if err != nil {
		respondError(c, apperr.Internal(err))
		return
	}
	c.JSON(http.StatusOK, ts)
}
