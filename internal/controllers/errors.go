package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/logging"
	"github.com/zaqqye/proctoring_backend/internal/middleware"
	"github.com/zaqqye/proctoring_backend/internal/proctoring"
)

// respondError renders err as {"error", "code"}. Internal failures are
// logged with the correlation id and never echoed.
func respondError(c *gin.Context, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindInternal {
		logging.L(c.Request.Context()).Error("request failed",
			"method", c.Request.Method, "route", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(ae.Kind.HTTPStatus(), gin.H{"error": apperr.PublicMessage(err), "code": ae.Code})
}

func actorFrom(c *gin.Context) (proctoring.Actor, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok || p.UserID == "" {
		respondError(c, apperr.New(apperr.KindUnauthorized, apperr.CodeUnauthorized, "authentication required"))
		return proctoring.Actor{}, false
	}
	return proctoring.Actor{UserID: p.UserID, Role: p.Role}, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, apperr.Invalid("invalid request body"))
		return false
	}
	return true
}
