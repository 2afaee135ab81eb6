package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctoring_backend/internal/proctoring"
)

type MonitoringController struct {
	Svc *proctoring.Service
}

// ListSessions returns dashboard rows, newest first. ?all=true disables
// paging.
func (mc *MonitoringController) ListSessions(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	all := strings.EqualFold(c.Query("all"), "true") || c.Query("all") == "1"
	limit := 20
	page := 1
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}

	f := proctoring.SessionFilter{
		Status:      c.Query("status"),
		UserID:      strings.TrimSpace(c.Query("user_id")),
		ChallengeID: strings.TrimSpace(c.Query("challenge_id")),
	}
	if !all {
		f.Limit = limit
		f.Offset = (page - 1) * limit
	}
	rows, total, err := mc.Svc.ListSessions(c.Request.Context(), actor, f)
	if err != nil {
		respondError(c, err)
		return
	}
	meta := gin.H{"total": total, "all": all}
	if !all {
		meta["limit"] = limit
		meta["page"] = page
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "meta": meta})
}
