package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctoring_backend/internal/ws"
)

// MLHealth is the part of the ML client /healthz needs.
type MLHealth interface {
	Enabled() bool
	Health(ctx context.Context) (map[string]any, error)
}

// HealthController reports dependency status. Only the store can make the
// service unhealthy; a missing ML service means degraded analysis.
type HealthController struct {
	Ping func(ctx context.Context) error
	ML   MLHealth
	Hubs *ws.Hubs
}

func (hc *HealthController) Get(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	switch {
	case hc.Ping == nil:
		checks["store"] = "memory"
	case hc.Ping(ctx) != nil:
		checks["store"] = "unavailable"
		status = http.StatusServiceUnavailable
	default:
		checks["store"] = "ok"
	}
	switch {
	case hc.ML == nil || !hc.ML.Enabled():
		checks["ml"] = "disabled"
	default:
		if _, err := hc.ML.Health(ctx); err != nil {
			checks["ml"] = "degraded"
		} else {
			checks["ml"] = "ok"
		}
	}
	body := gin.H{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "unavailable"
	}
	if hc.Hubs != nil {
		body["ws_clients"] = gin.H{
			"monitoring": hc.Hubs.Monitoring.Connected(),
			"candidate":  hc.Hubs.Candidate.Connected(),
		}
	}
	c.JSON(status, body)
}
