package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/clock"
)

var denials = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proctoring",
	Subsystem: "ratelimit",
	Name:      "denied_total",
	Help:      "Requests rejected by the rate guard, by route.",
}, []string{"route"})

func init() {
	prometheus.MustRegister(denials)
}

// Rule is a per-route budget.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Guard turns a Store into gin middleware.
type Guard struct {
	store    Store
	clock    clock.Clock
	logger   *slog.Logger
	identity func(*gin.Context) string
}

// NewGuard builds a guard. identity returns the authenticated user id, or ""
// to fall back to the client IP.
func NewGuard(store Store, clk clock.Clock, logger *slog.Logger, identity func(*gin.Context) string) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, clock: clk, logger: logger, identity: identity}
}

func (g *Guard) keyFor(c *gin.Context, route string) string {
	id := ""
	if g.identity != nil {
		id = g.identity(c)
	}
	if id == "" {
		return "ip:" + c.ClientIP() + ":" + route
	}
	return "user:" + id + ":" + route
}

// Middleware enforces rule for route. Store failures let the request through.
func (g *Guard) Middleware(route string, rule Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rule.Limit <= 0 {
			c.Next()
			return
		}
		key := g.keyFor(c, route)
		d, err := g.store.Hit(c.Request.Context(), key, rule.Limit, rule.Window, g.clock.Now())
		if err != nil {
			g.logger.Warn("rate guard store unavailable, allowing request", "route", route, "error", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			denials.WithLabelValues(route).Inc()
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests. Please slow down.",
				"code":        apperr.CodeRateLimited,
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}
