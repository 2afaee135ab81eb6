package routes

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctoring_backend/internal/analysis"
	"github.com/zaqqye/proctoring_backend/internal/config"
	"github.com/zaqqye/proctoring_backend/internal/controllers"
	"github.com/zaqqye/proctoring_backend/internal/metrics"
	"github.com/zaqqye/proctoring_backend/internal/middleware"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/proctoring"
	"github.com/zaqqye/proctoring_backend/internal/ratelimit"
	"github.com/zaqqye/proctoring_backend/internal/ws"
)

// Deps are the constructed collaborators the routes hand to controllers.
type Deps struct {
	Logger   *slog.Logger
	Service  *proctoring.Service
	Analyzer analysis.Analyzer
	ML       controllers.MLHealth
	Trust    controllers.TrustSource
	Hubs     *ws.Hubs
	Guard    *ratelimit.Guard
	Ping     func(ctx context.Context) error
}

// Identity keys the rate guard by authenticated user.
func Identity(c *gin.Context) string {
	if p, ok := middleware.PrincipalFrom(c); ok {
		return p.UserID
	}
	return ""
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cc.AllowAllOrigins = true
			cc.AllowCredentials = false
			return cc
		}
	}
	cc.AllowOrigins = origins
	return cc
}

func Register(r *gin.Engine, cfg *config.Config, d Deps) {
	r.Use(
		middleware.RequestID(d.Logger),
		middleware.Recovery(),
		metrics.Middleware(),
		middleware.RequestLogger(),
		cors.New(corsConfig(cfg.CORSOrigins)),
	)

	mlEnabled := d.ML != nil && d.ML.Enabled()
	healthCtrl := &controllers.HealthController{Ping: d.Ping, ML: d.ML, Hubs: d.Hubs}
	r.GET("/healthz", healthCtrl.Get)
	r.GET("/metrics", metrics.Handler())

	authMW := middleware.AuthMiddleware(middleware.AuthConfig{JWTSecret: cfg.JWTSecret})
	guard := func(route string, rule config.RateRule) gin.HandlerFunc {
		return d.Guard.Middleware(route, ratelimit.Rule{Limit: rule.Limit, Window: rule.Window})
	}

	pc := &controllers.ProctoringController{Svc: d.Service}
	mc := &controllers.MediaController{Svc: d.Service, Analyzer: d.Analyzer}
	sc := &controllers.SettingsController{Svc: d.Service}
	uc := &controllers.UserController{Svc: d.Service, Trust: d.Trust}
	monCtrl := &controllers.MonitoringController{Svc: d.Service}
	cfgCtrl := &controllers.ConfigController{Svc: d.Service, MLEnabled: mlEnabled}

	api := r.Group("/api/v1/proctoring", authMW)
	{
		session := api.Group("/session")
		{
			session.POST("/start", pc.Start)
			session.POST("/end", pc.End)
			session.POST("/pause", pc.Pause)
			session.POST("/resume", pc.Resume)
			session.POST("/heartbeat", guard("heartbeat", cfg.RateHeartbeat), pc.Heartbeat)

			session.GET("/:id", pc.GetSession)
			session.GET("/:id/status", pc.Status)
			session.GET("/:id/analytics", pc.Analytics)
			session.GET("/:id/risk", pc.Risk)
			session.POST("/:id/snapshot", guard("snapshot", cfg.RateAnalyze), mc.Snapshot)
			session.POST("/:id/liveness-check", pc.Liveness)
		}

		api.POST("/violation", guard("violation", cfg.RateViolation), pc.Violation)
		api.POST("/violations/batch", guard("violation", cfg.RateViolation), pc.ViolationBatch)
		api.POST("/events/batch", guard("events", cfg.RateEvents), pc.EventBatch)

		api.POST("/analyze-face", guard("analyze", cfg.RateAnalyze), mc.AnalyzeFace)
		api.POST("/analyze-audio", guard("analyze", cfg.RateAnalyze), mc.AnalyzeAudio)
		api.POST("/analyze-object", guard("analyze", cfg.RateAnalyze), mc.AnalyzeObject)

		api.GET("/settings", sc.Get)
		api.PUT("/settings", sc.Update)
		api.GET("/config", cfgCtrl.Get)

		user := api.Group("/user/:id")
		{
			user.GET("/sessions", uc.Sessions)
			user.GET("/violations/summary", uc.ViolationSummary)
			user.GET("/trust", uc.GetTrust)
			user.POST("/trust/recompute", uc.RecomputeTrust)
		}

		monitoring := api.Group("/monitoring", middleware.RequireRoles(models.RoleProctor))
		{
			monitoring.GET("/sessions", monCtrl.ListSessions)
		}
	}

	live := r.Group("/ws", authMW)
	{
		live.GET("/monitoring", ws.MonitoringHandler(d.Hubs.Monitoring))
		live.GET("/candidate", ws.CandidateHandler(d.Hubs.Candidate))
	}
}
