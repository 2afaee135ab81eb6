package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/zaqqye/proctoring_backend/internal/analysis"
	"github.com/zaqqye/proctoring_backend/internal/clock"
	"github.com/zaqqye/proctoring_backend/internal/config"
	"github.com/zaqqye/proctoring_backend/internal/database"
	"github.com/zaqqye/proctoring_backend/internal/events"
	"github.com/zaqqye/proctoring_backend/internal/logging"
	"github.com/zaqqye/proctoring_backend/internal/metrics"
	"github.com/zaqqye/proctoring_backend/internal/proctoring"
	"github.com/zaqqye/proctoring_backend/internal/ratelimit"
	"github.com/zaqqye/proctoring_backend/internal/routes"
	"github.com/zaqqye/proctoring_backend/internal/traces"
	"github.com/zaqqye/proctoring_backend/internal/trust"
	"github.com/zaqqye/proctoring_backend/internal/ws"
)

func main() {
	// Load .env (non-fatal if missing in production)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}

	var (
		store interface {
			proctoring.Store
			trust.Store
		}
		ping func(context.Context) error
	)
	if cfg.UseDatabase() {
		db, err := database.Connect(cfg)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		if err := database.Migrate(db); err != nil {
			logger.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		if err := database.SeedSettings(db, cfg, logger); err != nil {
			logger.Error("settings seed failed", "error", err)
			os.Exit(1)
		}
		if sqlDB, err := db.DB(); err == nil {
			metrics.StartDBStatsCollector(ctx, sqlDB, 15*time.Second)
		}
		store = proctoring.NewGormStore(db)
		ping = database.Pinger(db)
	} else {
		logger.Warn("DB_HOST is empty, using in-memory store; data is lost on restart")
		store = proctoring.NewMemoryStore()
	}

	var rateStore ratelimit.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		rateStore = ratelimit.NewRedisStore(rdb, "proctoring:ratelimit:")
	} else {
		mem := ratelimit.NewMemoryStore()
		mem.StartSweeper(ctx, cfg.RateSweep, clock.Real{}.Now)
		rateStore = mem
	}

	publisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("event publisher init failed", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	var grading trust.GradingSource = trust.NeutralGrading{}
	if cfg.GradingServiceURL != "" {
		grading = trust.NewHTTPGrading(cfg.GradingServiceURL, cfg.GradingTimeout)
	} else {
		logger.Warn("GRADING_SERVICE_URL is empty, trust scores use neutral grading components")
	}
	aggregator := trust.NewAggregator(store, grading, logger).WithPublisher(publisher)

	ml := analysis.NewClient(cfg.MLServiceURL, cfg.MLTimeout, logger)
	if !ml.Enabled() {
		logger.Warn("ML_SERVICE_URL is empty, analysis endpoints return degraded results")
	}

	hubs := ws.NewHubs(logger)
	hubs.Run(ctx)

	svc := proctoring.NewService(store, cfg.Policy(), logger).
		WithNotifier(hubs).
		WithPublisher(publisher).
		WithTrust(aggregator)

	r := gin.New()
	routes.Register(r, cfg, routes.Deps{
		Logger:   logger,
		Service:  svc,
		Analyzer: ml,
		ML:       ml,
		Trust:    aggregator,
		Hubs:     hubs,
		Guard:    ratelimit.NewGuard(rateStore, clock.Real{}, logger, routes.Identity),
		Ping:     ping,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env, "store_durable", cfg.UseDatabase())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
