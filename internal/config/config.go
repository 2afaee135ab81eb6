package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zaqqye/proctoring_backend/internal/proctoring"
)

// RateRule is one route budget, requests per window.
type RateRule struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// Empty DBHost keeps everything in memory.
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	JWTSecret   string
	CORSOrigins []string

	RedisURL     string
	RabbitMQURL  string
	OTLPEndpoint string

	MLServiceURL      string
	MLTimeout         time.Duration
	GradingServiceURL string
	GradingTimeout    time.Duration

	// Proctoring policy
	SessionDuration          time.Duration
	HeartbeatTimeout         time.Duration
	LivenessWindow           time.Duration
	LivenessFailureThreshold int
	RequiredDevices          []string
	ConsentRequired          bool
	ConsentPolicyVersion     string
	IPHashSalt               string
	MaxEventBatch            int

	// Rate guard
	RateHeartbeat RateRule
	RateViolation RateRule
	RateEvents    RateRule
	RateAnalyze   RateRule
	RateSweep     time.Duration
}

func Load() *Config {
	minute := time.Minute
	return &Config{
		Port:      getenv("PORT", "8080"),
		Env:       getenv("ENV", "development"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		DBHost:     getenv("DB_HOST", ""),
		DBPort:     getenv("DB_PORT", "5432"),
		DBUser:     getenv("DB_USER", "postgres"),
		DBPassword: getenv("DB_PASSWORD", "postgres"),
		DBName:     getenv("DB_NAME", "proctoring_db"),
		DBSSLMode:  getenv("DB_SSLMODE", "disable"),

		JWTSecret:   getenv("JWT_SECRET", "supersecret_change_me"),
		CORSOrigins: getenvList("CORS_ORIGINS", []string{"http://localhost:3000"}),

		RedisURL:     getenv("REDIS_URL", ""),
		RabbitMQURL:  getenv("RABBITMQ_URL", ""),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		MLServiceURL:      strings.TrimRight(getenv("ML_SERVICE_URL", ""), "/"),
		MLTimeout:         time.Duration(getenvInt("ML_TIMEOUT_SECONDS", 4)) * time.Second,
		GradingServiceURL: strings.TrimRight(getenv("GRADING_SERVICE_URL", ""), "/"),
		GradingTimeout:    getenvDuration("GRADING_TIMEOUT", 5*time.Second),

		SessionDuration:          time.Duration(getenvInt("SESSION_DURATION_MINUTES", 90)) * time.Minute,
		HeartbeatTimeout:         time.Duration(getenvInt("HEARTBEAT_TIMEOUT_SECONDS", 30)) * time.Second,
		LivenessWindow:           time.Duration(getenvInt("LIVENESS_WINDOW_SECONDS", 30)) * time.Second,
		LivenessFailureThreshold: getenvInt("LIVENESS_FAILURE_THRESHOLD", 3),
		RequiredDevices:          getenvList("REQUIRED_DEVICES", []string{"camera", "microphone", "audio"}),
		ConsentRequired:          getenvBool("CONSENT_REQUIRED", true),
		ConsentPolicyVersion:     getenv("CONSENT_POLICY_VERSION", "2026-02-25"),
		IPHashSalt:               getenv("IP_HASH_SALT", ""),
		MaxEventBatch:            getenvInt("MAX_EVENT_BATCH", 200),

		RateHeartbeat: RateRule{Limit: getenvInt("RATE_HEARTBEAT_PER_MINUTE", 60), Window: minute},
		RateViolation: RateRule{Limit: getenvInt("RATE_VIOLATION_PER_MINUTE", 60), Window: minute},
		RateEvents:    RateRule{Limit: getenvInt("RATE_EVENTS_PER_MINUTE", 30), Window: minute},
		RateAnalyze:   RateRule{Limit: getenvInt("RATE_ANALYZE_PER_MINUTE", 30), Window: minute},
		RateSweep:     getenvDuration("RATE_SWEEP_INTERVAL", time.Minute),
	}
}

// Policy projects the proctoring policy.
func (c *Config) Policy() proctoring.Policy {
	return proctoring.Policy{
		SessionDuration:          c.SessionDuration,
		HeartbeatTimeout:         c.HeartbeatTimeout,
		LivenessWindow:           c.LivenessWindow,
		LivenessFailureThreshold: c.LivenessFailureThreshold,
		RequiredDevices:          append([]string(nil), c.RequiredDevices...),
		ConsentRequired:          c.ConsentRequired,
		ConsentPolicyVersion:     c.ConsentPolicyVersion,
		IPHashSalt:               c.IPHashSalt,
		MaxEventBatch:            c.MaxEventBatch,
	}
}

// UseDatabase reports whether Postgres is configured.
func (c *Config) UseDatabase() bool { return c.DBHost != "" }

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return b
}

// getenvList splits a comma separated value, dropping blanks.
func getenvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
