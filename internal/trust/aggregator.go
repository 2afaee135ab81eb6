package trust

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zaqqye/proctoring_backend/internal/clock"
	"github.com/zaqqye/proctoring_backend/internal/events"
	"github.com/zaqqye/proctoring_backend/internal/logging"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/syncutil"
	"github.com/zaqqye/proctoring_backend/internal/traces"
)

var recomputes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proctoring",
	Subsystem: "trust",
	Name:      "recomputes_total",
	Help:      "Trust score recomputations by outcome.",
}, []string{"outcome"}) // "ok", "degraded", "error"

func init() {
	prometheus.MustRegister(recomputes)
}

// Store is the slice of persistence the aggregator needs.
type Store interface {
	ListCompletedSessions(ctx context.Context, userID string) ([]models.ProctoringSession, error)
	FindTrustScore(ctx context.Context, userID string) (*models.TrustScore, bool, error)
	SaveTrustScore(ctx context.Context, ts *models.TrustScore) error
}

// Aggregator recomputes and stores per-user trust scores. Recompute is safe
// to call redundantly: the same history and grading input give the same score.
type Aggregator struct {
	store     Store
	grading   GradingSource
	calc      *Calculator
	publisher events.Publisher
	clock     clock.Clock
	locks     syncutil.ShardedMutex
	logger    *slog.Logger
}

func NewAggregator(store Store, grading GradingSource, logger *slog.Logger) *Aggregator {
	if grading == nil {
		grading = NeutralGrading{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:   store,
		grading: grading,
		calc:    NewCalculator(),
		clock:   clock.Real{},
		logger:  logger,
	}
}

func (a *Aggregator) WithPublisher(p events.Publisher) *Aggregator {
	a.publisher = p
	return a
}

func (a *Aggregator) WithClock(c clock.Clock) *Aggregator {
	a.clock = c
	return a
}

// Recompute rebuilds userID's score from completed sessions and grading,
// upserts it and publishes trust.updated.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (*models.TrustScore, error) {
	ctx, span := traces.StartSpan(ctx, "trust.Recompute", traces.UserID(userID))
	defer span.End()

	unlock := a.locks.Lock(userID)
	defer unlock()

	sessions, err := a.store.ListCompletedSessions(ctx, userID)
	if err != nil {
		recomputes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list completed sessions: %w", err)
	}

	degraded := false
	grading, err := a.grading.Components(ctx, userID)
	if err != nil {
		logging.L(ctx).Warn("grading unavailable, using neutral components", "user_id", userID, "error", err)
		grading = Neutral()
		degraded = true
	}

	score := a.calc.Calculate(userID, sessions, grading, degraded, a.clock.Now())
	if err := a.store.SaveTrustScore(ctx, score); err != nil {
		recomputes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("save trust score: %w", err)
	}
	if degraded {
		recomputes.WithLabelValues("degraded").Inc()
	} else {
		recomputes.WithLabelValues("ok").Inc()
	}

	if a.publisher != nil {
		ev := events.NewTrustEvent(score.ComputedAt)
		ev.UserID = userID
		ev.TotalScore = score.TotalScore
		ev.TrustLevel = score.TrustLevel
		ev.Degraded = degraded
		if err := a.publisher.PublishTrustUpdated(ctx, ev); err != nil {
			logging.L(ctx).Warn("failed to publish trust.updated", "user_id", userID, "error", err)
		}
	}
	logging.L(ctx).Info("trust score recomputed", "user_id", userID,
		"total_score", score.TotalScore, "trust_level", score.TrustLevel, "sessions", score.SessionsConsidered)
	return score, nil
}

// Get returns the stored score, computing it on first access.
func (a *Aggregator) Get(ctx context.Context, userID string) (*models.TrustScore, error) {
	ts, ok, err := a.store.FindTrustScore(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find trust score: %w", err)
	}
	if ok {
		return ts, nil
	}
	return a.Recompute(ctx, userID)
}
