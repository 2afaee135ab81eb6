package proctoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zaqqye/proctoring_backend/internal/models"
)

// Postgres error codes safe to retry as a whole transaction.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

const maxTxAttempts = 3

// GormStore persists to Postgres through gorm. UpdateSession holds a
// SELECT ... FOR UPDATE row lock for the whole mutation.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

func (g *GormStore) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = op()
		if err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*25) * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxAttempts, err)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (g *GormStore) CreateSession(ctx context.Context, s *models.ProctoringSession) error {
	return g.db.WithContext(ctx).Create(s).Error
}

func (g *GormStore) GetSession(ctx context.Context, id string) (*models.ProctoringSession, error) {
	var s models.ProctoringSession
	if err := g.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (g *GormStore) UpdateSession(ctx context.Context, id string, fn Mutator) (*models.ProctoringSession, []models.Violation, error) {
	var (
		out     *models.ProctoringSession
		created []models.Violation
	)
	err := g.withRetry(ctx, func() error {
		return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var row models.ProctoringSession
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
				return notFound(err)
			}
			vs, err := fn(&row)
			if err != nil {
				return err
			}
			stampViolations(&row, vs, time.Now().UTC())
			if len(vs) > 0 {
				if err := tx.Create(&vs).Error; err != nil {
					return err
				}
			}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
			out, created = &row, vs
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return out, created, nil
}

func (g *GormStore) ListSessionsByUser(ctx context.Context, userID string) ([]models.ProctoringSession, error) {
	var out []models.ProctoringSession
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).Order("start_time DESC, id DESC").Find(&out).Error
	return out, err
}

func (g *GormStore) ListCompletedSessions(ctx context.Context, userID string) ([]models.ProctoringSession, error) {
	var out []models.ProctoringSession
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.SessionCompleted).
		Order("start_time DESC, id DESC").
		Find(&out).Error
	return out, err
}

func (g *GormStore) ListSessions(ctx context.Context, f SessionFilter) ([]models.ProctoringSession, int64, error) {
	q := g.db.WithContext(ctx).Model(&models.ProctoringSession{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.ChallengeID != "" {
		q = q.Where("challenge_id = ?", f.ChallengeID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	q = q.Order("start_time DESC, id DESC").Offset(f.Offset)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.ProctoringSession
	if err := q.Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (g *GormStore) ListViolations(ctx context.Context, sessionID string) ([]models.Violation, error) {
	var out []models.Violation
	err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("timestamp ASC, created_at ASC").Find(&out).Error
	return out, err
}

func (g *GormStore) ListViolationsByUser(ctx context.Context, userID string) ([]models.Violation, error) {
	var out []models.Violation
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).Order("timestamp ASC, created_at ASC").Find(&out).Error
	return out, err
}

func (g *GormStore) GetChallenge(ctx context.Context, sessionID string) (*models.LivenessChallenge, error) {
	var c models.LivenessChallenge
	if err := g.db.WithContext(ctx).First(&c, "session_id = ?", sessionID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// PutChallenge replaces any outstanding challenge for the session.
func (g *GormStore) PutChallenge(ctx context.Context, c *models.LivenessChallenge) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		UpdateAll: true,
	}).Create(c).Error
}

func (g *GormStore) DeleteChallenge(ctx context.Context, sessionID string) error {
	return g.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.LivenessChallenge{}).Error
}

func (g *GormStore) CreateSnapshot(ctx context.Context, snap *models.SessionSnapshot) error {
	return g.db.WithContext(ctx).Create(snap).Error
}

func (g *GormStore) ListSnapshots(ctx context.Context, sessionID string) ([]models.SessionSnapshot, error) {
	var out []models.SessionSnapshot
	err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("captured_at ASC").Find(&out).Error
	return out, err
}

func (g *GormStore) GetSettings(ctx context.Context, scope string) (*models.ProctoringSettings, error) {
	var st models.ProctoringSettings
	if err := g.db.WithContext(ctx).First(&st, "scope = ?", scope).Error; err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (g *GormStore) SaveSettings(ctx context.Context, st *models.ProctoringSettings) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{"required_devices", "heartbeat_timeout_seconds", "consent_required", "session_duration_minutes", "updated_by", "updated_at"}),
	}).Create(st).Error
}

func (g *GormStore) FindTrustScore(ctx context.Context, userID string) (*models.TrustScore, bool, error) {
	var ts models.TrustScore
	err := g.db.WithContext(ctx).First(&ts, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &ts, true, nil
}

func (g *GormStore) SaveTrustScore(ctx context.Context, ts *models.TrustScore) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_score", "trust_level", "integrity_score", "compliance_score", "skill_score",
			"behavior_score", "experience_score", "sessions_considered", "degraded", "computed_at", "updated_at",
		}),
	}).Create(ts).Error
}
