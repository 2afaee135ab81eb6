package proctoring

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zaqqye/proctoring_backend/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		t.Skip("POSTGRES_URL not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.ProctoringSession{},
		&models.Violation{},
		&models.LivenessChallenge{},
		&models.SessionSnapshot{},
		&models.ProctoringSettings{},
		&models.TrustScore{},
	))
	return db
}

func TestGormStoreConcurrentViolations(t *testing.T) {
	db := openTestDB(t)
	store := NewGormStore(db)
	ctx := context.Background()

	// Two service instances share the database but not the in-process lock.
	a := NewService(store, DefaultPolicy(), nil)
	b := NewService(store, DefaultPolicy(), nil)
	user := Actor{UserID: "gorm-" + uuid.NewString()[:8], Role: RoleCandidate}
	res, err := a.StartSession(ctx, user, StartInput{
		ChallengeID: "challenge-1",
		Consent:     &ConsentInput{Accepted: true, PolicyVersion: DefaultPolicy().ConsentPolicyVersion},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, svc := range []*Service{a, b, a, b} {
		wg.Add(1)
		go func(svc *Service) {
			defer wg.Done()
			_, err := svc.LogViolation(ctx, user, res.SessionID, ViolationInput{Type: "copy_paste"})
			assert.NoError(t, err)
		}(svc)
	}
	wg.Wait()

	s, err := store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 4, s.TotalViolations)
	assert.Equal(t, 16, s.TotalPenalty)

	vs, err := store.ListViolations(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, vs, 4)
}

func TestGormStoreChallengesAndSettings(t *testing.T) {
	db := openTestDB(t)
	store := NewGormStore(db)
	ctx := context.Background()
	sid := uuid.NewString()

	_, err := store.GetChallenge(ctx, sid)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutChallenge(ctx, &models.LivenessChallenge{SessionID: sid, ID: "c1", ExpectedAction: "nod", IssuedAt: t0, ExpiresAt: t0}))
	require.NoError(t, store.PutChallenge(ctx, &models.LivenessChallenge{SessionID: sid, ID: "c2", ExpectedAction: "smile", IssuedAt: t0, ExpiresAt: t0}))
	c, err := store.GetChallenge(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "c2", c.ID)
	require.NoError(t, store.DeleteChallenge(ctx, sid))

	scope := "user-" + sid[:8]
	require.NoError(t, store.SaveSettings(ctx, &models.ProctoringSettings{Scope: scope, RequiredDevices: []string{"camera"}, HeartbeatTimeoutSeconds: 45}))
	require.NoError(t, store.SaveSettings(ctx, &models.ProctoringSettings{Scope: scope, RequiredDevices: []string{"audio"}, HeartbeatTimeoutSeconds: 50}))
	st, err := store.GetSettings(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, []string{"audio"}, []string(st.RequiredDevices))
	assert.Equal(t, 50, st.HeartbeatTimeoutSeconds)
}
