package proctoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/clock"
	"github.com/zaqqye/proctoring_backend/internal/events"
	"github.com/zaqqye/proctoring_backend/internal/models"
)

var (
	t0        = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	candidate = Actor{UserID: "user-1", Role: RoleCandidate}
	stranger  = Actor{UserID: "user-2", Role: RoleCandidate}
	admin     = Actor{UserID: "admin-1", Role: RoleAdmin}
)

type recordingNotifier struct {
	mu      sync.Mutex
	updates []SessionUpdate
}

func (r *recordingNotifier) Notify(_ context.Context, u SessionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recordingNotifier) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.Event)
	}
	return out
}

type countingTrust struct {
	mu    sync.Mutex
	users []string
}

func (c *countingTrust) Recompute(_ context.Context, userID string) (*models.TrustScore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, userID)
	return &models.TrustScore{UserID: userID}, nil
}

type fixture struct {
	svc   *Service
	store *MemoryStore
	clk   *clock.Fake
	notes *recordingNotifier
	pub   *events.MemoryPublisher
	trust *countingTrust
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryStore(),
		clk:   clock.NewFake(t0),
		notes: &recordingNotifier{},
		pub:   events.NewMemoryPublisher(),
		trust: &countingTrust{},
	}
	f.svc = NewService(f.store, DefaultPolicy(), nil).
		WithClock(f.clk).
		WithNotifier(f.notes).
		WithPublisher(f.pub).
		WithTrust(f.trust)
	return f
}

func (f *fixture) start(t *testing.T, actor Actor) string {
	t.Helper()
	res, err := f.svc.StartSession(context.Background(), actor, StartInput{
		ChallengeID: "challenge-1",
		Consent:     &ConsentInput{Accepted: true, PolicyVersion: "2026-02-25", NoticeLocale: "en"},
		ClientIP:    "203.0.113.7",
		UserAgent:   "test-agent",
	})
	require.NoError(t, err)
	return res.SessionID
}

func (f *fixture) session(t *testing.T, id string) *models.ProctoringSession {
	t.Helper()
	s, err := f.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func allReady() Heartbeat {
	return Heartbeat{CameraReady: true, MicrophoneReady: true, AudioReady: true, WindowFocused: true}
}

func requireCode(t *testing.T, err error, code string) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, code, ae.Code, ae.Message)
	return ae
}

func ptr[T any](v T) *T { return &v }
