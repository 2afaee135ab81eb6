package proctoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/events"
	"github.com/zaqqye/proctoring_backend/internal/models"
)

func TestStartSessionConsentVersionMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartSession(context.Background(), candidate, StartInput{
		ChallengeID: "challenge-1",
		Consent:     &ConsentInput{Accepted: true, PolicyVersion: "2026-01-01"},
	})
	ae := requireCode(t, err, apperr.CodeConsentVersionMismatch)
	assert.Equal(t, 409, ae.Kind.HTTPStatus())
	assert.Contains(t, ae.Message, "2026-02-25")
}

func TestStartSessionRequiresConsent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartSession(context.Background(), candidate, StartInput{ChallengeID: "challenge-1"})
	ae := requireCode(t, err, apperr.CodeConsentRequired)
	assert.Equal(t, 400, ae.Kind.HTTPStatus())

	_, err = f.svc.StartSession(context.Background(), candidate, StartInput{
		ChallengeID: "challenge-1",
		Consent:     &ConsentInput{Accepted: false, PolicyVersion: "2026-02-25"},
	})
	requireCode(t, err, apperr.CodeConsentRequired)
}

func TestStartSessionValidatesChallenge(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartSession(context.Background(), candidate, StartInput{ChallengeID: "  "})
	requireCode(t, err, apperr.CodeInvalidRequest)

	f.svc.WithCatalog(catalogFunc(func(id string) (bool, error) { return false, nil }))
	_, err = f.svc.StartSession(context.Background(), candidate, StartInput{ChallengeID: "missing"})
	ae := requireCode(t, err, apperr.CodeChallengeNotFound)
	assert.Equal(t, 404, ae.Kind.HTTPStatus())

	f.svc.WithCatalog(catalogFunc(func(id string) (bool, error) { return false, errors.New("catalog down") }))
	_, err = f.svc.StartSession(context.Background(), candidate, StartInput{ChallengeID: "x"})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

type catalogFunc func(id string) (bool, error)

func (c catalogFunc) ChallengeExists(_ context.Context, id string) (bool, error) { return c(id) }

func TestStartSessionPersistsConsentAndDeadline(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.StartSession(context.Background(), candidate, StartInput{
		ChallengeID: "challenge-1",
		Consent:     &ConsentInput{Accepted: true, PolicyVersion: "2026-02-25", NoticeLocale: "id", Scope: []string{"camera", "microphone"}},
		ClientIP:    "198.51.100.1",
	})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(90*time.Minute), res.DeadlineAt)
	assert.Equal(t, 5400, res.DurationSeconds)
	assert.Equal(t, []string{"camera", "microphone", "audio"}, res.RequiredDevices)

	s := f.session(t, res.SessionID)
	assert.Equal(t, models.SessionActive, s.Status)
	assert.Equal(t, "2026-02-25", s.ConsentPolicyVersion)
	require.NotNil(t, s.ConsentAcceptedAt)
	assert.Equal(t, t0, *s.ConsentAcceptedAt)
	assert.Equal(t, "id", s.ConsentNoticeLocale)
	assert.Len(t, s.IPHash, 64)
	assert.NotContains(t, s.IPHash, "198.51")

	assert.Equal(t, 1, f.pub.Count(string(events.EventTypeSessionStarted)))
	assert.Equal(t, []string{UpdateStarted}, f.notes.events())
}

func TestSessionOwnership(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, candidate)
	ctx := context.Background()

	_, err := f.svc.GetSession(ctx, stranger, id)
	ae := requireCode(t, err, apperr.CodeForbidden)
	assert.Equal(t, 403, ae.Kind.HTTPStatus())

	view, err := f.svc.GetSession(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, candidate.UserID, view.UserID)

	_, err = f.svc.GetSession(ctx, candidate, "does-not-exist")
	ae = requireCode(t, err, apperr.CodeSessionNotFound)
	assert.Equal(t, 404, ae.Kind.HTTPStatus())

	_, err = f.svc.PauseSession(ctx, stranger, id, "")
	requireCode(t, err, apperr.CodeForbidden)
	assert.Equal(t, models.SessionActive, f.session(t, id).Status)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, candidate)

	f.clk.Advance(10 * time.Minute)
	s1, err := f.svc.EndSession(ctx, candidate, id, "submission-9")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, s1.Status)
	require.NotNil(t, s1.EndTime)
	assert.Equal(t, t0.Add(10*time.Minute), *s1.EndTime)

	f.clk.Advance(time.Minute)
	s2, err := f.svc.EndSession(ctx, candidate, id, "submission-10")
	require.NoError(t, err)
	assert.Equal(t, *s1.EndTime, *s2.EndTime)
	assert.Equal(t, "submission-9", *s2.SubmissionID)

	assert.Equal(t, 1, f.pub.Count(string(events.EventTypeSessionEnded)))
	assert.Equal(t, []string{candidate.UserID}, f.trust.users)
}

func TestCompletedSessionRejectsMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, candidate)
	_, err := f.svc.EndSession(ctx, candidate, id, "")
	require.NoError(t, err)

	_, err = f.svc.PauseSession(ctx, candidate, id, "")
	requireCode(t, err, apperr.CodeSessionCompleted)
	_, err = f.svc.ResumeSession(ctx, candidate, id)
	requireCode(t, err, apperr.CodeSessionCompleted)
	_, err = f.svc.RecordHeartbeat(ctx, candidate, id, allReady())
	requireCode(t, err, apperr.CodeSessionCompleted)
	_, err = f.svc.LogViolation(ctx, candidate, id, ViolationInput{Type: "tab_switch"})
	requireCode(t, err, apperr.CodeSessionCompleted)
	_, err = f.svc.IngestEventBatch(ctx, candidate, id, []EventInput{{EventType: "tab_switch"}}, nil)
	requireCode(t, err, apperr.CodeSessionCompleted)
	_, err = f.svc.RequestLivenessChallenge(ctx, candidate, id)
	requireCode(t, err, apperr.CodeSessionCompleted)
	requireCode(t, f.svc.CheckSessionOpen(ctx, candidate, id), apperr.CodeSessionCompleted)

	s := f.session(t, id)
	assert.Equal(t, 0, s.TotalViolations)
	assert.Nil(t, s.HeartbeatAt)
}

func TestManualPauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, candidate)

	_, err := f.svc.ResumeSession(ctx, candidate, id)
	requireCode(t, err, apperr.CodeSessionNotPaused)

	s, err := f.svc.PauseSession(ctx, candidate, id, "  ")
	require.NoError(t, err)
	assert.Equal(t, "Paused by user", *s.PauseReason)
	assert.Equal(t, string(PauseManual), s.PauseSource)

	// No heartbeat yet.
	_, err = f.svc.ResumeSession(ctx, candidate, id)
	requireCode(t, err, apperr.CodeLivenessRequired)

	// A healthy heartbeat does not lift a manual pause.
	hb, err := f.svc.RecordHeartbeat(ctx, candidate, id, allReady())
	require.NoError(t, err)
	assert.False(t, hb.AutoResumed)
	assert.Equal(t, models.SessionPaused, hb.Status)

	f.clk.Advance(20 * time.Second)
	s, err = f.svc.ResumeSession(ctx, candidate, id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, s.Status)
	assert.Equal(t, int64(20), s.TotalPausedSeconds)
	assert.Equal(t, 1, s.PauseCount)
	assert.Contains(t, f.notes.events(), UpdateResumed)
}

func TestResumeRejectsStaleHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, candidate)
	_, err := f.svc.RecordHeartbeat(ctx, candidate, id, allReady())
	require.NoError(t, err)
	_, err = f.svc.PauseSession(ctx, candidate, id, "break")
	require.NoError(t, err)

	f.clk.Advance(45 * time.Second)
	_, err = f.svc.ResumeSession(ctx, candidate, id)
	ae := requireCode(t, err, apperr.CodeLivenessRequired)
	assert.Contains(t, ae.Message, "stale")
}

func TestListUserSessionsNewestFirst(t *testing.T) {
	f := newFixture(t)
	first := f.start(t, candidate)
	f.clk.Advance(time.Hour)
	second := f.start(t, candidate)

	views, err := f.svc.ListUserSessions(context.Background(), candidate, candidate.UserID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, second, views[0].SessionID)
	assert.Equal(t, first, views[1].SessionID)

	_, err = f.svc.ListUserSessions(context.Background(), stranger, candidate.UserID)
	requireCode(t, err, apperr.CodeForbidden)
}
