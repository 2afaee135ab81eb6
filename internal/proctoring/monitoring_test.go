package proctoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
)

func TestListSessionsForDashboards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proctor := Actor{UserID: "p-1", Role: RoleProctor}

	a := f.start(t, candidate)
	f.clk.Advance(time.Minute)
	b := f.start(t, stranger)
	f.clk.Advance(time.Minute)
	c := f.start(t, candidate)
	_, err := f.svc.PauseSession(ctx, candidate, c, "")
	require.NoError(t, err)

	views, total, err := f.svc.ListSessions(ctx, proctor, SessionFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, views, 3)
	assert.Equal(t, []string{c, b, a}, []string{views[0].SessionID, views[1].SessionID, views[2].SessionID})

	views, total, err = f.svc.ListSessions(ctx, admin, SessionFilter{Status: "Active", UserID: candidate.UserID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, a, views[0].SessionID)

	views, total, err = f.svc.ListSessions(ctx, proctor, SessionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, views, 1)
	assert.Equal(t, b, views[0].SessionID)

	views, _, err = f.svc.ListSessions(ctx, proctor, SessionFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestListSessionsAccess(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.ListSessions(context.Background(), candidate, SessionFilter{})
	requireCode(t, err, apperr.CodeForbidden)

	_, _, err = f.svc.ListSessions(context.Background(), admin, SessionFilter{Status: "frozen"})
	requireCode(t, err, apperr.CodeInvalidRequest)
}
