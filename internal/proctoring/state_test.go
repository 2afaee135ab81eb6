package proctoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/models"
)

func activeRow() *models.ProctoringSession {
	return &models.ProctoringSession{ID: "s1", Status: models.SessionActive, StartTime: t0}
}

func TestPauseResumeBanksPausedTime(t *testing.T) {
	s := activeRow()

	entered, err := pause(s, "devices unavailable: camera", PauseDevices, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, entered)
	assert.Equal(t, 1, s.PauseCount)

	st, ok := StateOf(s).(Paused)
	require.True(t, ok)
	assert.Equal(t, "devices unavailable: camera", st.Reason)
	assert.Equal(t, PauseDevices, st.Source)

	// Re-pausing updates the reason but keeps the original start.
	entered, err = pause(s, "Paused by user", PauseManual, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, entered)
	assert.Equal(t, 1, s.PauseCount)
	assert.Equal(t, t0.Add(time.Minute), *s.PausedAt)

	require.NoError(t, resume(s, t0.Add(4*time.Minute)))
	assert.Equal(t, int64(180), s.TotalPausedSeconds)
	assert.IsType(t, Active{}, StateOf(s))
	assert.Nil(t, s.PauseReason)
	assert.Empty(t, s.PauseSource)
	assert.Nil(t, s.PausedAt)
}

func TestResumeActiveIsRejected(t *testing.T) {
	err := resume(activeRow(), t0)
	assert.True(t, apperr.KindOf(err) == apperr.KindConflict)
	assert.ErrorIs(t, err, errSessionNotPaused)
}

func TestCompleteIsTerminal(t *testing.T) {
	s := activeRow()
	_, _ = pause(s, "x", PauseManual, t0)

	assert.True(t, complete(s, "sub-1", t0.Add(30*time.Second)))
	assert.Equal(t, models.SessionCompleted, s.Status)
	assert.Equal(t, int64(30), s.TotalPausedSeconds)
	require.NotNil(t, s.EndTime)
	assert.Equal(t, "sub-1", *s.SubmissionID)
	assert.Nil(t, s.PauseReason)

	assert.False(t, complete(s, "sub-2", t0.Add(time.Hour)))
	assert.Equal(t, "sub-1", *s.SubmissionID)
	assert.Equal(t, t0.Add(30*time.Second), *s.EndTime)

	_, err := pause(s, "again", PauseManual, t0.Add(time.Hour))
	assert.ErrorIs(t, err, errSessionCompleted)
	assert.ErrorIs(t, resume(s, t0.Add(time.Hour)), errSessionCompleted)
}

func TestStateOfDefaultsLegacyPause(t *testing.T) {
	s := activeRow()
	s.Status = models.SessionPaused
	st := StateOf(s).(Paused)
	assert.Equal(t, PauseManual, st.Source)
	assert.Equal(t, t0, st.Since)
}
