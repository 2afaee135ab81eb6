package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/proctoring_backend/internal/clock"
)

var jpeg = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 32)...)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := NewBreaker(3, 10*time.Second, clk)

	for i := 0; i < 2; i++ {
		b.RecordFailure("face")
		assert.True(t, b.Allow("face"))
	}
	b.RecordFailure("face")
	assert.Equal(t, StateOpen, b.State("face"))
	assert.False(t, b.Allow("face"))
	assert.True(t, b.Allow("audio"), "breakers are per endpoint")

	clk.Advance(10 * time.Second)
	assert.True(t, b.Allow("face"))
	assert.Equal(t, StateHalfOpen, b.State("face"))
	assert.False(t, b.Allow("face"), "only one probe in half-open")

	b.RecordSuccess("face")
	assert.Equal(t, StateClosed, b.State("face"))
	assert.True(t, b.Allow("face"))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := NewBreaker(1, time.Second, clk)
	b.RecordFailure("object")
	clk.Advance(time.Second)
	require.True(t, b.Allow("object"))
	b.RecordFailure("object")
	assert.Equal(t, StateOpen, b.State("object"))
}

func TestAnalyzeFaceForwardsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze/face", r.URL.Path)
		assert.Equal(t, "sess-1", r.URL.Query().Get("session_id"))
		assert.Equal(t, "face", r.URL.Query().Get("analysis_type"))
		assert.Equal(t, "2026-03-01T09:00:00Z", r.URL.Query().Get("timestamp"))

		f, _, err := r.FormFile("image")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, jpeg, data)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":       true,
			"session_id":    "sess-1",
			"analysis_type": "face",
			"results":       map[string]any{"face_count": 2},
			"violations": []map[string]any{
				{"type": "multiple_faces", "confidence": 0.9, "description": "2 faces detected"},
			},
			"violation_count": 1,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil).
		WithClock(clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
	res := c.Analyze(context.Background(), KindFace, Request{SessionID: "sess-1", Data: jpeg, MimeType: "image/jpeg"})

	assert.False(t, res.Degraded)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "multiple_faces", res.Violations[0].Type)
	assert.InDelta(t, 0.9, res.Violations[0].Confidence, 1e-9)
	require.NotNil(t, res.FaceCount())
	assert.Equal(t, 2, *res.FaceCount())
}

func TestAnalyzeAudioSendsDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze/audio", r.URL.Path)
		assert.Equal(t, "1500", r.URL.Query().Get("duration_ms"))
		_, _, err := r.FormFile("audio")
		require.NoError(t, err)
		_, _ = w.Write([]byte(`{"success":true,"analysis_type":"audio","results":{},"violations":[]}`))
	}))
	defer srv.Close()

	res := NewClient(srv.URL, time.Second, nil).
		Analyze(context.Background(), KindAudio, Request{SessionID: "s", DurationMS: 1500, Data: []byte("RIFF....WAVE"), MimeType: "audio/wav"})
	assert.False(t, res.Degraded)
	assert.Empty(t, res.Violations)
	assert.Equal(t, 0, res.ViolationCount)
}

func TestAnalyzeDegradesOnFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	c := NewClient(srv.URL, time.Second, nil).WithBreaker(NewBreaker(2, time.Minute, clk))

	for i := 0; i < 3; i++ {
		res := c.Analyze(context.Background(), KindFace, Request{SessionID: "s", Data: jpeg, MimeType: "image/jpeg"})
		assert.True(t, res.Degraded)
		assert.NotNil(t, res.Violations)
	}
	assert.Equal(t, int32(2), calls.Load(), "breaker short-circuits the third call")
}

func TestAnalyzeTimeoutIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	res := NewClient(srv.URL, 50*time.Millisecond, nil).
		Analyze(context.Background(), KindObject, Request{SessionID: "s", Data: jpeg, MimeType: "image/jpeg"})
	assert.True(t, res.Degraded)
	assert.Equal(t, "object", res.AnalysisType)
}

func TestAnalyzeBadBodyIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	res := NewClient(srv.URL, time.Second, nil).
		Analyze(context.Background(), KindFace, Request{Data: jpeg, MimeType: "image/jpeg"})
	assert.True(t, res.Degraded)
}

func TestUnconfiguredClientIsDegraded(t *testing.T) {
	c := NewClient("", time.Second, nil)
	assert.False(t, c.Enabled())
	res := c.Analyze(context.Background(), KindFace, Request{SessionID: "s"})
	assert.True(t, res.Degraded)
	assert.Equal(t, "s", res.SessionID)

	_, err := c.Health(context.Background())
	assert.Error(t, err)
}
