package controllers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/proctoring_backend/internal/analysis"
	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/utils"
)

func TestAnalyzePayloadValidationOrder(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, candidate, http.MethodPost, "/api/analyze-face", []byte{})
	requireError(t, w, http.StatusBadRequest, apperr.CodePayloadEmpty)

	w = h.do(t, candidate, http.MethodPost, "/api/analyze-face", make([]byte, utils.MaxImageBytes+1))
	requireError(t, w, http.StatusRequestEntityTooLarge, apperr.CodePayloadTooLarge)

	w = h.do(t, candidate, http.MethodPost, "/api/analyze-face", webm)
	requireError(t, w, http.StatusUnsupportedMediaType, apperr.CodeUnsupportedMediaType)

	w = h.do(t, candidate, http.MethodPost, "/api/analyze-audio", jpeg)
	requireError(t, w, http.StatusUnsupportedMediaType, apperr.CodeUnsupportedMediaType)

	// Valid payload, missing session.
	w = h.do(t, candidate, http.MethodPost, "/api/analyze-face", jpeg)
	requireError(t, w, http.StatusBadRequest, apperr.CodeInvalidRequest)
	assert.Empty(t, h.ml.kinds())
}

func TestAnalyzeFaceRecordsDetections(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, candidate)
	h.ml.results[analysis.KindFace] = &analysis.Result{
		Success:      true,
		AnalysisType: "face",
		Results:      map[string]any{"face_count": float64(2)},
		Violations:   []analysis.Violation{{Type: "multiple_faces", Confidence: 0.9, Description: "2 faces"}},
	}

	w := h.do(t, candidate, http.MethodPost, "/api/analyze-face?session_id="+id, jpeg)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["degraded"])
	assert.EqualValues(t, 1, body["violations_recorded"])
	assert.EqualValues(t, 10, body["total_penalty"])

	vs, err := h.store.ListViolations(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "ml", vs[0].Source)
	assert.Contains(t, string(vs[0].Evidence), utils.SHA256Hex(jpeg))

	w = h.do(t, stranger, http.MethodPost, "/api/analyze-face?session_id="+id, jpeg)
	requireError(t, w, http.StatusForbidden, apperr.CodeForbidden)
}

func TestAnalyzeDegradedIsNotAnError(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, candidate)
	h.ml.results[analysis.KindAudio] = analysis.Degraded(analysis.KindAudio, "", "ml service unavailable")

	w := h.do(t, candidate, http.MethodPost, "/api/analyze-audio?duration_ms=3000&session_id="+id, webm)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["degraded"])
	assert.EqualValues(t, 0, body["violations_recorded"])
	assert.NotContains(t, body, "total_penalty")

	vs, err := h.store.ListViolations(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func multipartImage(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "frame.jpg")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSnapshotRunsFaceAndObjectAnalysis(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, candidate)
	h.ml.results[analysis.KindFace] = &analysis.Result{
		Success:    true,
		Results:    map[string]any{"face_count": float64(2)},
		Violations: []analysis.Violation{{Type: "multiple_faces", Confidence: 0.8}},
	}
	h.ml.results[analysis.KindObject] = &analysis.Result{
		Success:    true,
		Results:    map[string]any{},
		Violations: []analysis.Violation{{Type: "forbidden_object", Confidence: 0.7, Description: "cell phone"}},
	}

	body, ct := multipartImage(t, "image", jpeg)
	req := httptest.NewRequest(http.MethodPost, "/api/session/"+id+"/snapshot", body)
	req.Header.Set("Content-Type", ct)
	w := h.send(candidate, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	out := decode(t, w)
	snap := out["snapshot"].(map[string]any)
	assert.EqualValues(t, 2, snap["violations_created"])
	assert.EqualValues(t, 80, snap["integrity_score"])
	assert.Equal(t, false, out["degraded"])
	assert.ElementsMatch(t, []analysis.Kind{analysis.KindFace, analysis.KindObject}, h.ml.kinds())

	snaps, err := h.store.ListSnapshots(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.NotNil(t, snaps[0].FaceCount)
	assert.Equal(t, 2, *snaps[0].FaceCount)
	assert.Equal(t, len(jpeg), snaps[0].SizeBytes)
}

func TestSnapshotLimitsAndState(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, candidate)

	w := h.do(t, candidate, http.MethodPost, "/api/session/"+id+"/snapshot", pad([]byte{0xFF, 0xD8, 0xFF}, utils.MaxSnapshotBytes+1))
	requireError(t, w, http.StatusRequestEntityTooLarge, apperr.CodePayloadTooLarge)

	body, ct := multipartImage(t, "other", jpeg)
	req := httptest.NewRequest(http.MethodPost, "/api/session/"+id+"/snapshot", body)
	req.Header.Set("Content-Type", ct)
	requireError(t, h.send(candidate, req), http.StatusBadRequest, apperr.CodePayloadEmpty)

	h.do(t, candidate, http.MethodPost, "/api/session/end", gin.H{"sessionId": id})
	w = h.do(t, candidate, http.MethodPost, "/api/session/"+id+"/snapshot", jpeg)
	requireError(t, w, http.StatusConflict, apperr.CodeSessionCompleted)
	assert.Empty(t, h.ml.kinds())
}
