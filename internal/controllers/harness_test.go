package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/proctoring_backend/internal/analysis"
	"github.com/zaqqye/proctoring_backend/internal/clock"
	"github.com/zaqqye/proctoring_backend/internal/middleware"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/proctoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type caller struct{ id, role string }

var (
	t0        = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	candidate = caller{"user-1", models.RoleCandidate}
	stranger  = caller{"user-2", models.RoleCandidate}
	proctor   = caller{"proctor-1", models.RoleProctor}
	admin     = caller{"admin-1", models.RoleAdmin}
	anonymous = caller{}
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []analysis.Kind
	results map[analysis.Kind]*analysis.Result
}

func (f *fakeAnalyzer) Analyze(_ context.Context, kind analysis.Kind, req analysis.Request) *analysis.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind)
	if r, ok := f.results[kind]; ok {
		cp := *r
		cp.SessionID = req.SessionID
		return &cp
	}
	return &analysis.Result{Success: true, AnalysisType: string(kind), Results: map[string]any{}, Violations: []analysis.Violation{}}
}

func (f *fakeAnalyzer) kinds() []analysis.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analysis.Kind(nil), f.calls...)
}

type fakeTrust struct {
	err        error
	recomputes int
}

func (f *fakeTrust) Get(_ context.Context, userID string) (*models.TrustScore, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.TrustScore{UserID: userID, TotalScore: 80, TrustLevel: models.TrustHigh}, nil
}

func (f *fakeTrust) Recompute(ctx context.Context, userID string) (*models.TrustScore, error) {
	f.recomputes++
	return f.Get(ctx, userID)
}

type harness struct {
	r     *gin.Engine
	svc   *proctoring.Service
	store *proctoring.MemoryStore
	clk   *clock.Fake
	ml    *fakeAnalyzer
	trust *fakeTrust
}

// fakeAuth trusts X-User and X-Role headers.
func fakeAuth(c *gin.Context) {
	if id := c.GetHeader("X-User"); id != "" {
		middleware.SetPrincipal(c, middleware.Principal{UserID: id, Role: c.GetHeader("X-Role")})
	}
	c.Next()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: proctoring.NewMemoryStore(),
		clk:   clock.NewFake(t0),
		ml:    &fakeAnalyzer{results: map[analysis.Kind]*analysis.Result{}},
		trust: &fakeTrust{},
	}
	h.svc = proctoring.NewService(h.store, proctoring.DefaultPolicy(), nil).WithClock(h.clk)

	pc := &ProctoringController{Svc: h.svc}
	mc := &MediaController{Svc: h.svc, Analyzer: h.ml}
	sc := &SettingsController{Svc: h.svc}
	uc := &UserController{Svc: h.svc, Trust: h.trust}
	mon := &MonitoringController{Svc: h.svc}
	cfg := &ConfigController{Svc: h.svc, MLEnabled: true}

	r := gin.New()
	api := r.Group("/api", fakeAuth)
	api.POST("/session/start", pc.Start)
	api.POST("/session/end", pc.End)
	api.POST("/session/pause", pc.Pause)
	api.POST("/session/resume", pc.Resume)
	api.POST("/session/heartbeat", pc.Heartbeat)
	api.GET("/session/:id", pc.GetSession)
	api.GET("/session/:id/status", pc.Status)
	api.GET("/session/:id/analytics", pc.Analytics)
	api.GET("/session/:id/risk", pc.Risk)
	api.POST("/session/:id/snapshot", mc.Snapshot)
	api.POST("/session/:id/liveness-check", pc.Liveness)
	api.POST("/violation", pc.Violation)
	api.POST("/violations/batch", pc.ViolationBatch)
	api.POST("/events/batch", pc.EventBatch)
	api.POST("/analyze-face", mc.AnalyzeFace)
	api.POST("/analyze-audio", mc.AnalyzeAudio)
	api.POST("/analyze-object", mc.AnalyzeObject)
	api.GET("/settings", sc.Get)
	api.PUT("/settings", sc.Update)
	api.GET("/config", cfg.Get)
	api.GET("/user/:id/sessions", uc.Sessions)
	api.GET("/user/:id/violations/summary", uc.ViolationSummary)
	api.GET("/user/:id/trust", uc.GetTrust)
	api.POST("/user/:id/trust/recompute", uc.RecomputeTrust)
	api.GET("/monitoring/sessions", middleware.RequireRoles(models.RoleProctor), mon.ListSessions)
	h.r = r
	return h
}

// do sends body as JSON, or raw when it is []byte.
func (h *harness) do(t *testing.T, who caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case []byte:
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/octet-stream")
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	}
	return h.send(who, req)
}

func (h *harness) send(who caller, req *http.Request) *httptest.ResponseRecorder {
	if who.id != "" {
		req.Header.Set("X-User", who.id)
		req.Header.Set("X-Role", who.role)
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	return w
}

func (h *harness) start(t *testing.T, who caller) string {
	t.Helper()
	w := h.do(t, who, http.MethodPost, "/api/session/start", gin.H{
		"challengeId": "challenge-1",
		"consent":     gin.H{"accepted": true, "policyVersion": "2026-02-25", "noticeLocale": "en"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decode(t, w)["sessionId"].(string)
	require.NotEmpty(t, id)
	return id
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	require.Equal(t, code, decode(t, w)["code"])
}

func pad(prefix []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, prefix)
	return out
}

var (
	jpeg = pad([]byte{0xFF, 0xD8, 0xFF, 0xE0}, 2048)
	webm = pad([]byte{0x1A, 0x45, 0xDF, 0xA3}, 2048)
)

var errSQL = errors.New(`pq: relation "trust_scores" does not exist`)
