package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/proctoring_backend/internal/logging"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/x", append(handlers, func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "role": p.Role})
	})...)
	return r
}

func do(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	r := newRouter(AuthMiddleware(AuthConfig{JWTSecret: secret}))
	tok, err := IssueToken(secret, Principal{UserID: "u-1", Role: "candidate"}, time.Minute)
	require.NoError(t, err)

	w := do(r, tok)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u-1", body["user_id"])
	assert.Equal(t, "candidate", body["role"])
}

func TestAuthMiddlewareRejects(t *testing.T) {
	r := newRouter(AuthMiddleware(AuthConfig{JWTSecret: secret}))

	expired, _ := IssueToken(secret, Principal{UserID: "u-1", Role: "candidate"}, -time.Minute)
	wrongKey, _ := IssueToken("other", Principal{UserID: "u-1", Role: "candidate"}, time.Minute)
	badRole, _ := IssueToken(secret, Principal{UserID: "u-1", Role: "siswa"}, time.Minute)
	noUser, _ := IssueToken(secret, Principal{Role: "admin"}, time.Minute)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1", Role: "admin"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"missing":   "",
		"garbage":   "not-a-jwt",
		"expired":   expired,
		"wrong key": wrongKey,
		"bad role":  badRole,
		"no user":   noUser,
		"alg none":  unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			w := do(r, tok)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"UNAUTHORIZED"`)
		})
	}
}

func TestAuthMiddlewareQueryTokenOnlyForUpgrades(t *testing.T) {
	r := newRouter(AuthMiddleware(AuthConfig{JWTSecret: secret}))
	tok, err := IssueToken(secret, Principal{UserID: "p-1", Role: "proctor"}, time.Minute)
	require.NoError(t, err)

	plain := httptest.NewRequest(http.MethodGet, "/x?token="+tok, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, plain)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	upgrade := httptest.NewRequest(http.MethodGet, "/x?token="+tok, nil)
	upgrade.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, upgrade)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRoles(t *testing.T) {
	auth := AuthMiddleware(AuthConfig{JWTSecret: secret})
	r := newRouter(auth, RequireRoles("proctor"))

	cand, _ := IssueToken(secret, Principal{UserID: "c", Role: "candidate"}, time.Minute)
	proc, _ := IssueToken(secret, Principal{UserID: "p", Role: "proctor"}, time.Minute)
	adm, _ := IssueToken(secret, Principal{UserID: "a", Role: "admin"}, time.Minute)

	assert.Equal(t, http.StatusForbidden, do(r, cand).Code)
	assert.Equal(t, http.StatusOK, do(r, proc).Code)
	assert.Equal(t, http.StatusOK, do(r, adm).Code)

	noAuth := newRouter(RequireRoles("proctor"))
	assert.Equal(t, http.StatusUnauthorized, do(noAuth, "").Code)
}

func TestRequestIDPropagates(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "debug", "json")

	r := gin.New()
	r.Use(RequestID(logger), RequestLogger())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = logging.CorrelationID(c.Request.Context())
		c.Status(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), `"correlation_id":"req-42"`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestRecoveryHidesPanic(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(logging.NewWithWriter(&bytes.Buffer{}, "error", "json")), Recovery())
	r.GET("/x", func(c *gin.Context) { panic("pq: relation \"secrets\" does not exist") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secrets")
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
