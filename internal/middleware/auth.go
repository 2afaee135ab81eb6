package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/models"
)

const principalKey = "principal"

type AuthConfig struct {
	JWTSecret string
}

// Claims is the access token issued by the identity service.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   string
	Email  string
}

func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin }

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": apperr.CodeUnauthorized})
}

// AuthMiddleware verifies an HS256 bearer token and stores the Principal.
// Identity lives elsewhere; this is only the early exit.
func AuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			unauthorized(c, "missing or invalid authorization header")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			unauthorized(c, "invalid token")
			return
		}

		userID := strings.TrimSpace(claims.UserID)
		if userID == "" {
			userID = strings.TrimSpace(claims.Subject)
		}
		role := strings.ToLower(strings.TrimSpace(claims.Role))
		if userID == "" || !models.IsValidRole(role) {
			unauthorized(c, "invalid token")
			return
		}

		SetPrincipal(c, Principal{UserID: userID, Role: role, Email: claims.Email})
		c.Next()
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a websocket handshake, so upgrades may pass ?token= instead.
func bearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if auth != "" && strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):]), true
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		if t := strings.TrimSpace(c.Query("token")); t != "" {
			return t, true
		}
	}
	return "", false
}

func SetPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}

// PrincipalFrom returns the caller set by AuthMiddleware.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// IssueToken signs an access token for p. The server never issues tokens
// itself; tooling and tests do.
func IssueToken(secret string, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: p.UserID,
		Role:   p.Role,
		Email:  p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequireRoles lets the listed roles through. Admin passes every gate.
func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			unauthorized(c, "unauthorized")
			return
		}
		if _, ok := allowed[p.Role]; !ok && !p.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": apperr.CodeForbidden})
			return
		}
		c.Next()
	}
}
