package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/middleware"
	"github.com/zaqqye/proctoring_backend/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; rely on JWT auth.
		return true
	},
}

// MonitoringHandler upgrades admin and proctor dashboards. An optional
// ?session_id=a,b narrows the feed.
func MonitoringHandler(hub *MonitoringHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hub == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "realtime not available"})
			return
		}
		p, ok := middleware.PrincipalFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": apperr.CodeUnauthorized})
			return
		}
		if p.Role != models.RoleAdmin && p.Role != models.RoleProctor {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": apperr.CodeForbidden})
			return
		}

		var sessions map[string]struct{}
		if raw := strings.TrimSpace(c.Query("session_id")); raw != "" {
			sessions = map[string]struct{}{}
			for _, id := range strings.Split(raw, ",") {
				if id = strings.TrimSpace(id); id != "" {
					sessions[id] = struct{}{}
				}
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		cl := newClient(conn, p.UserID, sessions, sendBufferSize)
		if !hub.add(cl) {
			conn.Close()
			return
		}

		go cl.writePump()
		cl.readPump(func() { hub.remove(cl) })
	}
}

// CandidateHandler upgrades the caller's own notification socket.
func CandidateHandler(hub *CandidateHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hub == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "realtime not available"})
			return
		}
		p, ok := middleware.PrincipalFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": apperr.CodeUnauthorized})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		cl := newClient(conn, p.UserID, nil, 64)
		if !hub.add(cl) {
			conn.Close()
			return
		}

		go cl.writePump()
		cl.readPump(func() { hub.remove(cl) })
	}
}
