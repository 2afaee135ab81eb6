package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
)

// sessionIDFrom validates a session id before it reaches the store. Ids are
// uuids, so anything else cannot resolve.
func sessionIDFrom(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apperr.Invalid("sessionId is required")
	}
	val, err := uuid.Parse(s)
	if err != nil {
		return "", apperr.NotFound(apperr.CodeSessionNotFound, "session not found")
	}
	return val.String(), nil
}

// sessionParam reads the :id path parameter.
func sessionParam(c *gin.Context) (string, error) {
	return sessionIDFrom(c.Param("id"))
}
