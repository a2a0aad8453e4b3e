package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"reward-anomaly-engine/internal/anomaly"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID tags every request with an id, reusing the caller's if present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one structured line per request.
func AccessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := logger.Info()
		if status >= http.StatusInternalServerError {
			evt = logger.Error()
		} else if status >= http.StatusBadRequest {
			evt = logger.Warn()
		}
		evt.Str("request_id", c.GetString(requestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// AuthMiddleware checks bearer tokens. Admin tokens may read reports; viewer
// tokens authenticate but are refused with 403 so the dashboard can render an
// access-restricted state. With no tokens configured every request passes.
func AuthMiddleware(adminTokens, viewerTokens []string, logger zerolog.Logger) gin.HandlerFunc {
	if len(adminTokens) == 0 && len(viewerTokens) == 0 {
		logger.Warn().Msg("http.admin_tokens is empty; anomaly endpoints are publicly accessible")
	}

	return func(c *gin.Context) {
		if len(adminTokens) == 0 && len(viewerTokens) == 0 {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortUnauthenticated(c)
			return
		}

		switch {
		case matchToken(token, adminTokens):
			c.Next()
		case matchToken(token, viewerTokens):
			abortWithError(c, anomaly.ErrPermissionDenied)
		default:
			abortUnauthenticated(c)
		}
	}
}

func matchToken(token string, candidates []string) bool {
	found := false
	for _, candidate := range candidates {
		if subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1 {
			found = true
		}
	}
	return found
}
