package handler

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequireBearerMiddleware protects /api/* behind a bearer token. When
// TR_AUTH_TOKEN is set the presented token must match it; otherwise any
// non-empty bearer passes (a fronting gateway owns validation in that mode).
// TR_AUTH_DISABLED=true turns the check off entirely, e.g. for local runs.
func RequireBearerMiddleware() gin.HandlerFunc {
	disabled := strings.EqualFold(os.Getenv("TR_AUTH_DISABLED"), "true") || os.Getenv("TR_AUTH_DISABLED") == "1"
	token := strings.TrimSpace(os.Getenv("TR_AUTH_TOKEN"))

	return func(c *gin.Context) {
		if disabled {
			c.Next()
			return
		}
		p := c.Request.URL.Path
		// Keep infra endpoints open.
		if p == "/healthz" || p == "/readyz" || p == "/metrics" {
			c.Next()
			return
		}
		if strings.HasPrefix(p, "/api/") {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if !strings.HasPrefix(auth, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
				return
			}
			if token != "" {
				presented := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
				if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
					c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
					return
				}
			}
		}
		c.Next()
	}
}

// WriteAuditMiddleware logs every mutating /api/* request after it completes,
// with status and duration. Reads are skipped to keep the log usable.
func WriteAuditMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		method := strings.ToUpper(c.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}

		logger.Info("api write",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
