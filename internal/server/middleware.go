package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	secretHeader = "X-Collector-Secret"
	logAttrsKey  = "collector.log_attrs"
)

// AuthMiddleware validates the X-Collector-Secret header against the expected
// secret. Routes listed in public are served without it.
func AuthMiddleware(secret string, public ...string) gin.HandlerFunc {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	return func(c *gin.Context) {
		if open[c.FullPath()] {
			c.Next()
			return
		}

		provided := c.GetHeader(secretHeader)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "missing " + secretHeader + " header",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"ok":    false,
				"error": "invalid secret",
			})
			return
		}

		c.Next()
	}
}

// logAttrs attaches key/value pairs to the request's log line.
func logAttrs(c *gin.Context, args ...any) {
	prev, _ := c.Get(logAttrsKey)
	attrs, _ := prev.([]any)
	c.Set(logAttrsKey, append(attrs, args...))
}

// LoggingMiddleware logs each request with duration, status and whatever the
// handler attached with logAttrs. Rejected and failed requests log at Warn.
func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		args := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"ip", c.ClientIP(),
		}
		if v, ok := c.Get(logAttrsKey); ok {
			if extra, ok := v.([]any); ok {
				args = append(args, extra...)
			}
		}

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "status api request", args...)
	}
}

// RecoveryMiddleware catches panics and returns a 500 error.
func RecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("status api panic",
					"err", r,
					"route", c.FullPath(),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"ok":    false,
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
