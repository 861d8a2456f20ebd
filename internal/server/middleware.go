package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/merchantshield/internal/idgen"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/internal/metrics"
	"github.com/mbd888/merchantshield/internal/security"
)

// maxRequestIDLen bounds caller-supplied request ids before they reach logs.
const maxRequestIDLen = 128

func (s *Server) setupMiddleware() {
	s.router.Use(
		s.requestIDMiddleware(),
		s.recoveryMiddleware(),
		security.HeadersMiddleware(),
		security.CORSMiddleware(s.cfg.AllowedOrigins),
		security.RequestSizeMiddleware(security.MaxRequestSize),
		metrics.Middleware(),
		s.accessLogMiddleware(),
	)
}

// requestIDMiddleware runs first so every later log line, including a
// recovered panic, carries the id.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(logging.WithLogger(ctx, s.logger))
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"panic", recovered,
			"route", c.FullPath(),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	})
}

// accessLogMiddleware logs one line per request: debug on success, warn
// on client errors, error on server errors.
func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		level := slog.LevelDebug
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
			attrs = append(attrs, "client_ip", c.ClientIP())
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		ctx := c.Request.Context()
		logging.L(ctx).Log(ctx, level, "request completed", attrs...)
	}
}
