package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"market-chat/internal/observability"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// RequestContext assigns a request id, echoes it to the client and stores it
// on the request context for downstream publishers.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		info := observability.ClientInfoFromRequest(c.Request)
		c.Set(RequestIDKey, info.RequestID)
		c.Header(observability.RequestIDHeader, info.RequestID)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), info.RequestID))
		c.Next()
	}
}

// Logger logs one line per request.
func Logger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString(RequestIDKey)).
			Str("user_id", c.GetString(UserIDKey)).
			Msg("request completed")
	}
}
