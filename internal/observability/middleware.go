package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestIDHeader is echoed back when the caller supplies it.
const RequestIDHeader = "X-Request-ID"

// unmatchedRoute labels requests no route claimed, keeping metric
// cardinality bounded.
const unmatchedRoute = "unmatched"

// RequestLogger writes one line per admin request. Level follows status.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID != "" {
			c.Header(RequestIDHeader, reqID)
		}
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Info()
		}
		if id := c.Param("id"); id != "" {
			event = event.Str("session_id", id)
		}
		if reqID != "" {
			event = event.Str("request_id", reqID)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("route", route(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("admin_request")
	}
}

// RequestMetricsMiddleware records request counts and latency per route pattern.
func RequestMetricsMiddleware(slug string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(slug, c.Request.Method, route(c), c.Writer.Status(), time.Since(start))
	}
}

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}
