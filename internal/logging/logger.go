// Package logging wires zerolog into the hub, fanning every record to
// stdout and into the Store's ring buffer so GET /api/logs reflects exactly
// what operators see on the process log. The request-ID middleware mirrors
// withRequestContext from the vouch example, minus its OpenTelemetry span
// plumbing — this hub has no tracing component to feed.
package logging

import (
	"io"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/lookouthub/lookout-server/internal/store"
)

const (
	requestIDContextKey     = "request_id"
	requestLoggerContextKey = "request_logger"
	requestIDHeader         = "X-Request-ID"
)

// ringWriter is a zerolog.LevelWriter that appends every record to the
// Store's ring buffer in addition to whatever io.Writer it wraps.
type ringWriter struct {
	out   io.Writer
	store *store.Store
}

func (w *ringWriter) Write(p []byte) (int, error) {
	return w.out.Write(p)
}

func (w *ringWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	w.store.AppendLog(level.String(), string(p), nil)
	return w.out.Write(p)
}

// New builds the base logger for the process. In debug mode it uses
// zerolog's human-readable console writer, following gin's own
// debug/release mode switch; otherwise it emits line-delimited JSON,
// the production default.
func New(s *store.Store, level string, debug bool) zerolog.Logger {
	var out io.Writer = os.Stdout
	if debug {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(&ringWriter{out: out, store: s}).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// RequestContext attaches a request id (generated via github.com/rs/xid
// when the caller didn't supply one) and a request-scoped logger to every
// inbound request, echoing the id back in X-Request-ID.
func RequestContext(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = xid.New().String()
		}
		c.Set(requestIDContextKey, reqID)
		c.Writer.Header().Set(requestIDHeader, reqID)

		logger := base.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Logger()
		c.Set(requestLoggerContextKey, logger)

		c.Next()
	}
}

// FromContext returns the request-scoped logger set by RequestContext, or
// fallback if none is present (e.g. a handler invoked outside the gin
// request lifecycle, such as a test).
func FromContext(c *gin.Context, fallback zerolog.Logger) zerolog.Logger {
	if v, ok := c.Get(requestLoggerContextKey); ok {
		if logger, ok := v.(zerolog.Logger); ok {
			return logger
		}
	}
	return fallback
}

// RequestID returns the request id set by RequestContext, or "" if absent.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDContextKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
