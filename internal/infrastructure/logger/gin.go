package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GinContextKey is where the request-scoped logger lives in gin.Context
const GinContextKey = "logger"

// route parameters copied into the request context so that SQL and
// application logs carry the workflow identifiers
var routeCorrelation = map[string]func(c *gin.Context, id string){
	"document_id": func(c *gin.Context, id string) {
		c.Request = c.Request.WithContext(WithDocumentID(c.Request.Context(), id))
	},
	"operation_id": func(c *gin.Context, id string) {
		c.Request = c.Request.WithContext(WithBatchID(c.Request.Context(), id))
	},
}

// GinMiddleware attaches a request-scoped logger to the gin and request
// contexts and writes one access log line per request. 5xx answers log at
// error, 4xx at warn.
func GinMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetString("request_id")

		reqLogger := logger.With(
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", routeOf(c)),
		)
		c.Set(GinContextKey, reqLogger)

		ctx := WithContext(c.Request.Context(), reqLogger)
		if requestID != "" {
			ctx = WithRequestID(ctx, requestID)
		}
		c.Request = c.Request.WithContext(ctx)
		for _, p := range c.Params {
			if attach, ok := routeCorrelation[p.Key]; ok {
				attach(c, p.Value)
			}
		}

		c.Next()

		status := c.Writer.Status()
		fields := append(correlationFields(c.Request.Context()),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		)
		if q := c.Request.URL.RawQuery; q != "" {
			fields = append(fields, zap.String("query", q))
		}
		if actorID := c.GetString("actor_id"); actorID != "" && GetActorID(c.Request.Context()) == "" {
			fields = append(fields, zap.String("actor_id", actorID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		logger.Check(accessLevel(status), "HTTP Request").Write(append(fields,
			zap.String("method", c.Request.Method),
			zap.String("route", routeOf(c)),
		)...)
	}
}

func accessLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func routeOf(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return "unmatched"
}

// Recovery turns a handler panic into a logged stack trace and a 500 in the
// API error envelope.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			requestID := c.GetString("request_id")
			logger.Error("Panic recovered",
				append(correlationFields(c.Request.Context()),
					zap.String("request_id", requestID),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", rec),
					zap.Stack("stacktrace"),
				)...,
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":       "ERR_INTERNAL",
					"message":    "internal server error",
					"request_id": requestID,
					"retryable":  true,
				},
			})
		}()
		c.Next()
	}
}

// GetGinLogger returns the request-scoped logger, or a no-op outside GinMiddleware
func GetGinLogger(c *gin.Context) *zap.Logger {
	if l, ok := c.Get(GinContextKey); ok {
		if zl, ok := l.(*zap.Logger); ok {
			return zl
		}
	}
	return zap.NewNop()
}
