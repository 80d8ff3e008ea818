package middleware

import (
	"slices"
	"time"

	"github.com/erp/payroll/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetricsConfig configures HTTPMetrics. Meter takes precedence over
// MeterProvider; with neither, or with Enabled false, the middleware is a
// pass-through.
type HTTPMetricsConfig struct {
	MeterProvider *telemetry.MeterProvider
	Meter         metric.Meter
	Enabled       bool
	// SkipPaths are probe routes left out of the series, e.g. "/health"
	SkipPaths []string
}

type httpMetrics struct {
	requests     *telemetry.Counter
	duration     *telemetry.Histogram
	requestSize  *telemetry.Histogram
	responseSize *telemetry.Histogram
	inFlight     *telemetry.UpDownCounter
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	in := telemetry.NewInstruments(meter)
	m := &httpMetrics{
		requests: in.Counter("http_server_request_total", "HTTP requests by route and status", "{request}"),
		duration: in.Histogram("http_server_request_duration_seconds", "HTTP request latency", "s",
			telemetry.HTTPDurationBuckets),
		requestSize: in.Histogram("http_server_request_size_bytes", "Declared request body size", "By",
			telemetry.PayloadSizeBuckets),
		responseSize: in.Histogram("http_server_response_size_bytes", "Written response body size", "By",
			telemetry.PayloadSizeBuckets),
		inFlight: in.UpDownCounter("http_server_active_requests", "Requests being served", "{request}"),
	}
	if err := in.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// HTTPMetrics records request count, latency, body sizes and in-flight
// requests. Series are keyed by the matched route pattern, never the raw path,
// so document and operation IDs do not multiply them.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	meter := cfg.Meter
	if meter == nil && cfg.MeterProvider.IsEnabled() {
		meter = cfg.MeterProvider.Meter("http.server")
	}
	if !cfg.Enabled || meter == nil {
		return passThrough
	}
	m, err := newHTTPMetrics(meter)
	if err != nil {
		return passThrough
	}

	return func(c *gin.Context) {
		if slices.Contains(cfg.SkipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		start := time.Now()

		m.inFlight.Add(ctx, 1)
		c.Next()
		m.inFlight.Add(ctx, -1)

		attrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(getRoutePattern(c)),
		}
		m.requests.Inc(ctx, append(attrs, telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()))...)
		m.duration.RecordDuration(ctx, time.Since(start), attrs...)
		if n := c.Request.ContentLength; n > 0 {
			m.requestSize.Record(ctx, float64(n), attrs...)
		}
		if n := c.Writer.Size(); n > 0 {
			m.responseSize.Record(ctx, float64(n), attrs...)
		}
	}
}

func passThrough(c *gin.Context) {
	c.Next()
}

// getRoutePattern returns the matched route, e.g. "/api/v1/payroll/documents/:document_id/status"
func getRoutePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}
