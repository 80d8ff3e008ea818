package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Attribute keys shared by payroll metrics and spans.
var (
	AttrDocumentType  = attribute.Key("payroll.document_type")
	AttrFromStatus    = attribute.Key("payroll.from_status")
	AttrToStatus      = attribute.Key("payroll.to_status")
	AttrTrigger       = attribute.Key("payroll.trigger")
	AttrOutcome       = attribute.Key("payroll.outcome")
	AttrErrorCode     = attribute.Key("payroll.error_code")
	AttrErrorCategory = attribute.Key("payroll.error_category")
	AttrBatchType     = attribute.Key("payroll.batch_type")
	AttrComponent     = attribute.Key("payroll.component")
	AttrStatus        = attribute.Key("payroll.status")
	AttrEventType     = attribute.Key("payroll.event_type")
	AttrActorID       = attribute.Key("payroll.actor_id")

	AttrHTTPMethod     = attribute.Key("http.request.method")
	AttrHTTPRoute      = attribute.Key("http.route")
	AttrHTTPStatusCode = attribute.Key("http.response.status_code")
)

// Histogram boundaries, in seconds unless noted
var (
	// template render plus storage upload
	GenerationDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	// a single status change including the audit write
	TransitionDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
	HTTPDurationBuckets       = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	// bytes; payslip PDFs sit in the tens of kilobytes, exports reach megabytes
	PayloadSizeBuckets = []float64{100, 1000, 10000, 100000, 1000000, 5000000, 20000000}
)

type Counter struct{ c metric.Int64Counter }

func (c *Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	c.c.Add(ctx, n, metric.WithAttributes(attrs...))
}

func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

type UpDownCounter struct{ c metric.Int64UpDownCounter }

func (c *UpDownCounter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	c.c.Add(ctx, n, metric.WithAttributes(attrs...))
}

type Histogram struct{ h metric.Float64Histogram }

func (h *Histogram) Record(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
	h.h.Record(ctx, v, metric.WithAttributes(attrs...))
}

// RecordDuration records d in seconds
func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.Record(ctx, d.Seconds(), attrs...)
}

type Gauge struct{ g metric.Int64Gauge }

func (g *Gauge) Record(ctx context.Context, v int64, attrs ...attribute.KeyValue) {
	g.g.Record(ctx, v, metric.WithAttributes(attrs...))
}

// Instruments creates instruments on one meter and collects creation errors,
// so a component can declare all of its instruments before checking Err once.
// An instrument that fails to register is replaced by a no-op.
type Instruments struct {
	meter    metric.Meter
	fallback metric.Meter
	errs     []error
}

func NewInstruments(meter metric.Meter) *Instruments {
	return &Instruments{meter: meter, fallback: noop.NewMeterProvider().Meter("")}
}

func (in *Instruments) fail(kind, name string, err error) {
	in.errs = append(in.errs, fmt.Errorf("failed to create %s %s: %w", kind, name, err))
}

func (in *Instruments) Counter(name, description, unit string) *Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		in.fail("counter", name, err)
		c, _ = in.fallback.Int64Counter(name)
	}
	return &Counter{c: c}
}

func (in *Instruments) UpDownCounter(name, description, unit string) *UpDownCounter {
	c, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		in.fail("up-down counter", name, err)
		c, _ = in.fallback.Int64UpDownCounter(name)
	}
	return &UpDownCounter{c: c}
}

// Histogram creates a float histogram; nil buckets keep the SDK defaults
func (in *Instruments) Histogram(name, description, unit string, buckets []float64) *Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(description), metric.WithUnit(unit)}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	if err != nil {
		in.fail("histogram", name, err)
		h, _ = in.fallback.Float64Histogram(name)
	}
	return &Histogram{h: h}
}

func (in *Instruments) Gauge(name, description, unit string) *Gauge {
	g, err := in.meter.Int64Gauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		in.fail("gauge", name, err)
		g, _ = in.fallback.Int64Gauge(name)
	}
	return &Gauge{g: g}
}

// Err joins every creation failure, or returns nil
func (in *Instruments) Err() error {
	return errors.Join(in.errs...)
}
