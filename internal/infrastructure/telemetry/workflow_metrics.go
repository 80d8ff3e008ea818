package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// StatusCountProvider supplies document counts per status for periodic collection.
type StatusCountProvider interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// WorkflowMetrics records payroll workflow metrics: transitions, generation, batches,
// workflow errors and component health.
type WorkflowMetrics struct {
	logger *zap.Logger

	transitionsTotal   *Counter
	transitionDuration *Histogram
	generationTotal    *Counter
	generationDuration *Histogram
	queueDepth         *Gauge
	batchItemsTotal    *Counter
	batchOpsTotal      *Counter
	errorsTotal        *Counter
	healthStatus       *Gauge
	documentsByStatus  *Gauge
	eventsTotal        *Counter

	statusProvider StatusCountProvider
	stopChan       chan struct{}
	stopOnce       sync.Once
	startOnce      sync.Once
}

// WorkflowMetricsConfig configures WorkflowMetrics.
type WorkflowMetricsConfig struct {
	Meter          metric.Meter
	Logger         *zap.Logger
	StatusProvider StatusCountProvider
}

// NewWorkflowMetrics creates all workflow instruments on the given meter.
func NewWorkflowMetrics(cfg WorkflowMetricsConfig) (*WorkflowMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	wm := &WorkflowMetrics{
		logger:         logger,
		statusProvider: cfg.StatusProvider,
		stopChan:       make(chan struct{}),
	}

	in := NewInstruments(cfg.Meter)
	wm.transitionsTotal = in.Counter("payroll_transitions_total", "Status transitions attempted", "{transitions}")
	wm.transitionDuration = in.Histogram("payroll_transition_duration_seconds",
		"Status transition processing time", "s", TransitionDurationBuckets)
	wm.generationTotal = in.Counter("payroll_generation_total", "Document generations by outcome", "{documents}")
	wm.generationDuration = in.Histogram("payroll_generation_duration_seconds",
		"PDF render and upload time", "s", GenerationDurationBuckets)
	wm.queueDepth = in.Gauge("payroll_generation_queue_depth", "Generation requests waiting for a slot", "{requests}")
	wm.batchItemsTotal = in.Counter("payroll_batch_items_total", "Batch items processed by outcome", "{documents}")
	wm.batchOpsTotal = in.Counter("payroll_batch_operations_total",
		"Batch operations finished by final status", "{operations}")
	wm.errorsTotal = in.Counter("payroll_workflow_errors_total", "Workflow errors handled", "{errors}")
	wm.healthStatus = in.Gauge("payroll_component_health", "Component health: 0 healthy, 1 warning, 2 critical", "1")
	wm.documentsByStatus = in.Gauge("payroll_documents", "Live documents per status", "{documents}")
	wm.eventsTotal = in.Counter("payroll_domain_events_total", "Domain events delivered on the event bus", "{events}")
	if err := in.Err(); err != nil {
		return nil, err
	}
	return wm, nil
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordTransition counts one transition attempt and its latency.
func (wm *WorkflowMetrics) RecordTransition(ctx context.Context, from, to, trigger string, success bool, d time.Duration) {
	attrs := []attribute.KeyValue{
		AttrFromStatus.String(from),
		AttrToStatus.String(to),
		AttrTrigger.String(trigger),
		AttrOutcome.String(outcome(success)),
	}
	wm.transitionsTotal.Inc(ctx, attrs...)
	wm.transitionDuration.RecordDuration(ctx, d, attrs[1], attrs[3])
}

// RecordGeneration counts one generation attempt for docType.
func (wm *WorkflowMetrics) RecordGeneration(ctx context.Context, docType string, success bool, d time.Duration) {
	wm.generationTotal.Inc(ctx, AttrDocumentType.String(docType), AttrOutcome.String(outcome(success)))
	if success {
		wm.generationDuration.RecordDuration(ctx, d, AttrDocumentType.String(docType))
	}
}

// RecordQueueDepth records the number of waiting generation requests.
func (wm *WorkflowMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	wm.queueDepth.Record(ctx, int64(depth))
}

// RecordBatchItem counts one processed batch item.
func (wm *WorkflowMetrics) RecordBatchItem(ctx context.Context, opType string, success bool) {
	wm.batchItemsTotal.Inc(ctx, AttrBatchType.String(opType), AttrOutcome.String(outcome(success)))
}

// RecordBatchFinished counts a batch that reached a terminal status.
func (wm *WorkflowMetrics) RecordBatchFinished(ctx context.Context, opType, status string) {
	wm.batchOpsTotal.Inc(ctx, AttrBatchType.String(opType), AttrStatus.String(status))
}

// RecordError counts a handled workflow error.
func (wm *WorkflowMetrics) RecordError(ctx context.Context, code, category string) {
	wm.errorsTotal.Inc(ctx, AttrErrorCode.String(code), AttrErrorCategory.String(category))
}

// RecordHealth records a component verdict (0 healthy, 1 warning, 2 critical).
func (wm *WorkflowMetrics) RecordHealth(ctx context.Context, component string, level int) {
	wm.healthStatus.Record(ctx, int64(level), AttrComponent.String(component))
}

// RecordEvent counts one delivered domain event.
func (wm *WorkflowMetrics) RecordEvent(ctx context.Context, eventType string) {
	wm.eventsTotal.Inc(ctx, AttrEventType.String(eventType))
}

// Start launches periodic collection of per-status document counts. It is a no-op
// without a StatusProvider and may be called once.
func (wm *WorkflowMetrics) Start(ctx context.Context, interval time.Duration) {
	if wm.statusProvider == nil {
		return
	}
	wm.startOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			wm.collect(ctx)
			for {
				select {
				case <-ticker.C:
					wm.collect(ctx)
				case <-wm.stopChan:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	})
}

// Stop ends periodic collection.
func (wm *WorkflowMetrics) Stop() {
	wm.stopOnce.Do(func() { close(wm.stopChan) })
}

func (wm *WorkflowMetrics) collect(ctx context.Context) {
	counts, err := wm.statusProvider.CountByStatus(ctx)
	if err != nil {
		wm.logger.Warn("Failed to collect document status counts", zap.Error(err))
		return
	}
	for status, n := range counts {
		wm.documentsByStatus.Record(ctx, n, AttrStatus.String(status))
	}
}
