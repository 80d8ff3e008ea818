package event

import (
	"context"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"go.uber.org/zap"
)

// EventRecorder counts delivered domain events
type EventRecorder interface {
	RecordEvent(ctx context.Context, eventType string)
}

// MetricsSubscriber counts every payroll domain event
type MetricsSubscriber struct {
	recorder EventRecorder
}

// NewMetricsSubscriber creates a new MetricsSubscriber
func NewMetricsSubscriber(recorder EventRecorder) *MetricsSubscriber {
	return &MetricsSubscriber{recorder: recorder}
}

// Handle records the event type
func (s *MetricsSubscriber) Handle(ctx context.Context, event shared.DomainEvent) error {
	s.recorder.RecordEvent(ctx, event.EventType())
	return nil
}

// EventTypes returns the payroll event types
func (s *MetricsSubscriber) EventTypes() []string {
	return []string{
		payroll.EventTypeDocumentStatusChanged,
		payroll.EventTypeDocumentGenerated,
		payroll.EventTypeBatchOperationCompleted,
		payroll.EventTypeWorkflowAlertRaised,
	}
}

// AlertLogger writes raised workflow alerts to the operational log
type AlertLogger struct {
	logger *zap.Logger
}

// NewAlertLogger creates a new AlertLogger
func NewAlertLogger(logger *zap.Logger) *AlertLogger {
	return &AlertLogger{logger: logger}
}

// Handle logs the alert at error level
func (a *AlertLogger) Handle(ctx context.Context, event shared.DomainEvent) error {
	alert, ok := event.(*payroll.WorkflowAlertRaisedEvent)
	if !ok {
		return nil
	}
	a.logger.Error("Payroll workflow alert",
		zap.String("code", string(alert.Code)),
		zap.String("category", string(alert.Category)),
		zap.String("severity", string(alert.Severity)),
		zap.String("reason", alert.Reason),
		zap.Int("count", alert.Count),
		zap.Time("occurred_at", alert.OccurredAt()),
	)
	return nil
}

// EventTypes returns the alert event type
func (a *AlertLogger) EventTypes() []string {
	return []string{payroll.EventTypeWorkflowAlertRaised}
}
