package payroll

import (
	"time"

	"github.com/erp/payroll/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants
const (
	EventTypeDocumentStatusChanged   = "PayrollDocumentStatusChanged"
	EventTypeDocumentGenerated       = "PayrollDocumentGenerated"
	EventTypeBatchOperationCompleted = "PayrollBatchOperationCompleted"
	EventTypeWorkflowAlertRaised     = "PayrollWorkflowAlertRaised"
)

// DocumentStatusChangedEvent is published after a successful transition
type DocumentStatusChangedEvent struct {
	shared.BaseDomainEvent
	DocumentID string            `json:"document_id"`
	FromStatus DocumentStatus    `json:"from_status"`
	ToStatus   DocumentStatus    `json:"to_status"`
	Trigger    TransitionTrigger `json:"trigger"`
	ActorID    uuid.UUID         `json:"actor_id"`
	Forced     bool              `json:"forced"`
}

// NewDocumentStatusChangedEvent creates a new status changed event
func NewDocumentStatusChangedEvent(doc *PayrollDocument, from DocumentStatus, trigger TransitionTrigger, actorID uuid.UUID, forced bool, at time.Time) *DocumentStatusChangedEvent {
	return &DocumentStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDocumentStatusChanged, AggregateTypePayrollDocument, doc.ID, at),
		DocumentID:      doc.DocumentID,
		FromStatus:      from,
		ToStatus:        doc.Status,
		Trigger:         trigger,
		ActorID:         actorID,
		Forced:          forced,
	}
}

// DocumentGeneratedEvent is published when a file has been produced and stored
type DocumentGeneratedEvent struct {
	shared.BaseDomainEvent
	DocumentID string         `json:"document_id"`
	Type       DocumentType   `json:"document_type"`
	Mode       GenerationMode `json:"mode"`
	Size       int64          `json:"size"`
	Duration   time.Duration  `json:"duration"`
}

// NewDocumentGeneratedEvent creates a new generated event
func NewDocumentGeneratedEvent(doc *PayrollDocument, size int64, duration time.Duration, at time.Time) *DocumentGeneratedEvent {
	return &DocumentGeneratedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDocumentGenerated, AggregateTypePayrollDocument, doc.ID, at),
		DocumentID:      doc.DocumentID,
		Type:            doc.Type,
		Mode:            doc.Generation.Mode,
		Size:            size,
		Duration:        duration,
	}
}

// BatchOperationCompletedEvent is published when a batch reaches a terminal status
type BatchOperationCompletedEvent struct {
	shared.BaseDomainEvent
	OperationType BatchOperationType `json:"operation_type"`
	Status        BatchStatus        `json:"status"`
	Total         int                `json:"total"`
	Successful    int                `json:"successful"`
	Failed        int                `json:"failed"`
}

// NewBatchOperationCompletedEvent creates a new batch completed event
func NewBatchOperationCompletedEvent(op *BatchOperation, at time.Time) *BatchOperationCompletedEvent {
	return &BatchOperationCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBatchOperationCompleted, AggregateTypeBatchOperation, op.ID, at),
		OperationType:   op.Type,
		Status:          op.Status,
		Total:           op.TotalDocuments,
		Successful:      op.Successful,
		Failed:          op.Failed,
	}
}

// WorkflowAlertRaisedEvent is published by the error handler alert hook
type WorkflowAlertRaisedEvent struct {
	shared.BaseDomainEvent
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Reason   string        `json:"reason"`
	Count    int           `json:"count"`
}

// NewWorkflowAlertRaisedEvent creates a new alert event
func NewWorkflowAlertRaisedEvent(err *WorkflowError, reason string, count int, at time.Time) *WorkflowAlertRaisedEvent {
	return &WorkflowAlertRaisedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeWorkflowAlertRaised, "WorkflowError", uuid.New(), at),
		Code:            err.Code,
		Category:        err.Category,
		Severity:        err.Severity,
		Reason:          reason,
		Count:           count,
	}
}
