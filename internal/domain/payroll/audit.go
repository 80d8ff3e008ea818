package payroll

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TransitionTrigger classifies what caused a status change
type TransitionTrigger string

const (
	TriggerUserAction    TransitionTrigger = "USER_ACTION"
	TriggerSystemAction  TransitionTrigger = "SYSTEM_ACTION"
	TriggerScheduled     TransitionTrigger = "SCHEDULED"
	TriggerErrorRecovery TransitionTrigger = "ERROR_RECOVERY"
)

// IsValid returns true if the trigger is valid
func (t TransitionTrigger) IsValid() bool {
	switch t {
	case TriggerUserAction, TriggerSystemAction, TriggerScheduled, TriggerErrorRecovery:
		return true
	}
	return false
}

// ImpactLevel is the reporting severity of a status change
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "LOW"
	ImpactMedium   ImpactLevel = "MEDIUM"
	ImpactHigh     ImpactLevel = "HIGH"
	ImpactCritical ImpactLevel = "CRITICAL"
)

// BusinessImpact tags a status change for reporting
type BusinessImpact struct {
	Level       ImpactLevel `json:"level"`
	Category    string      `json:"category"`
	Description string      `json:"description,omitempty"`
}

// AuditErrorDetail is the persisted shape of a WorkflowError
type AuditErrorDetail struct {
	Code             ErrorCode         `json:"code"`
	Message          string            `json:"message"`
	UserMessage      string            `json:"user_message,omitempty"`
	Severity         ErrorSeverity     `json:"severity"`
	Category         ErrorCategory     `json:"category"`
	Retryable        bool              `json:"retryable"`
	RecoveryActions  []RecoveryAction  `json:"recovery_actions,omitempty"`
	SuggestedActions []string          `json:"suggested_actions,omitempty"`
	Violations       []FieldViolation  `json:"violations,omitempty"`
	Details          map[string]string `json:"details,omitempty"`
	Context          ErrorContext      `json:"context"`
	Cause            string            `json:"cause,omitempty"`
}

// ToAuditDetail converts the error into its persisted shape
func (e *WorkflowError) ToAuditDetail() *AuditErrorDetail {
	if e == nil {
		return nil
	}
	d := &AuditErrorDetail{
		Code:             e.Code,
		Message:          e.Message,
		UserMessage:      e.UserMessage,
		Severity:         e.Severity,
		Category:         e.Category,
		Retryable:        e.Retryable,
		RecoveryActions:  append([]RecoveryAction(nil), e.RecoveryActions...),
		SuggestedActions: append([]string(nil), e.SuggestedActions...),
		Violations:       append([]FieldViolation(nil), e.Violations...),
		Context:          e.Context,
	}
	if len(e.Details) > 0 {
		d.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			d.Details[k] = v
		}
	}
	if e.Cause != nil {
		d.Cause = e.Cause.Error()
	}
	return d
}

// ToWorkflowError rebuilds the error from its persisted shape
func (d *AuditErrorDetail) ToWorkflowError() *WorkflowError {
	if d == nil {
		return nil
	}
	e := &WorkflowError{
		Code:             d.Code,
		Message:          d.Message,
		UserMessage:      d.UserMessage,
		Severity:         d.Severity,
		Category:         d.Category,
		Retryable:        d.Retryable,
		RecoveryActions:  d.RecoveryActions,
		SuggestedActions: d.SuggestedActions,
		Violations:       d.Violations,
		Details:          d.Details,
		Context:          d.Context,
	}
	if d.Cause != "" {
		e.Cause = errors.New(d.Cause)
	}
	return e
}

// NewAuditRecordID returns a time-ordered id. Records that share a timestamp
// still sort in append order when ordered by id.
func NewAuditRecordID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// StatusChangeAuditRecord is one immutable entry of the audit trail.
// One record is written per transition attempt, successful or not.
type StatusChangeAuditRecord struct {
	ID             uuid.UUID         `json:"id"`
	DocumentID     string            `json:"document_id"`
	FromStatus     DocumentStatus    `json:"from_status,omitempty"`
	ToStatus       DocumentStatus    `json:"to_status"`
	Trigger        TransitionTrigger `json:"trigger"`
	ActorID        uuid.UUID         `json:"actor_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Reason         string            `json:"reason,omitempty"`
	Comments       string            `json:"comments,omitempty"`
	ProcessingTime time.Duration     `json:"processing_time"`
	Success        bool              `json:"success"`
	Forced         bool              `json:"forced"`
	BusinessImpact *BusinessImpact   `json:"business_impact,omitempty"`
	Error          *AuditErrorDetail `json:"error,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
}

// AuditTrail is append-only: no update or delete exists
type AuditTrail interface {
	// Append stores a new record
	Append(ctx context.Context, record *StatusChangeAuditRecord) error
	// History returns records for the document, newest first, capped at limit (0 means no cap)
	History(ctx context.Context, documentID string, limit int) ([]StatusChangeAuditRecord, error)
	// Count returns the number of records for the document
	Count(ctx context.Context, documentID string) (int64, error)
	// CountSince returns failed and total record counts since the given time
	CountSince(ctx context.Context, since time.Time) (failed int64, total int64, err error)
}
