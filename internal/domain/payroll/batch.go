package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AggregateTypeBatchOperation is the aggregate type name for events
const AggregateTypeBatchOperation = "BatchOperation"

// BatchOperationType is the operation applied across a selection
type BatchOperationType string

const (
	BatchOperationApprove BatchOperationType = "APPROVE"
	BatchOperationSend    BatchOperationType = "SEND"
	BatchOperationArchive BatchOperationType = "ARCHIVE"
	BatchOperationDelete  BatchOperationType = "DELETE"
	BatchOperationExport  BatchOperationType = "EXPORT"
)

// AllBatchOperationTypes returns all operation types
func AllBatchOperationTypes() []BatchOperationType {
	return []BatchOperationType{
		BatchOperationApprove, BatchOperationSend, BatchOperationArchive,
		BatchOperationDelete, BatchOperationExport,
	}
}

// IsValid returns true if the operation type is valid
func (t BatchOperationType) IsValid() bool {
	switch t {
	case BatchOperationApprove, BatchOperationSend, BatchOperationArchive,
		BatchOperationDelete, BatchOperationExport:
		return true
	}
	return false
}

// TargetStatus returns the status the operation transitions to, if any
func (t BatchOperationType) TargetStatus() (DocumentStatus, bool) {
	switch t {
	case BatchOperationApprove:
		return StatusApproved, true
	case BatchOperationSend:
		return StatusSent, true
	case BatchOperationArchive:
		return StatusArchived, true
	case BatchOperationDelete, BatchOperationExport:
		return "", false
	}
	return "", false
}

// Blocker returns why the document cannot take part in the operation, or "" if it can
func (t BatchOperationType) Blocker(doc *PayrollDocument) string {
	if doc.Deleted {
		return "document is deleted"
	}
	switch t {
	case BatchOperationApprove:
		if doc.Status != StatusGenerated {
			return fmt.Sprintf("status %s cannot be approved, expected %s", doc.Status, StatusGenerated)
		}
	case BatchOperationSend:
		if doc.Status != StatusApproved {
			return fmt.Sprintf("status %s cannot be sent, expected %s", doc.Status, StatusApproved)
		}
	case BatchOperationArchive:
		if !doc.Status.CanTransitionTo(StatusArchived) {
			return fmt.Sprintf("status %s cannot be archived", doc.Status)
		}
	case BatchOperationDelete:
		if doc.Status == StatusSent || doc.Status == StatusArchived {
			return fmt.Sprintf("status %s cannot be deleted", doc.Status)
		}
	case BatchOperationExport:
		if doc.File == nil || !doc.Status.HasFinalFile() {
			return "document has no final file to export"
		}
	default:
		return fmt.Sprintf("unsupported operation %s", t)
	}
	return ""
}

// BatchStatus is the lifecycle of a batch operation
type BatchStatus string

const (
	BatchStatusQueued    BatchStatus = "QUEUED"
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusCancelled BatchStatus = "CANCELLED"
)

// IsTerminal returns true for COMPLETED, FAILED and CANCELLED
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed || s == BatchStatusCancelled
}

// SelectionCriteria composes into a document filter
type SelectionCriteria struct {
	EmployeeIDs   []uuid.UUID      `json:"employee_ids,omitempty"`
	DocumentTypes []DocumentType   `json:"document_types,omitempty" validate:"dive,required"`
	Statuses      []DocumentStatus `json:"statuses,omitempty" validate:"dive,required"`
	PeriodIDs     []string         `json:"period_ids,omitempty" validate:"dive,required"`
	DateFrom      *time.Time       `json:"date_from,omitempty"`
	DateTo        *time.Time       `json:"date_to,omitempty"`
	BranchID      *uuid.UUID       `json:"branch_id,omitempty"`
	Tags          []string         `json:"tags,omitempty" validate:"dive,required"`
	SortBy        string           `json:"sort_by,omitempty" validate:"omitempty,oneof=created_at updated_at employee_code employee_name period document_type status version"`
	SortOrder     string           `json:"sort_order,omitempty" validate:"omitempty,oneof=asc desc ASC DESC"`
}

// IsEmpty reports whether no criterion is set
func (c SelectionCriteria) IsEmpty() bool {
	return len(c.EmployeeIDs) == 0 && len(c.DocumentTypes) == 0 && len(c.Statuses) == 0 &&
		len(c.PeriodIDs) == 0 && c.DateFrom == nil && c.DateTo == nil && c.BranchID == nil && len(c.Tags) == 0
}

// ToFilter validates the criteria and builds a repository filter over non-deleted documents
func (c SelectionCriteria) ToFilter() (DocumentFilter, error) {
	if c.IsEmpty() {
		return DocumentFilter{}, NewWorkflowError(ErrCodeInvalidBatchCriteria, "at least one selection criterion is required")
	}
	for _, t := range c.DocumentTypes {
		if !t.IsValid() {
			return DocumentFilter{}, NewWorkflowError(ErrCodeInvalidBatchCriteria, "unknown document type",
				WithField("document_types", "valid document type", t))
		}
	}
	for _, s := range c.Statuses {
		if !s.IsValid() {
			return DocumentFilter{}, NewWorkflowError(ErrCodeInvalidBatchCriteria, "unknown status",
				WithField("statuses", "valid document status", s))
		}
	}
	if c.DateFrom != nil && c.DateTo != nil && c.DateFrom.After(*c.DateTo) {
		return DocumentFilter{}, NewWorkflowError(ErrCodeInvalidBatchCriteria, "date range is inverted",
			WithField("date_from", "<= date_to", c.DateFrom.Format(time.RFC3339)))
	}
	periods := make([]Period, 0, len(c.PeriodIDs))
	for _, id := range c.PeriodIDs {
		p, err := ParsePeriod(id)
		if err != nil {
			return DocumentFilter{}, NewWorkflowError(ErrCodeInvalidBatchCriteria, err.Error(),
				WithField("period_ids", "YYYY or YYYY-MM", id))
		}
		periods = append(periods, p)
	}
	return DocumentFilter{
		EmployeeIDs: c.EmployeeIDs,
		Types:       c.DocumentTypes,
		Statuses:    c.Statuses,
		Periods:     periods,
		CreatedFrom: c.DateFrom,
		CreatedTo:   c.DateTo,
		BranchID:    c.BranchID,
		Tags:        normalizeTags(c.Tags),
		SortBy:      c.SortBy,
		SortOrder:   c.SortOrder,
	}, nil
}

// BatchParameters are applied to every item
type BatchParameters struct {
	Recipients []string `json:"recipients,omitempty" validate:"dive,email"`
	Reason     string   `json:"reason,omitempty" validate:"max=500"`
	Comments   string   `json:"comments,omitempty" validate:"max=2000"`
}

// BatchItemResult is the outcome of one successful item
type BatchItemResult struct {
	DocumentID  string         `json:"document_id"`
	NewStatus   DocumentStatus `json:"new_status,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// BatchItemError is the outcome of one failed item
type BatchItemError struct {
	DocumentID string            `json:"document_id"`
	Retryable  bool              `json:"retryable"`
	Error      *AuditErrorDetail `json:"error"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// BatchOperation is the state of one batch run.
// Successful + Failed == Processed, and Processed == TotalDocuments once terminal (unless cancelled).
type BatchOperation struct {
	ID              uuid.UUID          `json:"id"`
	Type            BatchOperationType `json:"type"`
	Criteria        SelectionCriteria  `json:"criteria"`
	Parameters      BatchParameters    `json:"parameters"`
	Status          BatchStatus        `json:"status"`
	Async           bool               `json:"async"`
	DocumentIDs     []string           `json:"document_ids"`
	TotalDocuments  int                `json:"total_documents"`
	Processed       int                `json:"processed"`
	Successful      int                `json:"successful"`
	Failed          int                `json:"failed"`
	CreatedAt       time.Time          `json:"created_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	InitiatedBy     uuid.UUID          `json:"initiated_by"`
	CancelRequested bool               `json:"cancel_requested"`
	ExportPath      string             `json:"export_path,omitempty"`
	Errors          []BatchItemError   `json:"errors"`
	Results         []BatchItemResult  `json:"results"`
}

// NewBatchOperation creates a QUEUED operation over a fixed selection
func NewBatchOperation(opType BatchOperationType, criteria SelectionCriteria, params BatchParameters,
	documentIDs []string, initiatedBy uuid.UUID, async bool, now time.Time) *BatchOperation {
	ids := make([]string, len(documentIDs))
	copy(ids, documentIDs)
	return &BatchOperation{
		ID:             uuid.New(),
		Type:           opType,
		Criteria:       criteria,
		Parameters:     params,
		Status:         BatchStatusQueued,
		Async:          async,
		DocumentIDs:    ids,
		TotalDocuments: len(ids),
		CreatedAt:      now,
		InitiatedBy:    initiatedBy,
		Errors:         []BatchItemError{},
		Results:        []BatchItemResult{},
	}
}

// Start moves a QUEUED operation to RUNNING
func (b *BatchOperation) Start(at time.Time) error {
	if b.Status != BatchStatusQueued {
		return NewWorkflowError(ErrCodeOperationNotCancellable,
			fmt.Sprintf("operation in status %s cannot start", b.Status))
	}
	b.Status = BatchStatusRunning
	b.StartedAt = &at
	return nil
}

// RecordSuccess counts one successful item
func (b *BatchOperation) RecordSuccess(result BatchItemResult) {
	b.Results = append(b.Results, result)
	b.Successful++
	b.Processed++
}

// RecordFailure counts one failed item
func (b *BatchOperation) RecordFailure(documentID string, err *WorkflowError, at time.Time) {
	b.Errors = append(b.Errors, BatchItemError{
		DocumentID: documentID,
		Retryable:  err.Retryable,
		Error:      err.ToAuditDetail(),
		OccurredAt: at,
	})
	b.Failed++
	b.Processed++
}

// Complete moves the operation to its terminal status
func (b *BatchOperation) Complete(at time.Time) {
	b.CompletedAt = &at
	if b.Successful == 0 && b.Failed > 0 {
		b.Status = BatchStatusFailed
		return
	}
	b.Status = BatchStatusCompleted
}

// Cancel is allowed only while QUEUED
func (b *BatchOperation) Cancel(at time.Time) error {
	if b.Status != BatchStatusQueued {
		return NewWorkflowError(ErrCodeOperationNotCancellable,
			fmt.Sprintf("only queued operations can be cancelled, current status is %s", b.Status),
			WithField("status", BatchStatusQueued, b.Status))
	}
	b.CancelRequested = true
	b.Status = BatchStatusCancelled
	b.CompletedAt = &at
	return nil
}

// Summary is a one-line progress description
func (b *BatchOperation) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s: %d/%d processed", b.Type, b.Status, b.Processed, b.TotalDocuments)
	if b.Failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", b.Failed)
	}
	return sb.String()
}
