package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/payroll/internal/domain/shared"
	"golang.org/x/text/language"
)

// FieldViolation pins a validation failure to one input field
type FieldViolation struct {
	Field    string `json:"field"`
	Expected string `json:"expected,omitempty"`
	Received string `json:"received,omitempty"`
}

// ErrorContext records where and for whom an error occurred
type ErrorContext struct {
	Operation   string    `json:"operation,omitempty"`
	Component   string    `json:"component,omitempty"`
	ActorID     string    `json:"actor_id,omitempty"`
	DocumentID  string    `json:"document_id,omitempty"`
	OperationID string    `json:"operation_id,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment,omitempty"`
}

// WorkflowError is the structured failure used across the engine
type WorkflowError struct {
	Code             ErrorCode         `json:"code"`
	Message          string            `json:"message"`
	UserMessage      string            `json:"user_message"`
	Severity         ErrorSeverity     `json:"severity"`
	Category         ErrorCategory     `json:"category"`
	Retryable        bool              `json:"retryable"`
	RecoveryActions  []RecoveryAction  `json:"recovery_actions,omitempty"`
	SuggestedActions []string          `json:"suggested_actions,omitempty"`
	Violations       []FieldViolation  `json:"violations,omitempty"`
	Details          map[string]string `json:"details,omitempty"`
	Context          ErrorContext      `json:"context"`
	Cause            error             `json:"-"`

	handled bool
}

// ErrorOption customizes a WorkflowError at construction
type ErrorOption func(*WorkflowError)

// WithField attaches a field/expected/received violation
func WithField(field string, expected, received any) ErrorOption {
	return func(e *WorkflowError) {
		v := FieldViolation{Field: field}
		if expected != nil {
			v.Expected = fmt.Sprint(expected)
		}
		if received != nil {
			v.Received = fmt.Sprint(received)
		}
		e.Violations = append(e.Violations, v)
	}
}

// WithDetail attaches a free-form detail
func WithDetail(key, value string) ErrorOption {
	return func(e *WorkflowError) {
		if e.Details == nil {
			e.Details = make(map[string]string)
		}
		e.Details[key] = value
	}
}

// WithCause records the underlying error
func WithCause(err error) ErrorOption {
	return func(e *WorkflowError) {
		e.Cause = err
	}
}

// WithOperation sets the operation and component
func WithOperation(operation, component string) ErrorOption {
	return func(e *WorkflowError) {
		e.Context.Operation = operation
		e.Context.Component = component
	}
}

// WithDocument sets the document id in the context
func WithDocument(documentID string) ErrorOption {
	return func(e *WorkflowError) {
		e.Context.DocumentID = documentID
	}
}

// WithActor sets the acting user in the context
func WithActor(actorID string) ErrorOption {
	return func(e *WorkflowError) {
		e.Context.ActorID = actorID
	}
}

// WithRequestID sets the correlation id in the context
func WithRequestID(requestID string) ErrorOption {
	return func(e *WorkflowError) {
		e.Context.RequestID = requestID
	}
}

// WithRecoveryActions replaces the default recovery plan
func WithRecoveryActions(actions ...RecoveryAction) ErrorOption {
	return func(e *WorkflowError) {
		e.RecoveryActions = actions
	}
}

// WithTimestamp overrides the occurrence time
func WithTimestamp(at time.Time) ErrorOption {
	return func(e *WorkflowError) {
		e.Context.Timestamp = at
	}
}

// NewWorkflowError creates an error whose triage fields come from the code table
func NewWorkflowError(code ErrorCode, message string, opts ...ErrorOption) *WorkflowError {
	if !code.IsKnown() {
		message = fmt.Sprintf("%s (unknown code %s)", message, code)
		code = ErrCodeInternal
	}
	e := &WorkflowError{
		Code:             code,
		Message:          message,
		UserMessage:      code.UserMessage(language.English),
		Severity:         code.Severity(),
		Category:         code.Category(),
		Retryable:        code.Retryable(),
		RecoveryActions:  code.DefaultRecoveryActions(),
		SuggestedActions: code.SuggestedActions(),
		Context:          ErrorContext{Timestamp: time.Now().UTC()},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// Is matches workflow errors by code
func (e *WorkflowError) Is(target error) bool {
	var other *WorkflowError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Apply adds options after construction, e.g. to enrich context at a boundary
func (e *WorkflowError) Apply(opts ...ErrorOption) *WorkflowError {
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich fills context fields that are still empty. Fields an inner
// boundary already recorded are kept.
func (e *WorkflowError) Enrich(opts ...ErrorOption) *WorkflowError {
	var outer WorkflowError
	outer.Apply(opts...)
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&e.Context.Operation, outer.Context.Operation)
	fill(&e.Context.Component, outer.Context.Component)
	fill(&e.Context.ActorID, outer.Context.ActorID)
	fill(&e.Context.DocumentID, outer.Context.DocumentID)
	fill(&e.Context.OperationID, outer.Context.OperationID)
	fill(&e.Context.RequestID, outer.Context.RequestID)
	return e
}

// MarkHandled flags e as logged and counted and reports whether it already was
func (e *WorkflowError) MarkHandled() bool {
	already := e.handled
	e.handled = true
	return already
}

// Handled reports whether an error handler already processed e
func (e *WorkflowError) Handled() bool {
	return e.handled
}

// Localize returns the user message in the requested language
func (e *WorkflowError) Localize(tag language.Tag) string {
	return e.Code.UserMessage(tag)
}

// PublicMessage returns what may be shown to the immediate caller
func (e *WorkflowError) PublicMessage(tag language.Tag) string {
	if e.Category.ExposesDetail() {
		return e.Message
	}
	return SanitizedMessage(tag, e.Context.RequestID)
}

// HasAutomatedRecovery reports whether any recovery action may run unattended
func (e *WorkflowError) HasAutomatedRecovery() bool {
	for _, a := range e.RecoveryActions {
		if a.Automated {
			return true
		}
	}
	return false
}

// IsCode reports whether err is a WorkflowError with the given code
func IsCode(err error, code ErrorCode) bool {
	var we *WorkflowError
	return errors.As(err, &we) && we.Code == code
}

// domainCodeMapping translates shared domain errors into workflow codes
var domainCodeMapping = map[string]ErrorCode{
	shared.ErrNotFound.Code:            ErrCodeDocumentNotFound,
	shared.ErrInvalidInput.Code:        ErrCodeMissingRequiredField,
	shared.ErrInvalidState.Code:        ErrCodeInvalidStatusTransition,
	shared.ErrUnauthorized.Code:        ErrCodeUnauthorizedStatusChange,
	shared.ErrForbidden.Code:           ErrCodeInsufficientPermissions,
	shared.ErrConcurrencyConflict.Code: ErrCodeDatabaseQueryFailed,
	shared.ErrAlreadyExists.Code:       ErrCodeDuplicateDocument,
}

// AsWorkflowError converts any error into the taxonomy. Unknown errors get fallback.
func AsWorkflowError(err error, fallback ErrorCode) *WorkflowError {
	if err == nil {
		return nil
	}
	var we *WorkflowError
	if errors.As(err, &we) {
		return we
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewWorkflowError(ErrCodeTimeoutExceeded, "operation timed out", WithCause(err))
	}
	if errors.Is(err, context.Canceled) {
		return NewWorkflowError(ErrCodeOperationCancelled, "operation was cancelled", WithCause(err))
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		if code := ErrorCode(de.Code); code.IsKnown() {
			return NewWorkflowError(code, de.Message, WithCause(err))
		}
		if code, ok := domainCodeMapping[de.Code]; ok {
			return NewWorkflowError(code, de.Message, WithCause(err))
		}
	}
	return NewWorkflowError(fallback, err.Error(), WithCause(err))
}
