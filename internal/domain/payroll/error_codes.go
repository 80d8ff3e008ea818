package payroll

import "time"

// ErrorSeverity ranks how urgently an error needs attention
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// Rank orders severities from 1 (LOW) to 4 (CRITICAL)
func (s ErrorSeverity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ErrorCategory groups codes by triage policy
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "VALIDATION"
	CategoryBusinessLogic ErrorCategory = "BUSINESS_LOGIC"
	CategorySystem        ErrorCategory = "SYSTEM"
	CategoryExternal      ErrorCategory = "EXTERNAL"
	CategorySecurity      ErrorCategory = "SECURITY"
	CategoryPerformance   ErrorCategory = "PERFORMANCE"
)

// AllErrorCategories returns every category
func AllErrorCategories() []ErrorCategory {
	return []ErrorCategory{
		CategoryValidation, CategoryBusinessLogic, CategorySystem,
		CategoryExternal, CategorySecurity, CategoryPerformance,
	}
}

// ExposesDetail reports whether callers receive the internal message and field details.
// Other categories are logged in full but returned sanitized.
func (c ErrorCategory) ExposesDetail() bool {
	return c == CategoryValidation || c == CategoryBusinessLogic
}

// ErrorCode is the stable identifier of a workflow failure
type ErrorCode string

const (
	// Validation
	ErrCodeInvalidEmployeeData  ErrorCode = "INVALID_EMPLOYEE_DATA"
	ErrCodeInvalidPayrollData   ErrorCode = "INVALID_PAYROLL_DATA"
	ErrCodeInvalidPeriod        ErrorCode = "INVALID_PERIOD"
	ErrCodeInvalidDocumentType  ErrorCode = "INVALID_DOCUMENT_TYPE"
	ErrCodeMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"
	ErrCodeInvalidBatchCriteria ErrorCode = "INVALID_BATCH_CRITERIA"

	// Business logic
	ErrCodeInvalidStatusTransition ErrorCode = "INVALID_STATUS_TRANSITION"
	ErrCodeCurrentStatusUnknown    ErrorCode = "CURRENT_STATUS_UNKNOWN"
	ErrCodeDocumentNotFound        ErrorCode = "DOCUMENT_NOT_FOUND"
	ErrCodeDocumentDeleted         ErrorCode = "DOCUMENT_DELETED"
	ErrCodeDuplicateDocument       ErrorCode = "DUPLICATE_DOCUMENT"
	ErrCodeEmployeeInactive        ErrorCode = "EMPLOYEE_INACTIVE"
	ErrCodeBatchLimitExceeded      ErrorCode = "BATCH_LIMIT_EXCEEDED"
	ErrCodeBatchValidationFailed   ErrorCode = "BATCH_VALIDATION_FAILED"
	ErrCodeOperationNotCancellable ErrorCode = "OPERATION_NOT_CANCELLABLE"
	ErrCodeOperationCancelled      ErrorCode = "OPERATION_CANCELLED"
	ErrCodeOperationNotFound       ErrorCode = "OPERATION_NOT_FOUND"

	// System
	ErrCodePDFGenerationFailed      ErrorCode = "PDF_GENERATION_FAILED"
	ErrCodePDFValidationFailed      ErrorCode = "PDF_VALIDATION_FAILED"
	ErrCodeStorageWriteFailed       ErrorCode = "STORAGE_WRITE_FAILED"
	ErrCodeStorageReadFailed        ErrorCode = "STORAGE_READ_FAILED"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseQueryFailed      ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeAuditWriteFailed         ErrorCode = "AUDIT_WRITE_FAILED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"

	// Security
	ErrCodeUnauthorizedStatusChange ErrorCode = "UNAUTHORIZED_STATUS_CHANGE"
	ErrCodeInsufficientPermissions  ErrorCode = "INSUFFICIENT_PERMISSIONS"

	// Performance
	ErrCodeTimeoutExceeded       ErrorCode = "TIMEOUT_EXCEEDED"
	ErrCodeQueueCapacityExceeded ErrorCode = "QUEUE_CAPACITY_EXCEEDED"
	ErrCodeResourceExhausted     ErrorCode = "RESOURCE_EXHAUSTED"

	// External
	ErrCodeStorageServiceUnavailable ErrorCode = "STORAGE_SERVICE_UNAVAILABLE"
	ErrCodeRendererUnavailable       ErrorCode = "RENDERER_UNAVAILABLE"
)

// codeProfile is one row of the triage table
type codeProfile struct {
	category    ErrorCategory
	severity    ErrorSeverity
	retryable   bool
	recovery    []RecoveryAction
	suggestions []string
}

var (
	retryShort = RecoveryAction{Strategy: RecoveryRetry, Description: "Retry the operation", MaxAttempts: 3, BackoffDelay: 2 * time.Second, Automated: true}
	retryLong  = RecoveryAction{Strategy: RecoveryRetry, Description: "Retry after the dependency recovers", MaxAttempts: 3, BackoffDelay: 30 * time.Second, Automated: true}
	fixInput   = RecoveryAction{Strategy: RecoveryManualIntervention, Description: "Correct the input and resubmit", EscalationLevel: 1}
	escalateL2 = RecoveryAction{Strategy: RecoveryManualIntervention, Description: "Escalate to payroll administrators", EscalationLevel: 2}
	escalateL3 = RecoveryAction{Strategy: RecoveryManualIntervention, Description: "Escalate to the platform on-call", EscalationLevel: 3}
	skipItem   = RecoveryAction{Strategy: RecoverySkip, Description: "Skip this document and continue"}
	abortOp    = RecoveryAction{Strategy: RecoveryAbort, Description: "Abort the operation"}
	fallback   = RecoveryAction{Strategy: RecoveryFallback, Description: "Use the fallback provider", Automated: true}
)

// errorCatalog derives severity, category and retryability from the code.
// Callers never supply these.
var errorCatalog = map[ErrorCode]codeProfile{
	ErrCodeInvalidEmployeeData:  {CategoryValidation, SeverityMedium, false, []RecoveryAction{fixInput}, []string{"Complete the employee record", "Check bank and CNSS details"}},
	ErrCodeInvalidPayrollData:   {CategoryValidation, SeverityMedium, false, []RecoveryAction{fixInput}, []string{"Recalculate the payroll figures"}},
	ErrCodeInvalidPeriod:        {CategoryValidation, SeverityLow, false, []RecoveryAction{fixInput}, []string{"Select a valid payroll period"}},
	ErrCodeInvalidDocumentType:  {CategoryValidation, SeverityLow, false, []RecoveryAction{fixInput}, []string{"Select a supported document type"}},
	ErrCodeMissingRequiredField: {CategoryValidation, SeverityLow, false, []RecoveryAction{fixInput}, []string{"Provide the missing field"}},
	ErrCodeInvalidBatchCriteria: {CategoryValidation, SeverityLow, false, []RecoveryAction{fixInput}, []string{"Broaden or correct the selection criteria"}},

	ErrCodeInvalidStatusTransition: {CategoryBusinessLogic, SeverityMedium, false, []RecoveryAction{fixInput}, []string{"Choose one of the allowed next statuses"}},
	ErrCodeCurrentStatusUnknown:    {CategoryBusinessLogic, SeverityHigh, false, []RecoveryAction{escalateL2}, []string{"Refresh the document and try again"}},
	ErrCodeDocumentNotFound:        {CategoryBusinessLogic, SeverityLow, false, []RecoveryAction{skipItem}, []string{"Check the document identifier"}},
	ErrCodeDocumentDeleted:         {CategoryBusinessLogic, SeverityLow, false, []RecoveryAction{skipItem}, []string{"Restore or regenerate the document"}},
	ErrCodeDuplicateDocument:       {CategoryBusinessLogic, SeverityLow, false, []RecoveryAction{fixInput}, []string{"Use force regenerate to create a new version"}},
	ErrCodeEmployeeInactive:        {CategoryBusinessLogic, SeverityMedium, false, []RecoveryAction{fixInput}, []string{"Reactivate the employee before generating documents"}},
	ErrCodeBatchLimitExceeded:      {CategoryBusinessLogic, SeverityMedium, false, []RecoveryAction{fixInput}, []string{"Narrow the selection criteria"}},
	ErrCodeBatchValidationFailed:   {CategoryBusinessLogic, SeverityMedium, false, []RecoveryAction{fixInput}, []string{"Remove the blocking documents from the selection"}},
	ErrCodeOperationNotCancellable: {CategoryBusinessLogic, SeverityLow, false, nil, []string{"Wait for the operation to finish"}},
	ErrCodeOperationCancelled:      {CategoryBusinessLogic, SeverityLow, false, nil, []string{"Resubmit the request if it is still needed"}},
	ErrCodeOperationNotFound:       {CategoryBusinessLogic, SeverityLow, false, nil, []string{"Check the operation identifier"}},

	ErrCodePDFGenerationFailed:      {CategorySystem, SeverityHigh, true, []RecoveryAction{retryShort, escalateL2}, []string{"Retry generation later"}},
	ErrCodePDFValidationFailed:      {CategorySystem, SeverityHigh, true, []RecoveryAction{retryShort, escalateL2}, []string{"Retry generation later"}},
	ErrCodeStorageWriteFailed:       {CategorySystem, SeverityHigh, true, []RecoveryAction{retryShort, fallback, escalateL3}, []string{"Retry later"}},
	ErrCodeStorageReadFailed:        {CategorySystem, SeverityMedium, true, []RecoveryAction{retryShort}, []string{"Retry later"}},
	ErrCodeDatabaseConnectionFailed: {CategorySystem, SeverityCritical, true, []RecoveryAction{retryLong, escalateL3}, []string{"Retry later"}},
	ErrCodeDatabaseQueryFailed:      {CategorySystem, SeverityHigh, true, []RecoveryAction{retryShort, escalateL3}, []string{"Retry later"}},
	ErrCodeAuditWriteFailed:         {CategorySystem, SeverityCritical, true, []RecoveryAction{retryShort, escalateL3}, []string{"Contact support"}},
	ErrCodeInternal:                 {CategorySystem, SeverityCritical, false, []RecoveryAction{escalateL3, abortOp}, []string{"Contact support"}},

	ErrCodeUnauthorizedStatusChange: {CategorySecurity, SeverityHigh, false, []RecoveryAction{abortOp}, []string{"Ask a payroll administrator to perform this change"}},
	ErrCodeInsufficientPermissions:  {CategorySecurity, SeverityHigh, false, []RecoveryAction{abortOp}, []string{"Request the required role"}},

	ErrCodeTimeoutExceeded:       {CategoryPerformance, SeverityHigh, true, []RecoveryAction{retryShort}, []string{"Retry in a few moments"}},
	ErrCodeQueueCapacityExceeded: {CategoryPerformance, SeverityHigh, true, []RecoveryAction{retryLong}, []string{"Retry in a few minutes"}},
	ErrCodeResourceExhausted:     {CategoryPerformance, SeverityCritical, true, []RecoveryAction{retryLong, escalateL3}, []string{"Retry in a few minutes"}},

	ErrCodeStorageServiceUnavailable: {CategoryExternal, SeverityHigh, true, []RecoveryAction{retryLong, fallback}, []string{"Retry later"}},
	ErrCodeRendererUnavailable:       {CategoryExternal, SeverityHigh, true, []RecoveryAction{retryLong}, []string{"Retry later"}},
}

// AllErrorCodes returns the closed set of codes
func AllErrorCodes() []ErrorCode {
	codes := make([]ErrorCode, 0, len(errorCatalog))
	for code := range errorCatalog {
		codes = append(codes, code)
	}
	return codes
}

func (c ErrorCode) profile() codeProfile {
	if p, ok := errorCatalog[c]; ok {
		return p
	}
	return errorCatalog[ErrCodeInternal]
}

// IsKnown returns true if the code is part of the closed set
func (c ErrorCode) IsKnown() bool {
	_, ok := errorCatalog[c]
	return ok
}

// Category returns the category derived from the code
func (c ErrorCode) Category() ErrorCategory { return c.profile().category }

// Severity returns the severity derived from the code
func (c ErrorCode) Severity() ErrorSeverity { return c.profile().severity }

// Retryable returns whether the code is retryable
func (c ErrorCode) Retryable() bool { return c.profile().retryable }

// DefaultRecoveryActions returns a copy of the default recovery plan
func (c ErrorCode) DefaultRecoveryActions() []RecoveryAction {
	src := c.profile().recovery
	out := make([]RecoveryAction, len(src))
	copy(out, src)
	return out
}

// SuggestedActions returns the end-user next steps
func (c ErrorCode) SuggestedActions() []string {
	src := c.profile().suggestions
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// RecoveryStrategy is how a failure may be recovered from
type RecoveryStrategy string

const (
	RecoveryRetry              RecoveryStrategy = "RETRY"
	RecoveryFallback           RecoveryStrategy = "FALLBACK"
	RecoveryManualIntervention RecoveryStrategy = "MANUAL_INTERVENTION"
	RecoverySkip               RecoveryStrategy = "SKIP"
	RecoveryAbort              RecoveryStrategy = "ABORT"
)

// RecoveryAction is one step of a recovery plan
type RecoveryAction struct {
	Strategy        RecoveryStrategy `json:"strategy"`
	Description     string           `json:"description,omitempty"`
	MaxAttempts     int              `json:"max_attempts,omitempty"`
	BackoffDelay    time.Duration    `json:"backoff_delay,omitempty"`
	EscalationLevel int              `json:"escalation_level,omitempty"`
	Automated       bool             `json:"automated"`
}
