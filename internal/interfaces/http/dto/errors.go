package dto

import (
	"net/http"

	"github.com/erp/payroll/internal/domain/payroll"
	"golang.org/x/text/language"
)

// Transport error codes for failures raised before a request reaches the engine.
// Format: ERR_<DESCRIPTION>
const (
	ErrCodeInternal      = "ERR_INTERNAL"
	ErrCodeBadRequest    = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON   = "ERR_INVALID_JSON"
	ErrCodeValidation    = "ERR_VALIDATION"
	ErrCodeUnauthorized  = "ERR_UNAUTHORIZED"
	ErrCodeForbidden     = "ERR_FORBIDDEN"
	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeRateLimited   = "ERR_RATE_LIMITED"
	ErrCodeTooLarge      = "ERR_REQUEST_TOO_LARGE"
	ErrCodeTimeout       = "ERR_TIMEOUT"
	ErrCodeUnprocessable = "ERR_UNPROCESSABLE"
)

// ErrorCodeHTTPStatus maps transport and workflow codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:      http.StatusInternalServerError,
	ErrCodeBadRequest:    http.StatusBadRequest,
	ErrCodeInvalidJSON:   http.StatusBadRequest,
	ErrCodeValidation:    http.StatusBadRequest,
	ErrCodeUnauthorized:  http.StatusUnauthorized,
	ErrCodeForbidden:     http.StatusForbidden,
	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeRateLimited:   http.StatusTooManyRequests,
	ErrCodeTooLarge:      http.StatusRequestEntityTooLarge,
	ErrCodeTimeout:       http.StatusGatewayTimeout,
	ErrCodeUnprocessable: http.StatusUnprocessableEntity,

	// Validation -> 400
	string(payroll.ErrCodeInvalidEmployeeData):  http.StatusBadRequest,
	string(payroll.ErrCodeInvalidPayrollData):   http.StatusBadRequest,
	string(payroll.ErrCodeInvalidPeriod):        http.StatusBadRequest,
	string(payroll.ErrCodeInvalidDocumentType):  http.StatusBadRequest,
	string(payroll.ErrCodeMissingRequiredField): http.StatusBadRequest,
	string(payroll.ErrCodeInvalidBatchCriteria): http.StatusBadRequest,

	// Business logic
	string(payroll.ErrCodeInvalidStatusTransition): http.StatusConflict,
	string(payroll.ErrCodeCurrentStatusUnknown):    http.StatusConflict,
	string(payroll.ErrCodeDocumentNotFound):        http.StatusNotFound,
	string(payroll.ErrCodeDocumentDeleted):         http.StatusGone,
	string(payroll.ErrCodeDuplicateDocument):       http.StatusConflict,
	string(payroll.ErrCodeEmployeeInactive):        http.StatusUnprocessableEntity,
	string(payroll.ErrCodeBatchLimitExceeded):      http.StatusUnprocessableEntity,
	string(payroll.ErrCodeBatchValidationFailed):   http.StatusUnprocessableEntity,
	string(payroll.ErrCodeOperationNotCancellable): http.StatusConflict,
	string(payroll.ErrCodeOperationCancelled):      http.StatusConflict,
	string(payroll.ErrCodeOperationNotFound):       http.StatusNotFound,

	// System -> 500
	string(payroll.ErrCodePDFGenerationFailed):      http.StatusInternalServerError,
	string(payroll.ErrCodePDFValidationFailed):      http.StatusInternalServerError,
	string(payroll.ErrCodeStorageWriteFailed):       http.StatusInternalServerError,
	string(payroll.ErrCodeStorageReadFailed):        http.StatusInternalServerError,
	string(payroll.ErrCodeDatabaseConnectionFailed): http.StatusInternalServerError,
	string(payroll.ErrCodeDatabaseQueryFailed):      http.StatusInternalServerError,
	string(payroll.ErrCodeAuditWriteFailed):         http.StatusInternalServerError,
	string(payroll.ErrCodeInternal):                 http.StatusInternalServerError,

	// Security -> 403
	string(payroll.ErrCodeUnauthorizedStatusChange): http.StatusForbidden,
	string(payroll.ErrCodeInsufficientPermissions):  http.StatusForbidden,

	// Performance
	string(payroll.ErrCodeTimeoutExceeded):       http.StatusGatewayTimeout,
	string(payroll.ErrCodeQueueCapacityExceeded): http.StatusServiceUnavailable,
	string(payroll.ErrCodeResourceExhausted):     http.StatusServiceUnavailable,

	// External -> 503
	string(payroll.ErrCodeStorageServiceUnavailable): http.StatusServiceUnavailable,
	string(payroll.ErrCodeRendererUnavailable):       http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// FromWorkflowError builds the client-facing error body. Validation and business
// errors keep their detail; every other category is reduced to a localized
// message that carries the request id.
func FromWorkflowError(we *payroll.WorkflowError, requestID string, tag language.Tag) *ErrorInfo {
	if we.Context.RequestID == "" {
		we.Context.RequestID = requestID
	}
	info := &ErrorInfo{
		Code:             string(we.Code),
		Message:          we.PublicMessage(tag),
		UserMessage:      we.Localize(tag),
		RequestID:        requestID,
		Category:         string(we.Category),
		Severity:         string(we.Severity),
		Retryable:        we.Retryable,
		SuggestedActions: we.SuggestedActions,
	}
	if !we.Category.ExposesDetail() {
		return info
	}
	for _, v := range we.Violations {
		info.Violations = append(info.Violations, ValidationDetail{
			Field:    v.Field,
			Message:  we.Message,
			Expected: v.Expected,
			Received: v.Received,
		})
	}
	info.Details = we.Details
	return info
}
