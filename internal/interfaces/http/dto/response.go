package dto

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code             string             `json:"code"`
	Message          string             `json:"message"`
	UserMessage      string             `json:"user_message,omitempty"`
	RequestID        string             `json:"request_id,omitempty"`
	Category         string             `json:"category,omitempty"`
	Severity         string             `json:"severity,omitempty"`
	Retryable        bool               `json:"retryable"`
	SuggestedActions []string           `json:"suggested_actions,omitempty"`
	Violations       []ValidationDetail `json:"violations,omitempty"`
	Details          map[string]string  `json:"details,omitempty"`
}

// ValidationDetail pins one validation failure to a request field
type ValidationDetail struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Received string `json:"received,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse wraps error details
func NewErrorResponse(info *ErrorInfo) Response {
	return Response{Success: false, Error: info}
}

// NewErrorResponseWithRequestID creates an error response carrying the request id
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	return NewErrorResponse(&ErrorInfo{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
}

// NewValidationErrorResponse creates a 400 body listing field failures
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	return NewErrorResponse(&ErrorInfo{
		Code:       ErrCodeValidation,
		Message:    message,
		RequestID:  requestID,
		Violations: details,
	})
}
