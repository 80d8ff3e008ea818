// Package rendering turns payroll documents into PDF bytes: html/template views rendered
// to HTML, then printed by headless Chrome.
package rendering

import (
	"bytes"
	"context"
	"time"
)

// RenderRequest is an HTML to PDF request
type RenderRequest struct {
	HTML            string
	Title           string
	Landscape       bool
	MarginMM        float64
	PrintBackground bool
	FooterHTML      string
	Timeout         time.Duration
}

// RenderResult is a rendered PDF
type RenderResult struct {
	PDFData        []byte
	PageCount      int
	RenderDuration time.Duration
}

// PDFRenderer converts HTML to PDF
type PDFRenderer interface {
	Render(ctx context.Context, req *RenderRequest) (*RenderResult, error)
	Close() error
}

// RenderError carries a renderer failure code
type RenderError struct {
	Code    string
	Message string
	Cause   error
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// Render error codes
const (
	ErrCodeRenderTimeout   = "RENDER_TIMEOUT"
	ErrCodeRenderFailed    = "RENDER_FAILED"
	ErrCodeInvalidHTML     = "INVALID_HTML"
	ErrCodeTemplateMissing = "TEMPLATE_MISSING"
	ErrCodeUnavailable     = "RENDERER_UNAVAILABLE"
)

// NewRenderError creates a RenderError
func NewRenderError(code, message string, cause error) *RenderError {
	return &RenderError{Code: code, Message: message, Cause: cause}
}

// estimatePageCount counts page objects in the PDF body
func estimatePageCount(pdf []byte) int {
	count := bytes.Count(pdf, []byte("/Type /Page")) - bytes.Count(pdf, []byte("/Type /Pages"))
	count += bytes.Count(pdf, []byte("/Type/Page")) - bytes.Count(pdf, []byte("/Type/Pages"))
	if count < 1 {
		return 1
	}
	return count
}
