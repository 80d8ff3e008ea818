package payroll

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// codeForField picks the workflow code of a failed request field
type codeForField func(namespace string) payroll.ErrorCode

// validateRequest runs struct-tag validation and reports every violation in one error
func validateRequest(req any, codeFor codeForField) *payroll.WorkflowError {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return payroll.NewWorkflowError(payroll.ErrCodeInternal, "request validation failed", payroll.WithCause(err))
	}

	opts := make([]payroll.ErrorOption, 0, len(verrs))
	fields := make([]string, 0, len(verrs))
	code := payroll.ErrCodeMissingRequiredField
	for i, fe := range verrs {
		field := fieldPath(fe.Namespace())
		if i == 0 {
			code = codeFor(field)
		}
		fields = append(fields, field)
		opts = append(opts, payroll.WithField(field, expectation(fe), fe.Value()))
	}
	return payroll.NewWorkflowError(code, "invalid request: "+strings.Join(fields, ", "), opts...)
}

// fieldPath drops the root struct name from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func expectation(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

var pdfHeader = []byte("%PDF-")

// ValidatePDF checks the signature and the size bounds of a produced file
func ValidatePDF(data []byte, minBytes, maxBytes int) *payroll.WorkflowError {
	if !bytes.HasPrefix(data, pdfHeader) {
		head := data
		if len(head) > len(pdfHeader) {
			head = head[:len(pdfHeader)]
		}
		return payroll.NewWorkflowError(payroll.ErrCodePDFValidationFailed, "output is not a PDF document",
			payroll.WithField("file.header", string(pdfHeader), fmt.Sprintf("%q", head)))
	}
	if minBytes > 0 && len(data) < minBytes {
		return payroll.NewWorkflowError(payroll.ErrCodePDFValidationFailed, "PDF is smaller than the plausible minimum",
			payroll.WithField("file.size", fmt.Sprintf(">= %d", minBytes), len(data)))
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return payroll.NewWorkflowError(payroll.ErrCodePDFValidationFailed, "PDF exceeds the size ceiling",
			payroll.WithField("file.size", fmt.Sprintf("<= %d", maxBytes), len(data)))
	}
	return nil
}
