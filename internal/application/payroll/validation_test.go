package payroll_test

import (
	"testing"

	"github.com/erp/payroll/internal/application/payroll"
	domain "github.com/erp/payroll/internal/domain/payroll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePDF(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		min   int
		max   int
		field string
	}{
		{name: "valid", data: fakePDF(2048), min: 1024, max: 4096},
		{name: "no limits", data: []byte("%PDF-")},
		{name: "empty", data: nil, min: 1024, field: "file.header"},
		{name: "html instead of pdf", data: []byte("<html><body>oops</body></html>"), field: "file.header"},
		{name: "too small", data: fakePDF(512), min: 1024, field: "file.size"},
		{name: "too large", data: fakePDF(8192), max: 4096, field: "file.size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			werr := payroll.ValidatePDF(tt.data, tt.min, tt.max)
			if tt.field == "" {
				assert.Nil(t, werr)
				return
			}
			require.NotNil(t, werr)
			assert.Equal(t, domain.ErrCodePDFValidationFailed, werr.Code)
			require.Len(t, werr.Violations, 1)
			assert.Equal(t, tt.field, werr.Violations[0].Field)
		})
	}
}
