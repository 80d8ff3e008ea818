package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/infrastructure/persistence/models"
	"github.com/erp/payroll/internal/infrastructure/rendering"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewEmployee returns an active employee whose ID derives from seed
func NewEmployee(seed string) *payroll.Employee {
	hired := time.Date(2019, time.March, 4, 0, 0, 0, 0, time.UTC)
	return &payroll.Employee{
		ID:          NewTestUUID("employee-" + seed),
		Code:        "EMP-" + seed,
		FirstName:   "Salma",
		LastName:    "Bennani",
		Email:       "salma.bennani@payroll.test",
		Active:      true,
		CNSSNumber:  "112233445",
		BankName:    "CIH Bank",
		BankAccount: "230780000456789012345678",
		HireDate:    &hired,
		Position:    "Accountant",
		Department:  "Finance",
	}
}

// SeedEmployee inserts the employee into the directory table
func SeedEmployee(t *testing.T, db *gorm.DB, e *payroll.Employee) *payroll.Employee {
	t.Helper()
	require.NoError(t, db.Create(models.EmployeeModelFromDomain(e, time.Now())).Error, "Failed to seed employee")
	return e
}

// MonthlyAmounts returns a consistent salary breakdown
func MonthlyAmounts() payroll.PayrollAmounts {
	return payroll.PayrollAmounts{
		GrossSalary:           decimal.RequireFromString("18000"),
		NetSalary:             decimal.RequireFromString("14230.50"),
		TotalDeductions:       decimal.RequireFromString("3769.50"),
		EmployeeContributions: decimal.RequireFromString("1214.64"),
		EmployerContributions: decimal.RequireFromString("3850.20"),
		IncomeTax:             decimal.RequireFromString("2554.86"),
	}
}

// FakePDF returns size bytes that start with a PDF header
func FakePDF(size int) []byte {
	const header = "%PDF-1.7\n"
	if size < len(header) {
		size = len(header)
	}
	data := make([]byte, size)
	copy(data, header)
	for i := len(header); i < size; i++ {
		data[i] = 'x'
	}
	return data
}

// StubPDFRenderer implements rendering.PDFRenderer without a browser
type StubPDFRenderer struct {
	mu    sync.Mutex
	Size  int
	Err   error
	calls []*rendering.RenderRequest
}

// Render records the request and returns a fake PDF
func (r *StubPDFRenderer) Render(ctx context.Context, req *rendering.RenderRequest) (*rendering.RenderResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	size := r.Size
	if size == 0 {
		size = 8 * 1024
	}
	return &rendering.RenderResult{PDFData: FakePDF(size), PageCount: 1, RenderDuration: time.Millisecond}, nil
}

// Close implements rendering.PDFRenderer
func (r *StubPDFRenderer) Close() error { return nil }

// Calls returns the recorded render requests
func (r *StubPDFRenderer) Calls() []*rendering.RenderRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*rendering.RenderRequest(nil), r.calls...)
}
