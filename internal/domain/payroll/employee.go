package payroll

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Employee is the read model of an employee record consumed by the generation gate
type Employee struct {
	ID          uuid.UUID
	Code        string
	FirstName   string
	LastName    string
	Email       string
	Active      bool
	CNSSNumber  string
	BankName    string
	BankAccount string
	HireDate    *time.Time
	Position    string
	BranchID    *uuid.UUID
	Department  string
}

// FullName returns "First Last"
func (e *Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// MissingFieldsFor returns the type-specific required fields that are empty
func (e *Employee) MissingFieldsFor(docType DocumentType) []string {
	var missing []string
	for _, field := range docType.RequiredEmployeeFields() {
		var present bool
		switch field {
		case "employee_code":
			present = strings.TrimSpace(e.Code) != ""
		case "cnss_number":
			present = strings.TrimSpace(e.CNSSNumber) != ""
		case "bank_name":
			present = strings.TrimSpace(e.BankName) != ""
		case "bank_account":
			present = strings.TrimSpace(e.BankAccount) != ""
		case "hire_date":
			present = e.HireDate != nil && !e.HireDate.IsZero()
		}
		if !present {
			missing = append(missing, field)
		}
	}
	return missing
}

// EmployeeDirectory resolves employee records
type EmployeeDirectory interface {
	// FindByID returns the employee or shared.ErrNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*Employee, error)
}
