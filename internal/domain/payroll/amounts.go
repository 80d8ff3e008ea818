package payroll

import (
	"github.com/shopspring/decimal"
)

// PayrollAmounts is the monetary breakdown carried by a document
type PayrollAmounts struct {
	GrossSalary           decimal.Decimal `json:"gross_salary"`
	NetSalary             decimal.Decimal `json:"net_salary"`
	TotalDeductions       decimal.Decimal `json:"total_deductions"`
	TotalAllowances       decimal.Decimal `json:"total_allowances"`
	EmployerContributions decimal.Decimal `json:"employer_contributions"`
	EmployeeContributions decimal.Decimal `json:"employee_contributions"`
	IncomeTax             decimal.Decimal `json:"income_tax"`
}

func (a PayrollAmounts) fields() []struct {
	name  string
	value decimal.Decimal
} {
	return []struct {
		name  string
		value decimal.Decimal
	}{
		{"gross_salary", a.GrossSalary},
		{"net_salary", a.NetSalary},
		{"total_deductions", a.TotalDeductions},
		{"total_allowances", a.TotalAllowances},
		{"employer_contributions", a.EmployerContributions},
		{"employee_contributions", a.EmployeeContributions},
		{"income_tax", a.IncomeTax},
	}
}

// Validate enforces 0 <= net <= gross, gross > 0 and non-negative components
func (a PayrollAmounts) Validate() error {
	if !a.GrossSalary.IsPositive() {
		return NewWorkflowError(ErrCodeInvalidPayrollData, "gross salary is required and must be positive",
			WithField("gross_salary", "> 0", a.GrossSalary.String()))
	}
	for _, f := range a.fields() {
		if f.value.IsNegative() {
			return NewWorkflowError(ErrCodeInvalidPayrollData, f.name+" cannot be negative",
				WithField(f.name, ">= 0", f.value.String()))
		}
	}
	if a.NetSalary.GreaterThan(a.GrossSalary) {
		return NewWorkflowError(ErrCodeInvalidPayrollData, "net salary cannot exceed gross salary",
			WithField("net_salary", "<= "+a.GrossSalary.String(), a.NetSalary.String()))
	}
	return nil
}
