package payroll

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is a payroll period: a year with an optional month (0 means the whole year)
type Period struct {
	Year  int `json:"year" validate:"required,min=2000,max=2100"`
	Month int `json:"month,omitempty" validate:"min=0,max=12"`
}

// NewPeriod creates a validated period
func NewPeriod(year, month int) (Period, error) {
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// ParsePeriod parses a period id such as "2024-03" or "2024"
func ParsePeriod(id string) (Period, error) {
	parts := strings.Split(strings.TrimSpace(id), "-")
	if len(parts) == 0 || len(parts) > 2 {
		return Period{}, NewWorkflowError(ErrCodeInvalidPeriod, fmt.Sprintf("invalid period id %q", id))
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return Period{}, NewWorkflowError(ErrCodeInvalidPeriod, fmt.Sprintf("invalid period year in %q", id))
	}
	month := 0
	if len(parts) == 2 {
		month, err = strconv.Atoi(parts[1])
		if err != nil {
			return Period{}, NewWorkflowError(ErrCodeInvalidPeriod, fmt.Sprintf("invalid period month in %q", id))
		}
	}
	return NewPeriod(year, month)
}

// Validate checks the period bounds
func (p Period) Validate() error {
	if p.Year < 2000 || p.Year > 2100 {
		return NewWorkflowError(ErrCodeInvalidPeriod, "period year must be between 2000 and 2100",
			WithField("period.year", "2000..2100", p.Year))
	}
	if p.Month < 0 || p.Month > 12 {
		return NewWorkflowError(ErrCodeInvalidPeriod, "period month must be between 1 and 12",
			WithField("period.month", "1..12", p.Month))
	}
	return nil
}

// HasMonth reports whether the period is monthly
func (p Period) HasMonth() bool {
	return p.Month > 0
}

// ID returns the stable period id ("2024-03" or "2024")
func (p Period) ID() string {
	if p.HasMonth() {
		return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
	}
	return fmt.Sprintf("%04d", p.Year)
}

// Label returns the display label ("March 2024" or "Year 2024")
func (p Period) Label() string {
	if p.HasMonth() {
		return fmt.Sprintf("%s %d", time.Month(p.Month).String(), p.Year)
	}
	return fmt.Sprintf("Year %d", p.Year)
}

// String returns the period id
func (p Period) String() string {
	return p.ID()
}
