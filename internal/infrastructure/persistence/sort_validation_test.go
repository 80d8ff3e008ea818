package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSortOrder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		fallback string
		expected string
	}{
		{"empty string returns default", "", "ASC", "ASC"},
		{"ASC uppercase returns ASC", "ASC", "DESC", "ASC"},
		{"asc lowercase returns ASC", "asc", "DESC", "ASC"},
		{"desc lowercase returns DESC", "desc", "ASC", "DESC"},
		{"invalid value returns default", "INVALID", "DESC", "DESC"},
		{"sql injection attempt returns default", "ASC; DROP TABLE payroll_documents;--", "ASC", "ASC"},
		{"whitespace around desc returns DESC", "  desc  ", "ASC", "DESC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSortOrder(tt.input, tt.fallback))
		})
	}
}

func TestValidateSortField(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string returns default", "", "created_at"},
		{"valid field returns field", "employee_code", "employee_code"},
		{"invalid field returns default", "file_path", "created_at"},
		{"sql injection attempt returns default", "status; DROP TABLE payroll_documents;--", "created_at"},
		{"case sensitive", "STATUS", "created_at"},
		{"whitespace around valid field returns field", "  status  ", "status"},
		{"quotes injection returns default", "status'--", "created_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSortField(tt.input, DocumentSortFields, "created_at"))
		})
	}
}

func TestDocumentOrderClauses(t *testing.T) {
	tests := []struct {
		name     string
		sortBy   string
		order    string
		expected []string
	}{
		{"defaults to creation order", "", "", []string{"created_at ASC", "document_id ASC"}},
		{"single column", "employee_code", "desc", []string{"employee_code DESC", "document_id ASC"}},
		{"period expands to year and month", "period", "DESC", []string{"period_year DESC", "period_month DESC", "document_id ASC"}},
		{"unknown field falls back", "net_salary", "ASC", []string{"created_at ASC", "document_id ASC"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, documentOrderClauses(tt.sortBy, tt.order))
		})
	}
}
