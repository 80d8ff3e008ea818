package persistence

import (
	"strings"
)

// ValidateSortOrder normalizes the sort direction to ASC or DESC.
// Anything other than a case-insensitive "asc" or "desc" yields defaultOrder.
func ValidateSortOrder(orderDir, defaultOrder string) string {
	switch strings.ToUpper(strings.TrimSpace(orderDir)) {
	case "ASC":
		return "ASC"
	case "DESC":
		return "DESC"
	}
	return defaultOrder
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// DocumentSortFields are the sort keys accepted for document listings
var DocumentSortFields = map[string]bool{
	"created_at":    true,
	"updated_at":    true,
	"employee_code": true,
	"employee_name": true,
	"period":        true,
	"document_type": true,
	"status":        true,
	"version":       true,
}

// documentSortColumns maps composite sort keys onto columns
var documentSortColumns = map[string][]string{
	"period": {"period_year", "period_month"},
}

// documentOrderClauses returns the ORDER BY clauses for a document listing.
// document_id is always appended so pages are stable.
func documentOrderClauses(sortBy, sortOrder string) []string {
	field := ValidateSortField(sortBy, DocumentSortFields, "created_at")
	dir := ValidateSortOrder(sortOrder, "ASC")

	columns, ok := documentSortColumns[field]
	if !ok {
		columns = []string{field}
	}
	clauses := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		clauses = append(clauses, col+" "+dir)
	}
	return append(clauses, "document_id ASC")
}
