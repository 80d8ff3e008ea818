package payroll

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DocumentFilter selects documents
type DocumentFilter struct {
	EmployeeIDs    []uuid.UUID
	Types          []DocumentType
	Statuses       []DocumentStatus
	Periods        []Period
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	BranchID       *uuid.UUID
	Tags           []string
	IncludeDeleted bool
	LatestOnly     bool
	// SortBy is a whitelisted key such as created_at, employee_code or period
	SortBy         string
	SortOrder      string
	Limit          int
	Offset         int
}

// IntegrityReport counts invariant violations found in storage
type IntegrityReport struct {
	TotalDocuments         int64     `json:"total_documents"`
	NetAboveGross          int64     `json:"net_above_gross"`
	MultipleLatestVersions int64     `json:"multiple_latest_versions"`
	MissingFiles           int64     `json:"missing_files"`
	CheckedAt              time.Time `json:"checked_at"`
}

// Violations returns the total number of violations
func (r *IntegrityReport) Violations() int64 {
	return r.NetAboveGross + r.MultipleLatestVersions + r.MissingFiles
}

// DocumentRepository is the durable store for payroll documents
type DocumentRepository interface {
	// FindByID finds a document by storage id
	FindByID(ctx context.Context, id uuid.UUID) (*PayrollDocument, error)

	// FindByDocumentID finds a document by its human-readable id
	FindByDocumentID(ctx context.Context, documentID string) (*PayrollDocument, error)

	// FindLatestInLineage returns the latest final document of a lineage.
	// Deleted documents are considered only when includeDeleted is set.
	FindLatestInLineage(ctx context.Context, key LineageKey, includeDeleted bool) (*PayrollDocument, error)

	// FindByFilter returns documents matching the filter ordered by creation time
	FindByFilter(ctx context.Context, filter DocumentFilter) ([]PayrollDocument, error)

	// CountByFilter counts documents matching the filter
	CountByFilter(ctx context.Context, filter DocumentFilter) (int64, error)

	// CountByStatus counts non-deleted documents per status
	CountByStatus(ctx context.Context) (map[DocumentStatus]int64, error)

	// Create inserts a new document
	Create(ctx context.Context, doc *PayrollDocument) error

	// Update persists changes with optimistic locking on Revision
	Update(ctx context.Context, doc *PayrollDocument) error

	// CreateVersion atomically supersedes prior and inserts next
	CreateVersion(ctx context.Context, prior, next *PayrollDocument) error

	// FindQueuedPlaceholders returns GENERATING documents without a file
	FindQueuedPlaceholders(ctx context.Context, limit int) ([]PayrollDocument, error)

	// FindExpiredPreviews returns preview documents past their expiry
	FindExpiredPreviews(ctx context.Context, now time.Time, limit int) ([]PayrollDocument, error)

	// FindDeletedBefore returns soft-deleted documents deleted before cutoff
	FindDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]PayrollDocument, error)

	// HardDelete removes a document permanently. Only retention cleanup may call it.
	HardDelete(ctx context.Context, id uuid.UUID) error

	// IntegrityReport counts invariant violations
	IntegrityReport(ctx context.Context) (*IntegrityReport, error)

	// Ping checks connectivity
	Ping(ctx context.Context) error
}
