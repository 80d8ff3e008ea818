package payroll

import (
	"context"
	"errors"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// StatusDescriptor describes one status of the taxonomy
type StatusDescriptor struct {
	Status             payroll.DocumentStatus   `json:"status"`
	Label              string                   `json:"label"`
	Color              string                   `json:"color"`
	AllowedTransitions []payroll.DocumentStatus `json:"allowed_transitions"`
	Terminal           bool                     `json:"terminal"`
}

// Catalogue returns every status with its display data and legal targets
func Catalogue() []StatusDescriptor {
	statuses := payroll.AllDocumentStatuses()
	out := make([]StatusDescriptor, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, StatusDescriptor{
			Status:             s,
			Label:              s.Label(),
			Color:              s.Color(),
			AllowedTransitions: s.AllowedTransitions(),
			Terminal:           s.IsTerminal(),
		})
	}
	return out
}

// StatusQuery asks for the current state of one document
type StatusQuery struct {
	DocumentID     string
	IncludeHistory bool
	HistoryLimit   int
}

// DocumentStatusInfo is the read model returned by status queries
type DocumentStatusInfo struct {
	DocumentID         string                            `json:"document_id"`
	DocumentType       payroll.DocumentType              `json:"document_type"`
	EmployeeID         string                            `json:"employee_id"`
	EmployeeName       string                            `json:"employee_name"`
	Period             string                            `json:"period"`
	PeriodLabel        string                            `json:"period_label"`
	Status             payroll.DocumentStatus            `json:"status"`
	Label              string                            `json:"label"`
	Color              string                            `json:"color"`
	AllowedTransitions []payroll.DocumentStatus          `json:"allowed_transitions"`
	Mode               payroll.GenerationMode            `json:"mode"`
	Version            int                               `json:"version"`
	IsLatestVersion    bool                              `json:"is_latest_version"`
	Queued             bool                              `json:"queued"`
	Deleted            bool                              `json:"deleted"`
	File               *payroll.FileMetadata             `json:"file,omitempty"`
	Preview            *payroll.PreviewInfo              `json:"preview,omitempty"`
	Approval           *payroll.ApprovalInfo             `json:"approval,omitempty"`
	Distribution       *payroll.DistributionInfo         `json:"distribution,omitempty"`
	Archive            *payroll.ArchiveInfo              `json:"archive,omitempty"`
	Failure            *payroll.FailureInfo              `json:"failure,omitempty"`
	UpdatedAt          time.Time                         `json:"updated_at"`
	History            []payroll.StatusChangeAuditRecord `json:"history,omitempty"`
	HistoryCount       int64                             `json:"history_count"`
}

// StatusService answers document status queries
type StatusService struct {
	repo    payroll.DocumentRepository
	audit   payroll.AuditTrail
	errors  *ErrorHandler
	timeout time.Duration
	logger  *zap.Logger
}

// NewStatusService creates a StatusService
func NewStatusService(repo payroll.DocumentRepository, audit payroll.AuditTrail, errorHandler *ErrorHandler, timeout time.Duration, logger *zap.Logger) *StatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if errorHandler == nil {
		errorHandler = NewErrorHandler(AlertConfig{}, nil, logger)
	}
	return &StatusService{repo: repo, audit: audit, errors: errorHandler, timeout: timeout, logger: logger}
}

// QueryDocumentStatus returns the document state and, on request, its newest audit records
func (s *StatusService) QueryDocumentStatus(ctx context.Context, q StatusQuery) (*DocumentStatusInfo, *payroll.WorkflowError) {
	opts := []payroll.ErrorOption{
		payroll.WithOperation("query_status", "status_service"),
		payroll.WithDocument(q.DocumentID),
	}
	qctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	doc, err := s.repo.FindByDocumentID(qctx, q.DocumentID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, s.errors.Handle(ctx, payroll.NewWorkflowError(payroll.ErrCodeDocumentNotFound, "document not found"), opts...)
	}
	if err != nil {
		return nil, s.errors.Handle(ctx, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed), opts...)
	}

	info := toStatusInfo(doc)
	count, err := s.audit.Count(qctx, doc.DocumentID)
	if err != nil {
		return nil, s.errors.Handle(ctx, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed), opts...)
	}
	info.HistoryCount = count

	if q.IncludeHistory {
		limit := q.HistoryLimit
		if limit <= 0 {
			limit = defaultHistoryLimit
		}
		limit = min(limit, maxHistoryLimit)
		history, err := s.audit.History(qctx, doc.DocumentID, limit)
		if err != nil {
			return nil, s.errors.Handle(ctx, payroll.AsWorkflowError(err, payroll.ErrCodeDatabaseQueryFailed), opts...)
		}
		info.History = history
	}
	return info, nil
}

func toStatusInfo(doc *payroll.PayrollDocument) *DocumentStatusInfo {
	return &DocumentStatusInfo{
		DocumentID:         doc.DocumentID,
		DocumentType:       doc.Type,
		EmployeeID:         doc.EmployeeID.String(),
		EmployeeName:       doc.EmployeeName,
		Period:             doc.Period.ID(),
		PeriodLabel:        doc.Period.Label(),
		Status:             doc.Status,
		Label:              doc.Status.Label(),
		Color:              doc.Status.Color(),
		AllowedTransitions: doc.Status.AllowedTransitions(),
		Mode:               doc.Generation.Mode,
		Version:            doc.Version,
		IsLatestVersion:    doc.IsLatestVersion,
		Queued:             doc.IsQueuedPlaceholder(),
		Deleted:            doc.Deleted,
		File:               doc.File,
		Preview:            doc.Preview,
		Approval:           doc.Approval,
		Distribution:       doc.Distribution,
		Archive:            doc.Archive,
		Failure:            doc.Failure,
		UpdatedAt:          doc.UpdatedAt,
	}
}
