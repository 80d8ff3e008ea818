package payroll

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/erp/payroll/internal/domain/shared"
	"github.com/google/uuid"
)

// AggregateTypePayrollDocument is the aggregate type name for events
const AggregateTypePayrollDocument = "PayrollDocument"

// GenerationMode distinguishes previews from final documents
type GenerationMode string

const (
	GenerationModePreview GenerationMode = "PREVIEW"
	GenerationModeFinal   GenerationMode = "FINAL"
)

// IsValid returns true if the mode is valid
func (m GenerationMode) IsValid() bool {
	return m == GenerationModePreview || m == GenerationModeFinal
}

// Quality is the rendering fidelity
type Quality string

const (
	QualityDraft    Quality = "DRAFT"
	QualityStandard Quality = "STANDARD"
	QualityHigh     Quality = "HIGH"
)

// IsValid returns true if the quality is valid
func (q Quality) IsValid() bool {
	return q == QualityDraft || q == QualityStandard || q == QualityHigh
}

// Priority is a free-form triage hint
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// DeliveryStatus tracks distribution
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// FileMetadata describes the stored PDF
type FileMetadata struct {
	Provider string `json:"provider"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
}

// GenerationInfo describes how the file was produced
type GenerationInfo struct {
	Mode               GenerationMode `json:"mode"`
	Quality            Quality        `json:"quality"`
	GeneratedAt        *time.Time     `json:"generated_at,omitempty"`
	GeneratedBy        *uuid.UUID     `json:"generated_by,omitempty"`
	ProcessingDuration time.Duration  `json:"processing_duration"`
	RetryCount         int            `json:"retry_count"`
}

// WatermarkConfig is applied to preview renderings
type WatermarkConfig struct {
	Text    string  `json:"text"`
	Opacity float64 `json:"opacity"`
}

// DefaultPreviewWatermark is used when the request does not specify one
var DefaultPreviewWatermark = WatermarkConfig{Text: "PREVIEW", Opacity: 0.15}

// PreviewInfo is present only on preview documents
type PreviewInfo struct {
	ExpiresAt     time.Time       `json:"expires_at"`
	Watermark     WatermarkConfig `json:"watermark"`
	ViewCount     int             `json:"view_count"`
	DownloadCount int             `json:"download_count"`
}

// ApprovalInfo is present once approval has been requested or granted
type ApprovalInfo struct {
	RequestedBy *uuid.UUID `json:"requested_by,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	ApprovedBy  *uuid.UUID `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	Comments    string     `json:"comments,omitempty"`
}

// DistributionInfo is present once the document has been sent
type DistributionInfo struct {
	SentTo         []string       `json:"sent_to"`
	SentAt         time.Time      `json:"sent_at"`
	SentBy         uuid.UUID      `json:"sent_by"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	TrackingID     string         `json:"tracking_id,omitempty"`
}

// ArchiveInfo is present once the document is archived
type ArchiveInfo struct {
	ArchivedBy uuid.UUID `json:"archived_by"`
	ArchivedAt time.Time `json:"archived_at"`
}

// FailureInfo is present while the last generation attempt failed
type FailureInfo struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PayrollDocument is the aggregate root of the payroll document workflow.
// Status and status-specific payloads change only through the transition engine.
type PayrollDocument struct {
	shared.BaseAggregateRoot
	DocumentID       string
	Type             DocumentType
	EmployeeID       uuid.UUID
	EmployeeName     string
	EmployeeCode     string
	BranchID         *uuid.UUID
	Period           Period
	Status           DocumentStatus
	Amounts          PayrollAmounts
	File             *FileMetadata
	Generation       GenerationInfo
	Preview          *PreviewInfo
	Approval         *ApprovalInfo
	Distribution     *DistributionInfo
	Archive          *ArchiveInfo
	Failure          *FailureInfo
	Version          int
	ParentDocumentID *uuid.UUID
	IsLatestVersion  bool
	Deleted          bool
	DeletedBy        *uuid.UUID
	DeletedAt        *time.Time
	Tags             []string
	Category         string
	Priority         Priority
	CreatedBy        uuid.UUID
}

// NewDocumentParams carries everything needed to create a document
type NewDocumentParams struct {
	Type          DocumentType
	Employee      *Employee
	Period        Period
	Amounts       PayrollAmounts
	Mode          GenerationMode
	Quality       Quality
	InitialStatus DocumentStatus
	Tags          []string
	Category      string
	Priority      Priority
	CreatedBy     uuid.UUID
	Now           time.Time
}

// NewPayrollDocument creates a document in CALCULATION_PENDING or, as a queued
// placeholder, in GENERATING
func NewPayrollDocument(p NewDocumentParams) (*PayrollDocument, error) {
	if !p.Type.IsValid() {
		return nil, NewWorkflowError(ErrCodeInvalidDocumentType, "invalid document type",
			WithField("document_type", "one of PAYSLIP, TRANSFER_ORDER, CNSS_DECLARATION, SALARY_CERTIFICATE, PAYROLL_SUMMARY", p.Type))
	}
	if p.Employee == nil {
		return nil, NewWorkflowError(ErrCodeInvalidEmployeeData, "employee is required")
	}
	if err := p.Period.Validate(); err != nil {
		return nil, err
	}
	if err := p.Amounts.Validate(); err != nil {
		return nil, err
	}
	if p.InitialStatus == "" {
		p.InitialStatus = StatusCalculationPending
	}
	if p.InitialStatus != StatusCalculationPending && p.InitialStatus != StatusGenerating {
		return nil, shared.NewDomainError(string(ErrCodeInvalidStatusTransition),
			"documents are created in CALCULATION_PENDING or GENERATING")
	}
	if p.Mode == "" {
		p.Mode = GenerationModeFinal
	}
	if p.Quality == "" {
		p.Quality = QualityStandard
	}
	if p.Priority == "" {
		p.Priority = PriorityNormal
	}
	if p.Now.IsZero() {
		p.Now = time.Now()
	}

	doc := &PayrollDocument{
		BaseAggregateRoot: shared.NewBaseAggregateRootAt(p.Now),
		DocumentID:        NewDocumentID(p.Type, p.Employee.Code, p.Period, p.Now),
		Type:              p.Type,
		EmployeeID:        p.Employee.ID,
		EmployeeName:      p.Employee.FullName(),
		EmployeeCode:      p.Employee.Code,
		BranchID:          p.Employee.BranchID,
		Period:            p.Period,
		Status:            p.InitialStatus,
		Amounts:           p.Amounts,
		Generation:        GenerationInfo{Mode: p.Mode, Quality: p.Quality},
		Version:           1,
		IsLatestVersion:   true,
		Tags:              normalizeTags(p.Tags),
		Category:          p.Category,
		Priority:          p.Priority,
		CreatedBy:         p.CreatedBy,
	}
	return doc, nil
}

var unsafeIDChars = regexp.MustCompile(`[^A-Z0-9]+`)

// NewDocumentID builds the human-readable id: TYPE-EMPLOYEE-PERIOD-TIMESTAMP-SUFFIX
func NewDocumentID(docType DocumentType, employeeCode string, period Period, at time.Time) string {
	code := unsafeIDChars.ReplaceAllString(strings.ToUpper(employeeCode), "")
	if code == "" {
		code = "EMP"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s-%s-%s", docType.Code(), code, period.ID(), at.UTC().Format("20060102T150405"), suffix)
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// LineageKey identifies a (employee, type, period) lineage
type LineageKey struct {
	EmployeeID uuid.UUID
	Type       DocumentType
	Period     Period
}

// LineageKey returns the lineage this document belongs to
func (d *PayrollDocument) LineageKey() LineageKey {
	return LineageKey{EmployeeID: d.EmployeeID, Type: d.Type, Period: d.Period}
}

// IsPreview reports whether this document is a preview rendering
func (d *PayrollDocument) IsPreview() bool {
	return d.Generation.Mode == GenerationModePreview
}

// IsQueuedPlaceholder reports whether the document awaits queued generation
func (d *PayrollDocument) IsQueuedPlaceholder() bool {
	return d.Status == StatusGenerating && d.File == nil && !d.Deleted
}

// IsPreviewExpired reports whether a preview is past its expiry
func (d *PayrollDocument) IsPreviewExpired(now time.Time) bool {
	return d.Preview != nil && now.After(d.Preview.ExpiresAt)
}

// Supersede links next as the following version of d and clears d's latest flag
func (d *PayrollDocument) Supersede(next *PayrollDocument, at time.Time) {
	next.Version = d.Version + 1
	parent := d.ID
	next.ParentDocumentID = &parent
	next.IsLatestVersion = true
	d.IsLatestVersion = false
	d.Touch(at)
}

// Validate checks the aggregate invariants
func (d *PayrollDocument) Validate() error {
	if d.DocumentID == "" {
		return NewWorkflowError(ErrCodeMissingRequiredField, "document id is required", WithField("document_id", "non-empty", ""))
	}
	if !d.Type.IsValid() {
		return NewWorkflowError(ErrCodeInvalidDocumentType, "invalid document type", WithField("document_type", nil, d.Type))
	}
	if !d.Status.IsValid() {
		return NewWorkflowError(ErrCodeCurrentStatusUnknown, "document status is unknown", WithField("status", nil, d.Status))
	}
	if d.Version < 1 {
		return NewWorkflowError(ErrCodeInternal, "document version must be positive")
	}
	return d.Amounts.Validate()
}

// ApplyStatus moves the document to the target status
func (d *PayrollDocument) ApplyStatus(to DocumentStatus, at time.Time) {
	d.Status = to
	d.Touch(at)
}

// RequestPreview marks the document as a preview request
func (d *PayrollDocument) RequestPreview() {
	d.Generation.Mode = GenerationModePreview
}

// RecordPreview stores the preview rendering and its expiry
func (d *PayrollDocument) RecordPreview(file *FileMetadata, watermark WatermarkConfig, expiresAt time.Time) {
	d.File = file
	d.Generation.Mode = GenerationModePreview
	if d.Preview == nil {
		d.Preview = &PreviewInfo{}
	}
	d.Preview.ExpiresAt = expiresAt
	d.Preview.Watermark = watermark
}

// RequestApproval records who asked for approval
func (d *PayrollDocument) RequestApproval(by uuid.UUID, at time.Time) {
	if d.Approval == nil {
		d.Approval = &ApprovalInfo{}
	}
	d.Approval.RequestedBy = &by
	d.Approval.RequestedAt = &at
}

// Approve stamps the approver. Re-approving overwrites with the latest call.
func (d *PayrollDocument) Approve(by uuid.UUID, at time.Time, comments string) {
	if d.Approval == nil {
		d.Approval = &ApprovalInfo{}
	}
	d.Approval.ApprovedBy = &by
	d.Approval.ApprovedAt = &at
	if comments != "" {
		d.Approval.Comments = comments
	}
}

// ClearApproval drops approval data when the document returns to calculation
func (d *PayrollDocument) ClearApproval() {
	d.Approval = nil
}

// StartGeneration prepares a generation attempt; retries after failure are counted
func (d *PayrollDocument) StartGeneration() {
	if d.Failure != nil {
		d.Generation.RetryCount++
		d.Failure = nil
	}
	if d.Generation.Mode == "" {
		d.Generation.Mode = GenerationModeFinal
	}
}

// RecordGenerated stores the final file
func (d *PayrollDocument) RecordGenerated(file *FileMetadata, by uuid.UUID, at time.Time, duration time.Duration) {
	d.File = file
	d.Generation.Mode = GenerationModeFinal
	d.Generation.GeneratedAt = &at
	d.Generation.GeneratedBy = &by
	if duration > 0 {
		d.Generation.ProcessingDuration = duration
	}
	d.Preview = nil
	d.Failure = nil
}

// RecordFailure stores the last generation failure
func (d *PayrollDocument) RecordFailure(code ErrorCode, message string, at time.Time) {
	d.Failure = &FailureInfo{Code: code, Message: message, OccurredAt: at}
}

// MarkSent stamps the distribution. Recipients must be non-empty.
func (d *PayrollDocument) MarkSent(recipients []string, by uuid.UUID, at time.Time, trackingID string) {
	sentTo := make([]string, len(recipients))
	copy(sentTo, recipients)
	d.Distribution = &DistributionInfo{
		SentTo:         sentTo,
		SentAt:         at,
		SentBy:         by,
		DeliveryStatus: DeliverySent,
		TrackingID:     trackingID,
	}
}

// MarkArchived stamps the archiver
func (d *PayrollDocument) MarkArchived(by uuid.UUID, at time.Time) {
	d.Archive = &ArchiveInfo{ArchivedBy: by, ArchivedAt: at}
}

// SoftDelete flags the document as deleted
func (d *PayrollDocument) SoftDelete(by uuid.UUID, at time.Time) error {
	if d.Deleted {
		return NewWorkflowError(ErrCodeDocumentDeleted, "document is already deleted", WithDocument(d.DocumentID))
	}
	if d.Status == StatusSent || d.Status == StatusArchived {
		return NewWorkflowError(ErrCodeInvalidStatusTransition,
			fmt.Sprintf("documents in status %s cannot be deleted", d.Status), WithDocument(d.DocumentID))
	}
	d.Deleted = true
	d.DeletedBy = &by
	d.DeletedAt = &at
	d.Touch(at)
	return nil
}

// IsDeletable reports whether a soft delete is allowed in the current status
func (d *PayrollDocument) IsDeletable() bool {
	return !d.Deleted && d.Status != StatusSent && d.Status != StatusArchived
}
