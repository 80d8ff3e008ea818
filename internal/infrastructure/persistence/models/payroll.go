package models

import (
	"encoding/json"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayrollDocumentModel is the GORM model for the payroll_documents table.
// Status-specific payloads are stored as nullable JSON text so absence stays explicit.
type PayrollDocumentModel struct {
	ID                    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	DocumentID            string          `gorm:"column:document_id;type:varchar(100);not null;uniqueIndex"`
	DocumentType          string          `gorm:"column:document_type;type:varchar(40);not null;index:idx_payroll_documents_lineage,priority:2"`
	EmployeeID            uuid.UUID       `gorm:"column:employee_id;type:uuid;not null;index:idx_payroll_documents_lineage,priority:1"`
	EmployeeName          string          `gorm:"column:employee_name;type:varchar(200);not null"`
	EmployeeCode          string          `gorm:"column:employee_code;type:varchar(50);not null"`
	BranchID              *uuid.UUID      `gorm:"column:branch_id;type:uuid;index"`
	PeriodYear            int             `gorm:"column:period_year;not null;index:idx_payroll_documents_lineage,priority:3"`
	PeriodMonth           int             `gorm:"column:period_month;not null;default:0;index:idx_payroll_documents_lineage,priority:4"`
	Status                string          `gorm:"type:varchar(40);not null;index"`
	GrossSalary           decimal.Decimal `gorm:"column:gross_salary;type:decimal(18,2);not null;default:0"`
	NetSalary             decimal.Decimal `gorm:"column:net_salary;type:decimal(18,2);not null;default:0"`
	TotalDeductions       decimal.Decimal `gorm:"column:total_deductions;type:decimal(18,2);not null;default:0"`
	TotalAllowances       decimal.Decimal `gorm:"column:total_allowances;type:decimal(18,2);not null;default:0"`
	EmployerContributions decimal.Decimal `gorm:"column:employer_contributions;type:decimal(18,2);not null;default:0"`
	EmployeeContributions decimal.Decimal `gorm:"column:employee_contributions;type:decimal(18,2);not null;default:0"`
	IncomeTax             decimal.Decimal `gorm:"column:income_tax;type:decimal(18,2);not null;default:0"`
	FileProvider          string          `gorm:"column:file_provider;type:varchar(20)"`
	FilePath              string          `gorm:"column:file_path;type:varchar(500)"`
	FileSize              int64           `gorm:"column:file_size;not null;default:0"`
	FileChecksum          string          `gorm:"column:file_checksum;type:varchar(64)"`
	FileMimeType          string          `gorm:"column:file_mime_type;type:varchar(100)"`
	FileURL               string          `gorm:"column:file_url;type:text"`
	GenerationMode        string          `gorm:"column:generation_mode;type:varchar(20);not null;default:'FINAL'"`
	Quality               string          `gorm:"type:varchar(20);not null;default:'STANDARD'"`
	GeneratedAt           *time.Time      `gorm:"column:generated_at"`
	GeneratedBy           *uuid.UUID      `gorm:"column:generated_by;type:uuid"`
	ProcessingDurationMs  int64           `gorm:"column:processing_duration_ms;not null;default:0"`
	RetryCount            int             `gorm:"column:retry_count;not null;default:0"`
	PreviewExpiresAt      *time.Time      `gorm:"column:preview_expires_at;index"`
	PreviewInfo           *string         `gorm:"column:preview_info;type:text"`
	ApprovalInfo          *string         `gorm:"column:approval_info;type:text"`
	DistributionInfo      *string         `gorm:"column:distribution_info;type:text"`
	ArchiveInfo           *string         `gorm:"column:archive_info;type:text"`
	FailureInfo           *string         `gorm:"column:failure_info;type:text"`
	Version               int             `gorm:"not null;default:1"`
	ParentDocumentID      *uuid.UUID      `gorm:"column:parent_document_id;type:uuid;index"`
	IsLatestVersion       bool            `gorm:"column:is_latest_version;not null;default:true;index:idx_payroll_documents_lineage,priority:5"`
	Deleted               bool            `gorm:"not null;default:false;index"`
	DeletedBy             *uuid.UUID      `gorm:"column:deleted_by;type:uuid"`
	DeletedAt             *time.Time      `gorm:"column:deleted_at"`
	Tags                  string          `gorm:"type:text;not null;default:'[]'"`
	Category              string          `gorm:"type:varchar(100)"`
	Priority              string          `gorm:"type:varchar(20);not null;default:'NORMAL'"`
	CreatedBy             uuid.UUID       `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt             time.Time       `gorm:"not null;index"`
	UpdatedAt             time.Time       `gorm:"not null"`
	Revision              int             `gorm:"not null;default:1"`
}

// TableName returns the table name for PayrollDocumentModel
func (PayrollDocumentModel) TableName() string {
	return "payroll_documents"
}

// ToDomain converts PayrollDocumentModel to the domain aggregate
func (m *PayrollDocumentModel) ToDomain() (*payroll.PayrollDocument, error) {
	doc := &payroll.PayrollDocument{
		BaseAggregateRoot: shared.BaseAggregateRoot{
			BaseEntity: shared.BaseEntity{
				ID:        m.ID,
				CreatedAt: m.CreatedAt,
				UpdatedAt: m.UpdatedAt,
			},
			Revision: m.Revision,
		},
		DocumentID:   m.DocumentID,
		Type:         payroll.DocumentType(m.DocumentType),
		EmployeeID:   m.EmployeeID,
		EmployeeName: m.EmployeeName,
		EmployeeCode: m.EmployeeCode,
		BranchID:     m.BranchID,
		Period:       payroll.Period{Year: m.PeriodYear, Month: m.PeriodMonth},
		Status:       payroll.DocumentStatus(m.Status),
		Amounts: payroll.PayrollAmounts{
			GrossSalary:           m.GrossSalary,
			NetSalary:             m.NetSalary,
			TotalDeductions:       m.TotalDeductions,
			TotalAllowances:       m.TotalAllowances,
			EmployerContributions: m.EmployerContributions,
			EmployeeContributions: m.EmployeeContributions,
			IncomeTax:             m.IncomeTax,
		},
		Generation: payroll.GenerationInfo{
			Mode:               payroll.GenerationMode(m.GenerationMode),
			Quality:            payroll.Quality(m.Quality),
			GeneratedAt:        m.GeneratedAt,
			GeneratedBy:        m.GeneratedBy,
			ProcessingDuration: time.Duration(m.ProcessingDurationMs) * time.Millisecond,
			RetryCount:         m.RetryCount,
		},
		Version:          m.Version,
		ParentDocumentID: m.ParentDocumentID,
		IsLatestVersion:  m.IsLatestVersion,
		Deleted:          m.Deleted,
		DeletedBy:        m.DeletedBy,
		DeletedAt:        m.DeletedAt,
		Category:         m.Category,
		Priority:         payroll.Priority(m.Priority),
		CreatedBy:        m.CreatedBy,
	}
	if m.FilePath != "" {
		doc.File = &payroll.FileMetadata{
			Provider: m.FileProvider,
			Path:     m.FilePath,
			Size:     m.FileSize,
			Checksum: m.FileChecksum,
			MimeType: m.FileMimeType,
			URL:      m.FileURL,
		}
	}
	if err := json.Unmarshal([]byte(m.Tags), &doc.Tags); err != nil && m.Tags != "" {
		return nil, err
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}

	var err error
	if doc.Preview, err = decodeOptional[payroll.PreviewInfo](m.PreviewInfo); err != nil {
		return nil, err
	}
	if doc.Approval, err = decodeOptional[payroll.ApprovalInfo](m.ApprovalInfo); err != nil {
		return nil, err
	}
	if doc.Distribution, err = decodeOptional[payroll.DistributionInfo](m.DistributionInfo); err != nil {
		return nil, err
	}
	if doc.Archive, err = decodeOptional[payroll.ArchiveInfo](m.ArchiveInfo); err != nil {
		return nil, err
	}
	if doc.Failure, err = decodeOptional[payroll.FailureInfo](m.FailureInfo); err != nil {
		return nil, err
	}
	return doc, nil
}

// PayrollDocumentModelFromDomain creates a PayrollDocumentModel from the domain aggregate
func PayrollDocumentModelFromDomain(d *payroll.PayrollDocument) (*PayrollDocumentModel, error) {
	m := &PayrollDocumentModel{
		ID:                    d.ID,
		DocumentID:            d.DocumentID,
		DocumentType:          string(d.Type),
		EmployeeID:            d.EmployeeID,
		EmployeeName:          d.EmployeeName,
		EmployeeCode:          d.EmployeeCode,
		BranchID:              d.BranchID,
		PeriodYear:            d.Period.Year,
		PeriodMonth:           d.Period.Month,
		Status:                string(d.Status),
		GrossSalary:           d.Amounts.GrossSalary,
		NetSalary:             d.Amounts.NetSalary,
		TotalDeductions:       d.Amounts.TotalDeductions,
		TotalAllowances:       d.Amounts.TotalAllowances,
		EmployerContributions: d.Amounts.EmployerContributions,
		EmployeeContributions: d.Amounts.EmployeeContributions,
		IncomeTax:             d.Amounts.IncomeTax,
		GenerationMode:        string(d.Generation.Mode),
		Quality:               string(d.Generation.Quality),
		GeneratedAt:           d.Generation.GeneratedAt,
		GeneratedBy:           d.Generation.GeneratedBy,
		ProcessingDurationMs:  d.Generation.ProcessingDuration.Milliseconds(),
		RetryCount:            d.Generation.RetryCount,
		Version:               d.Version,
		ParentDocumentID:      d.ParentDocumentID,
		IsLatestVersion:       d.IsLatestVersion,
		Deleted:               d.Deleted,
		DeletedBy:             d.DeletedBy,
		DeletedAt:             d.DeletedAt,
		Category:              d.Category,
		Priority:              string(d.Priority),
		CreatedBy:             d.CreatedBy,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
		Revision:              d.Revision,
	}
	if d.File != nil {
		m.FileProvider = d.File.Provider
		m.FilePath = d.File.Path
		m.FileSize = d.File.Size
		m.FileChecksum = d.File.Checksum
		m.FileMimeType = d.File.MimeType
		m.FileURL = d.File.URL
	}
	if d.Preview != nil {
		expires := d.Preview.ExpiresAt
		m.PreviewExpiresAt = &expires
	}

	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	m.Tags = string(data)

	if m.PreviewInfo, err = encodeOptional(d.Preview); err != nil {
		return nil, err
	}
	if m.ApprovalInfo, err = encodeOptional(d.Approval); err != nil {
		return nil, err
	}
	if m.DistributionInfo, err = encodeOptional(d.Distribution); err != nil {
		return nil, err
	}
	if m.ArchiveInfo, err = encodeOptional(d.Archive); err != nil {
		return nil, err
	}
	if m.FailureInfo, err = encodeOptional(d.Failure); err != nil {
		return nil, err
	}
	return m, nil
}

// StatusAuditRecordModel is the GORM model for the append-only status_audit_records table
type StatusAuditRecordModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	DocumentID       string    `gorm:"column:document_id;type:varchar(100);not null;index:idx_status_audit_document,priority:1"`
	FromStatus       string    `gorm:"column:from_status;type:varchar(40)"`
	ToStatus         string    `gorm:"column:to_status;type:varchar(40);not null"`
	Trigger          string    `gorm:"column:trigger_type;type:varchar(30);not null"`
	ActorID          uuid.UUID `gorm:"column:actor_id;type:uuid;not null"`
	Timestamp        time.Time `gorm:"column:occurred_at;not null;index:idx_status_audit_document,priority:2;index"`
	Reason           string    `gorm:"type:text"`
	Comments         string    `gorm:"type:text"`
	ProcessingTimeUs int64     `gorm:"column:processing_time_us;not null;default:0"`
	Success          bool      `gorm:"not null;index"`
	Forced           bool      `gorm:"not null;default:false"`
	ImpactLevel      string    `gorm:"column:impact_level;type:varchar(20)"`
	BusinessImpact   *string   `gorm:"column:business_impact;type:text"`
	ErrorCode        string    `gorm:"column:error_code;type:varchar(50);index"`
	ErrorDetail      *string   `gorm:"column:error_detail;type:text"`
	RequestID        string    `gorm:"column:request_id;type:varchar(100)"`
}

// TableName returns the table name for StatusAuditRecordModel
func (StatusAuditRecordModel) TableName() string {
	return "status_audit_records"
}

// ToDomain converts StatusAuditRecordModel to the domain record
func (m *StatusAuditRecordModel) ToDomain() (*payroll.StatusChangeAuditRecord, error) {
	r := &payroll.StatusChangeAuditRecord{
		ID:             m.ID,
		DocumentID:     m.DocumentID,
		FromStatus:     payroll.DocumentStatus(m.FromStatus),
		ToStatus:       payroll.DocumentStatus(m.ToStatus),
		Trigger:        payroll.TransitionTrigger(m.Trigger),
		ActorID:        m.ActorID,
		Timestamp:      m.Timestamp,
		Reason:         m.Reason,
		Comments:       m.Comments,
		ProcessingTime: time.Duration(m.ProcessingTimeUs) * time.Microsecond,
		Success:        m.Success,
		Forced:         m.Forced,
		RequestID:      m.RequestID,
	}
	var err error
	if r.BusinessImpact, err = decodeOptional[payroll.BusinessImpact](m.BusinessImpact); err != nil {
		return nil, err
	}
	if r.Error, err = decodeOptional[payroll.AuditErrorDetail](m.ErrorDetail); err != nil {
		return nil, err
	}
	return r, nil
}

// StatusAuditRecordModelFromDomain creates a StatusAuditRecordModel from the domain record
func StatusAuditRecordModelFromDomain(r *payroll.StatusChangeAuditRecord) (*StatusAuditRecordModel, error) {
	m := &StatusAuditRecordModel{
		ID:               r.ID,
		DocumentID:       r.DocumentID,
		FromStatus:       string(r.FromStatus),
		ToStatus:         string(r.ToStatus),
		Trigger:          string(r.Trigger),
		ActorID:          r.ActorID,
		Timestamp:        r.Timestamp,
		Reason:           r.Reason,
		Comments:         r.Comments,
		ProcessingTimeUs: r.ProcessingTime.Microseconds(),
		Success:          r.Success,
		Forced:           r.Forced,
		RequestID:        r.RequestID,
	}
	if r.BusinessImpact != nil {
		m.ImpactLevel = string(r.BusinessImpact.Level)
	}
	if r.Error != nil {
		m.ErrorCode = string(r.Error.Code)
	}
	var err error
	if m.BusinessImpact, err = encodeOptional(r.BusinessImpact); err != nil {
		return nil, err
	}
	if m.ErrorDetail, err = encodeOptional(r.Error); err != nil {
		return nil, err
	}
	return m, nil
}

// EmployeeModel is the GORM model for the employees table read by the generation gate
type EmployeeModel struct {
	BaseModel
	Code        string     `gorm:"type:varchar(50);not null;uniqueIndex"`
	FirstName   string     `gorm:"column:first_name;type:varchar(100);not null"`
	LastName    string     `gorm:"column:last_name;type:varchar(100);not null"`
	Email       string     `gorm:"type:varchar(200)"`
	Active      bool       `gorm:"not null;default:true"`
	CNSSNumber  string     `gorm:"column:cnss_number;type:varchar(30)"`
	BankName    string     `gorm:"column:bank_name;type:varchar(100)"`
	BankAccount string     `gorm:"column:bank_account;type:varchar(50)"`
	HireDate    *time.Time `gorm:"column:hire_date"`
	Position    string     `gorm:"type:varchar(100)"`
	BranchID    *uuid.UUID `gorm:"column:branch_id;type:uuid;index"`
	Department  string     `gorm:"type:varchar(100)"`
}

// TableName returns the table name for EmployeeModel
func (EmployeeModel) TableName() string {
	return "employees"
}

// ToDomain converts EmployeeModel to the domain read model
func (m *EmployeeModel) ToDomain() *payroll.Employee {
	return &payroll.Employee{
		ID:          m.ID,
		Code:        m.Code,
		FirstName:   m.FirstName,
		LastName:    m.LastName,
		Email:       m.Email,
		Active:      m.Active,
		CNSSNumber:  m.CNSSNumber,
		BankName:    m.BankName,
		BankAccount: m.BankAccount,
		HireDate:    m.HireDate,
		Position:    m.Position,
		BranchID:    m.BranchID,
		Department:  m.Department,
	}
}

// EmployeeModelFromDomain creates an EmployeeModel from the domain read model
func EmployeeModelFromDomain(e *payroll.Employee, now time.Time) *EmployeeModel {
	return &EmployeeModel{
		BaseModel:   BaseModel{ID: e.ID, CreatedAt: now, UpdatedAt: now},
		Code:        e.Code,
		FirstName:   e.FirstName,
		LastName:    e.LastName,
		Email:       e.Email,
		Active:      e.Active,
		CNSSNumber:  e.CNSSNumber,
		BankName:    e.BankName,
		BankAccount: e.BankAccount,
		HireDate:    e.HireDate,
		Position:    e.Position,
		BranchID:    e.BranchID,
		Department:  e.Department,
	}
}

func encodeOptional[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func decodeOptional[T any](s *string) (*T, error) {
	if s == nil || *s == "" || *s == "null" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(*s), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
