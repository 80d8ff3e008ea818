package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"github.com/erp/payroll/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormDocumentRepository implements payroll.DocumentRepository using GORM
type GormDocumentRepository struct {
	db *gorm.DB
}

// NewGormDocumentRepository creates a new GormDocumentRepository
func NewGormDocumentRepository(db *gorm.DB) *GormDocumentRepository {
	return &GormDocumentRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *GormDocumentRepository) WithTx(tx *gorm.DB) *GormDocumentRepository {
	return &GormDocumentRepository{db: tx}
}

func (r *GormDocumentRepository) findOne(ctx context.Context, query string, args ...any) (*payroll.PayrollDocument, error) {
	var model models.PayrollDocumentModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByID finds a document by storage id
func (r *GormDocumentRepository) FindByID(ctx context.Context, id uuid.UUID) (*payroll.PayrollDocument, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByDocumentID finds a document by its human-readable id
func (r *GormDocumentRepository) FindByDocumentID(ctx context.Context, documentID string) (*payroll.PayrollDocument, error) {
	return r.findOne(ctx, "document_id = ?", documentID)
}

// FindLatestInLineage returns the latest final document of the lineage
func (r *GormDocumentRepository) FindLatestInLineage(ctx context.Context, key payroll.LineageKey, includeDeleted bool) (*payroll.PayrollDocument, error) {
	query := r.db.WithContext(ctx).
		Where("employee_id = ? AND document_type = ? AND period_year = ? AND period_month = ?",
			key.EmployeeID, string(key.Type), key.Period.Year, key.Period.Month).
		Where("generation_mode = ?", string(payroll.GenerationModeFinal))
	if !includeDeleted {
		query = query.Where("deleted = ?", false)
	}

	var model models.PayrollDocumentModel
	err := query.Order("is_latest_version DESC").Order("version DESC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToDomain()
}

// FindByFilter returns documents matching the filter, by creation time unless the filter sorts otherwise
func (r *GormDocumentRepository) FindByFilter(ctx context.Context, filter payroll.DocumentFilter) ([]payroll.PayrollDocument, error) {
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.PayrollDocumentModel{}), filter)
	for _, clause := range documentOrderClauses(filter.SortBy, filter.SortOrder) {
		query = query.Order(clause)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []models.PayrollDocumentModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainDocuments(rows)
}

// CountByFilter counts documents matching the filter
func (r *GormDocumentRepository) CountByFilter(ctx context.Context, filter payroll.DocumentFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.db.WithContext(ctx).Model(&models.PayrollDocumentModel{}), filter).Count(&count).Error
	return count, err
}

// CountByStatus counts non-deleted documents per status
func (r *GormDocumentRepository) CountByStatus(ctx context.Context) (map[payroll.DocumentStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.PayrollDocumentModel{}).
		Select("status, COUNT(*) AS count").
		Where("deleted = ?", false).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[payroll.DocumentStatus]int64, len(rows))
	for _, row := range rows {
		counts[payroll.DocumentStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// Create inserts a new document
func (r *GormDocumentRepository) Create(ctx context.Context, doc *payroll.PayrollDocument) error {
	return create(r.db.WithContext(ctx), doc)
}

func create(db *gorm.DB, doc *payroll.PayrollDocument) error {
	model, err := models.PayrollDocumentModelFromDomain(doc)
	if err != nil {
		return fmt.Errorf("failed to map document %s: %w", doc.DocumentID, err)
	}
	if err := db.Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Update persists changes with optimistic locking on Revision
func (r *GormDocumentRepository) Update(ctx context.Context, doc *payroll.PayrollDocument) error {
	return update(r.db.WithContext(ctx), doc)
}

func update(db *gorm.DB, doc *payroll.PayrollDocument) error {
	current := doc.Revision
	doc.IncrementRevision()

	model, err := models.PayrollDocumentModelFromDomain(doc)
	if err != nil {
		doc.Revision = current
		return fmt.Errorf("failed to map document %s: %w", doc.DocumentID, err)
	}

	result := db.Model(&models.PayrollDocumentModel{}).
		Where("id = ? AND revision = ?", doc.ID, current).
		Select("*").Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		doc.Revision = current
		return result.Error
	}
	if result.RowsAffected == 0 {
		doc.Revision = current
		var count int64
		db.Model(&models.PayrollDocumentModel{}).Where("id = ?", doc.ID).Count(&count)
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// CreateVersion atomically supersedes prior and inserts next
func (r *GormDocumentRepository) CreateVersion(ctx context.Context, prior, next *payroll.PayrollDocument) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := update(tx, prior); err != nil {
			return err
		}
		return create(tx, next)
	})
}

// FindQueuedPlaceholders returns GENERATING documents without a file
func (r *GormDocumentRepository) FindQueuedPlaceholders(ctx context.Context, limit int) ([]payroll.PayrollDocument, error) {
	var rows []models.PayrollDocumentModel
	query := r.db.WithContext(ctx).
		Where("status = ? AND deleted = ?", string(payroll.StatusGenerating), false).
		Where("file_path IS NULL OR file_path = ''").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainDocuments(rows)
}

// FindExpiredPreviews returns preview documents whose file outlived the preview expiry
func (r *GormDocumentRepository) FindExpiredPreviews(ctx context.Context, now time.Time, limit int) ([]payroll.PayrollDocument, error) {
	var rows []models.PayrollDocumentModel
	query := r.db.WithContext(ctx).
		Where("generation_mode = ? AND deleted = ?", string(payroll.GenerationModePreview), false).
		Where("file_path IS NOT NULL AND file_path <> ''").
		Where("preview_expires_at < ?", now).
		Order("preview_expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainDocuments(rows)
}

// FindDeletedBefore returns soft-deleted documents deleted before cutoff
func (r *GormDocumentRepository) FindDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]payroll.PayrollDocument, error) {
	var rows []models.PayrollDocumentModel
	query := r.db.WithContext(ctx).
		Where("deleted = ? AND deleted_at < ?", true, cutoff).
		Order("deleted_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainDocuments(rows)
}

// HardDelete removes a soft-deleted document permanently
func (r *GormDocumentRepository) HardDelete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND deleted = ?", id, true).
		Delete(&models.PayrollDocumentModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// IntegrityReport counts invariant violations over non-deleted documents
func (r *GormDocumentRepository) IntegrityReport(ctx context.Context) (*payroll.IntegrityReport, error) {
	db := r.db.WithContext(ctx)
	report := &payroll.IntegrityReport{CheckedAt: time.Now()}
	live := func() *gorm.DB {
		return db.Model(&models.PayrollDocumentModel{}).Where("deleted = ?", false)
	}

	if err := live().Count(&report.TotalDocuments).Error; err != nil {
		return nil, err
	}
	if err := live().Where("net_salary > gross_salary").Count(&report.NetAboveGross).Error; err != nil {
		return nil, err
	}

	duplicates := live().
		Select("employee_id, document_type, period_year, period_month").
		Where("is_latest_version = ? AND generation_mode = ?", true, string(payroll.GenerationModeFinal)).
		Group("employee_id, document_type, period_year, period_month").
		Having("COUNT(*) > 1")
	if err := db.Table("(?) AS duplicate_lineages", duplicates).Count(&report.MultipleLatestVersions).Error; err != nil {
		return nil, err
	}

	withFile := []string{
		string(payroll.StatusGenerated), string(payroll.StatusApproved),
		string(payroll.StatusSent), string(payroll.StatusArchived),
	}
	if err := live().Where("status IN ?", withFile).
		Where("file_path IS NULL OR file_path = ''").
		Count(&report.MissingFiles).Error; err != nil {
		return nil, err
	}
	return report, nil
}

// Ping checks connectivity
func (r *GormDocumentRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormDocumentRepository) applyFilter(query *gorm.DB, filter payroll.DocumentFilter) *gorm.DB {
	if !filter.IncludeDeleted {
		query = query.Where("deleted = ?", false)
	}
	if filter.LatestOnly {
		query = query.Where("is_latest_version = ?", true)
	}
	if len(filter.EmployeeIDs) > 0 {
		query = query.Where("employee_id IN ?", filter.EmployeeIDs)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		query = query.Where("document_type IN ?", types)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where("status IN ?", statuses)
	}
	if len(filter.Periods) > 0 {
		// a yearly period matches every month of that year
		group := r.db.Session(&gorm.Session{NewDB: true})
		for i, p := range filter.Periods {
			cond, args := "period_year = ? AND period_month = ?", []any{p.Year, p.Month}
			if !p.HasMonth() {
				cond, args = "period_year = ?", []any{p.Year}
			}
			if i == 0 {
				group = group.Where(cond, args...)
			} else {
				group = group.Or(cond, args...)
			}
		}
		query = query.Where(group)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}
	if filter.BranchID != nil {
		query = query.Where("branch_id = ?", *filter.BranchID)
	}
	if len(filter.Tags) > 0 {
		group := r.db.Session(&gorm.Session{NewDB: true})
		for i, tag := range filter.Tags {
			pattern := tagPattern(tag)
			if i == 0 {
				group = group.Where(`tags LIKE ? ESCAPE '\'`, pattern)
			} else {
				group = group.Or(`tags LIKE ? ESCAPE '\'`, pattern)
			}
		}
		query = query.Where(group)
	}
	return query
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// tagPattern matches one element of the JSON tags column. The tag is encoded
// the way the model stores it and LIKE wildcards in it are escaped.
func tagPattern(tag string) string {
	encoded, _ := json.Marshal(tag)
	return "%" + likeEscaper.Replace(string(encoded)) + "%"
}

func toDomainDocuments(rows []models.PayrollDocumentModel) ([]payroll.PayrollDocument, error) {
	docs := make([]payroll.PayrollDocument, 0, len(rows))
	for i := range rows {
		doc, err := rows[i].ToDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to map document %s: %w", rows[i].DocumentID, err)
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

var _ payroll.DocumentRepository = (*GormDocumentRepository)(nil)
