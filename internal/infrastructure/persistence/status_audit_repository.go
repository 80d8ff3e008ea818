package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormAuditTrail implements the append-only payroll.AuditTrail using GORM.
// It exposes no update or delete.
type GormAuditTrail struct {
	db *gorm.DB
}

// NewGormAuditTrail creates a new GormAuditTrail
func NewGormAuditTrail(db *gorm.DB) *GormAuditTrail {
	return &GormAuditTrail{db: db}
}

// Append stores a new record
func (r *GormAuditTrail) Append(ctx context.Context, record *payroll.StatusChangeAuditRecord) error {
	model, err := models.StatusAuditRecordModelFromDomain(record)
	if err != nil {
		return fmt.Errorf("failed to map audit record: %w", err)
	}
	return r.db.WithContext(ctx).Create(model).Error
}

// History returns records for the document, newest first. Records with the
// same timestamp fall back to their time-ordered ids.
func (r *GormAuditTrail) History(ctx context.Context, documentID string, limit int) ([]payroll.StatusChangeAuditRecord, error) {
	query := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("occurred_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.StatusAuditRecordModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]payroll.StatusChangeAuditRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].ToDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to map audit record %s: %w", rows[i].ID, err)
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Count returns the number of records for the document
func (r *GormAuditTrail) Count(ctx context.Context, documentID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.StatusAuditRecordModel{}).
		Where("document_id = ?", documentID).
		Count(&count).Error
	return count, err
}

// CountSince returns failed and total record counts since the given time
func (r *GormAuditTrail) CountSince(ctx context.Context, since time.Time) (int64, int64, error) {
	var row struct {
		Total  int64
		Failed int64
	}
	err := r.db.WithContext(ctx).Model(&models.StatusAuditRecordModel{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0) AS failed").
		Where("occurred_at >= ?", since).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Failed, row.Total, nil
}

var _ payroll.AuditTrail = (*GormAuditTrail)(nil)
