package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/domain/shared"
	"github.com/erp/payroll/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormEmployeeDirectory implements payroll.EmployeeDirectory on the employees table
type GormEmployeeDirectory struct {
	db *gorm.DB
}

// NewGormEmployeeDirectory creates a new GormEmployeeDirectory
func NewGormEmployeeDirectory(db *gorm.DB) *GormEmployeeDirectory {
	return &GormEmployeeDirectory{db: db}
}

// FindByID returns the employee or shared.ErrNotFound
func (r *GormEmployeeDirectory) FindByID(ctx context.Context, id uuid.UUID) (*payroll.Employee, error) {
	var model models.EmployeeModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save inserts or replaces the employee record
func (r *GormEmployeeDirectory) Save(ctx context.Context, e *payroll.Employee) error {
	model := models.EmployeeModelFromDomain(e, time.Now())
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

var _ payroll.EmployeeDirectory = (*GormEmployeeDirectory)(nil)
