package models

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel holds the key and timestamps of read-model tables
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// AllModels lists the tables AutoMigrate creates for sqlite, in dependency order.
// Postgres schemas come from the SQL migrations instead.
func AllModels() []any {
	return []any{
		&EmployeeModel{},
		&PayrollDocumentModel{},
		&StatusAuditRecordModel{},
	}
}
