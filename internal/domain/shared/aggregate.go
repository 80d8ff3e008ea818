package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries identity and timestamps
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Touch moves UpdatedAt forward
func (e *BaseEntity) Touch(at time.Time) {
	e.UpdatedAt = at
}

// NewBaseEntityAt returns an entity with a fresh ID created at now
func NewBaseEntityAt(now time.Time) BaseEntity {
	return BaseEntity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
}

// BaseAggregateRoot is an entity guarded by an optimistic-locking revision.
// Repositories compare Revision on update and bump it once the write lands.
type BaseAggregateRoot struct {
	BaseEntity
	Revision int `gorm:"not null;default:1"`
}

// IncrementRevision records a persisted mutation
func (a *BaseAggregateRoot) IncrementRevision() {
	a.Revision++
}

// NewBaseAggregateRootAt starts an aggregate at revision 1
func NewBaseAggregateRootAt(now time.Time) BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: NewBaseEntityAt(now), Revision: 1}
}
