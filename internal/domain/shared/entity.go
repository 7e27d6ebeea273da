package shared

import "time"

// BaseEntity holds the store-assigned identity and timestamps.
// A zero ID means the entity has not been saved yet.
type BaseEntity struct {
	ID        int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity stamps both timestamps with now
func NewBaseEntity(now time.Time) BaseEntity {
	return BaseEntity{CreatedAt: now, UpdatedAt: now}
}

// IsNew reports whether the entity has not been persisted yet
func (e *BaseEntity) IsNew() bool {
	return e.ID == 0
}
