package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries identity and audit timestamps. Timestamps are UTC.
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity stamps a fresh id with both timestamps set to now
func NewBaseEntity() BaseEntity {
	now := time.Now().UTC()
	return BaseEntity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
}

func (e *BaseEntity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

// BaseAggregateRoot adds an optimistic-lock version and a buffer of events
// raised by state changes. Events stay buffered until the caller pulls them
// after a successful write.
type BaseAggregateRoot struct {
	BaseEntity
	Version int
	pending []DomainEvent
}

// NewBaseAggregateRoot starts at version 1 with no pending events
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: NewBaseEntity(), Version: 1}
}

// IncrementVersion bumps the optimistic-lock version. Callers set UpdatedAt.
func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
}

func (a *BaseAggregateRoot) AddDomainEvent(e DomainEvent) {
	a.pending = append(a.pending, e)
}

// PendingEvents returns buffered events without clearing them
func (a *BaseAggregateRoot) PendingEvents() []DomainEvent {
	return a.pending
}

func (a *BaseAggregateRoot) ClearDomainEvents() {
	a.pending = nil
}

// PullDomainEvents hands over the buffered events and clears the buffer
func (a *BaseAggregateRoot) PullDomainEvents() []DomainEvent {
	out := a.pending
	a.pending = nil
	return out
}
