package shared

import "time"

// BaseAggregateRoot carries the optimistic-lock version and the events
// recorded since the aggregate was loaded.
type BaseAggregateRoot struct {
	BaseEntity
	Version int
	events  []DomainEvent
}

// NewBaseAggregateRoot starts a fresh aggregate at version 1
func NewBaseAggregateRoot(now time.Time) BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: NewBaseEntity(now), Version: 1}
}

// IncrementVersion is called by repositories after a successful save
func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
}

// RecordEvent queues an event for publication after the next save
func (a *BaseAggregateRoot) RecordEvent(event DomainEvent) {
	a.events = append(a.events, event)
}

// Events returns the queued events without clearing them
func (a *BaseAggregateRoot) Events() []DomainEvent {
	return a.events
}

// PullEvents returns the queued events and clears the queue
func (a *BaseAggregateRoot) PullEvents() []DomainEvent {
	events := a.events
	a.events = nil
	return events
}
