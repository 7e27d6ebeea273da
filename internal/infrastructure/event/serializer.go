package event

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hotline/admissions/internal/domain/shared"
)

// EventFactory returns an empty event to decode a payload into
type EventFactory func() shared.DomainEvent

// EventSerializer encodes events as JSON and decodes them back into their
// concrete types. Only registered types pass in either direction.
type EventSerializer struct {
	mu        sync.RWMutex
	factories map[string]EventFactory
}

// NewEventSerializer creates a serializer with no types registered
func NewEventSerializer() *EventSerializer {
	return &EventSerializer{factories: make(map[string]EventFactory)}
}

// Register binds an event type name to its factory. A second registration replaces the first.
func (s *EventSerializer) Register(eventType string, factory EventFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[eventType] = factory
}

func (s *EventSerializer) factory(eventType string) (EventFactory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.factories[eventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
	return f, nil
}

// Serialize encodes the event
func (s *EventSerializer) Serialize(event shared.DomainEvent) ([]byte, error) {
	if _, err := s.factory(event.EventType()); err != nil {
		return nil, err
	}
	return json.Marshal(event)
}

// Deserialize decodes data into the concrete type registered for eventType
func (s *EventSerializer) Deserialize(eventType string, data []byte) (shared.DomainEvent, error) {
	f, err := s.factory(eventType)
	if err != nil {
		return nil, err
	}
	event := f()
	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return event, nil
}

// IsRegistered reports whether eventType can be encoded
func (s *EventSerializer) IsRegistered(eventType string) bool {
	_, err := s.factory(eventType)
	return err == nil
}

// RegisteredTypes returns the registered type names in sorted order
func (s *EventSerializer) RegisteredTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.factories))
}
