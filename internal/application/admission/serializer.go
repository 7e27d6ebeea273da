package admission

import (
	"context"
	"sync"
)

// slot is the per-application run state. idle is closed when the slot is released.
type slot struct {
	dirty     bool
	exclusive bool
	idle      chan struct{}
}

// Serializer runs at most one job per application at a time.
//
// Trigger coalesces: a trigger that arrives while a run is in flight marks
// the slot dirty and returns at once; the running caller then does exactly
// one more run. Exclusive waits for the slot to be free and holds it for a
// single call.
type Serializer struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

// NewSerializer creates an empty serializer
func NewSerializer() *Serializer {
	return &Serializer{slots: make(map[int64]*slot)}
}

// Trigger runs fn for id unless a run is already in flight.
// ran is false when the trigger was folded into the in-flight run.
// The returned error is the error of the last run.
func (s *Serializer) Trigger(ctx context.Context, id int64, fn func(context.Context) error) (ran bool, err error) {
	s.mu.Lock()
	if sl, ok := s.slots[id]; ok {
		if !sl.exclusive {
			sl.dirty = true
		}
		s.mu.Unlock()
		return false, nil
	}
	sl := &slot{idle: make(chan struct{})}
	s.slots[id] = sl
	s.mu.Unlock()

	released := false
	defer func() {
		if !released {
			s.release(id, sl)
		}
	}()

	for {
		err = fn(ctx)

		s.mu.Lock()
		if !sl.dirty || ctx.Err() != nil {
			delete(s.slots, id)
			close(sl.idle)
			released = true
			s.mu.Unlock()
			return true, err
		}
		sl.dirty = false
		s.mu.Unlock()
	}
}

// Exclusive waits until no run holds id, then runs fn while holding the slot.
// Triggers arriving meanwhile are dropped; the next trigger or reconcile pass picks them up.
func (s *Serializer) Exclusive(ctx context.Context, id int64, fn func(context.Context) error) error {
	var sl *slot
	for {
		s.mu.Lock()
		current, busy := s.slots[id]
		if !busy {
			sl = &slot{exclusive: true, idle: make(chan struct{})}
			s.slots[id] = sl
			s.mu.Unlock()
			break
		}
		idle := current.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer s.release(id, sl)
	return fn(ctx)
}

// Busy reports whether a run currently holds id
func (s *Serializer) Busy(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[id]
	return ok
}

func (s *Serializer) release(id int64, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[id] == sl {
		delete(s.slots, id)
		close(sl.idle)
	}
}
