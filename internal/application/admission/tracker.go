package admission

import (
	"sync"

	"github.com/hotline/admissions/internal/domain/admission"
)

// Tracker maps review message locators to the application they belong to
type Tracker struct {
	mu     sync.RWMutex
	byLoc  map[string]int64
	byApps map[int64][]string
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		byLoc:  make(map[string]int64),
		byApps: make(map[int64][]string),
	}
}

// Track associates loc with an application. A zero locator is ignored.
func (t *Tracker) Track(loc admission.MessageLocator, applicationID int64) {
	if loc.IsZero() || applicationID == 0 {
		return
	}
	key := loc.String()

	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.byLoc[key]; ok && prev == applicationID {
		return
	}
	t.byLoc[key] = applicationID
	t.byApps[applicationID] = append(t.byApps[applicationID], key)
}

// Lookup returns the application tracked for loc
func (t *Tracker) Lookup(loc admission.MessageLocator) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byLoc[loc.String()]
	return id, ok
}

// Untrack forgets every locator of an application and returns them
func (t *Tracker) Untrack(applicationID int64) []admission.MessageLocator {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.byApps[applicationID]
	delete(t.byApps, applicationID)

	locs := make([]admission.MessageLocator, 0, len(keys))
	for _, key := range keys {
		if t.byLoc[key] == applicationID {
			delete(t.byLoc, key)
		}
		if loc, err := admission.ParseMessageLocator(key); err == nil {
			locs = append(locs, loc)
		}
	}
	return locs
}

// Len returns the number of tracked locators
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byLoc)
}
