package align

import (
	"sort"
	"sync"
)

// DefaultTrackerCapacity bounds the number of outcomes kept in memory.
const DefaultTrackerCapacity = 64

// OutcomeTracker keeps recent alignment outcomes for the HTTP endpoints.
// When full, the oldest outcome is evicted.
type OutcomeTracker struct {
	mu       sync.RWMutex
	outcomes map[string]*AlignOutcome
	order    []string
	capacity int
}

// NewOutcomeTracker creates a tracker holding at most capacity outcomes.
func NewOutcomeTracker(capacity int) *OutcomeTracker {
	if capacity < 1 {
		capacity = DefaultTrackerCapacity
	}
	return &OutcomeTracker{
		outcomes: make(map[string]*AlignOutcome),
		capacity: capacity,
	}
}

// Put stores out under its session id.
func (ot *OutcomeTracker) Put(out *AlignOutcome) {
	ot.mu.Lock()
	defer ot.mu.Unlock()

	if _, ok := ot.outcomes[out.SessionID]; !ok {
		ot.order = append(ot.order, out.SessionID)
	}
	ot.outcomes[out.SessionID] = out

	for len(ot.order) > ot.capacity {
		oldest := ot.order[0]
		ot.order = ot.order[1:]
		delete(ot.outcomes, oldest)
	}
}

// Get returns a copy of the outcome for id.
func (ot *OutcomeTracker) Get(id string) (*AlignOutcome, bool) {
	ot.mu.RLock()
	defer ot.mu.RUnlock()

	out, ok := ot.outcomes[id]
	if !ok {
		return nil, false
	}
	c := *out
	return &c, true
}

// Latest returns a copy of the most recently stored outcome.
func (ot *OutcomeTracker) Latest() (*AlignOutcome, bool) {
	ot.mu.RLock()
	defer ot.mu.RUnlock()

	if len(ot.order) == 0 {
		return nil, false
	}
	c := *ot.outcomes[ot.order[len(ot.order)-1]]
	return &c, true
}

// IDs returns the tracked session ids sorted.
func (ot *OutcomeTracker) IDs() []string {
	ot.mu.RLock()
	defer ot.mu.RUnlock()

	ids := append([]string(nil), ot.order...)
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked outcomes.
func (ot *OutcomeTracker) Len() int {
	ot.mu.RLock()
	defer ot.mu.RUnlock()
	return len(ot.order)
}
