package docstore

import "sync"

// InFlight tracks the item ids a consumer is currently working on. A claim
// lease keeps other agents away from an item; InFlight keeps a second
// delivery to the same agent away while the first one is still running.
type InFlight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewInFlight returns an empty set.
func NewInFlight() *InFlight {
	return &InFlight{ids: make(map[string]struct{})}
}

// Begin marks id as running. It returns false when id is already running.
func (f *InFlight) Begin(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[id]; ok {
		return false
	}
	f.ids[id] = struct{}{}
	return true
}

// Done releases id.
func (f *InFlight) Done(id string) {
	f.mu.Lock()
	delete(f.ids, id)
	f.mu.Unlock()
}
