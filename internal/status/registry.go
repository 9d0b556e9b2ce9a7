// Package status tracks live per-borough scrape progress as a pollable
// snapshot. Workers mutate only their own borough's entry; readers get
// copies and may observe a borough mid-update.
package status

import (
	"sync"
	"time"
)

// State is the lifecycle state of one borough's scraper.
type State string

// Borough lifecycle states.
const (
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateError       State = "error"
)

// BoroughStatus is the live progress of one borough. Reset on process
// restart; never persisted.
type BoroughStatus struct {
	State        State     `json:"state"`
	KeywordIndex int       `json:"keyword_index"`
	KeywordTotal int       `json:"keyword_total"`
	Requests     int       `json:"requests"`
	Pages        int       `json:"pages"`
	Found        int       `json:"found"`
	LastError    string    `json:"last_error,omitempty"`
	LastRun      time.Time `json:"last_run"`
}

// Registry holds one BoroughStatus per configured borough. Each Registry
// belongs to one orchestrator instance so independent orchestrators (and
// tests) never share state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*BoroughStatus
	hub     *Hub
}

// NewRegistry initializes entries for the given boroughs.
func NewRegistry(boroughs []string, hub *Hub) *Registry {
	entries := make(map[string]*BoroughStatus, len(boroughs))
	for _, b := range boroughs {
		entries[b] = &BoroughStatus{State: StateInitialized}
	}
	return &Registry{entries: entries, hub: hub}
}

// Update applies fn to the borough's entry under the registry lock and
// emits a change event. Unknown boroughs get an entry on first update.
func (r *Registry) Update(borough string, fn func(*BoroughStatus)) {
	r.mu.Lock()
	entry, ok := r.entries[borough]
	if !ok {
		entry = &BoroughStatus{State: StateInitialized}
		r.entries[borough] = entry
	}
	fn(entry)
	snapshot := *entry
	r.mu.Unlock()

	r.hub.Emit(Event{Borough: borough, Status: snapshot, At: time.Now().UTC()})
}

// Get returns a copy of the borough's status.
func (r *Registry) Get(borough string) (BoroughStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[borough]
	if !ok {
		return BoroughStatus{}, false
	}
	return *entry, true
}

// Snapshot returns copies of every borough's status.
func (r *Registry) Snapshot() map[string]BoroughStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]BoroughStatus, len(r.entries))
	for name, entry := range r.entries {
		out[name] = *entry
	}
	return out
}
