// Package registry holds the authoritative in-memory set of positions under
// active monitoring. The atomic Remove is the exclusion primitive that makes
// the active -> exiting transition happen at most once per position.
package registry

import (
	"sync"

	"exitwatch/internal/models"
)

// Registry is a concurrency-safe map of position id -> MonitoredPosition.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]*models.MonitoredPosition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		positions: make(map[string]*models.MonitoredPosition),
	}
}

// Insert adds a position if its id is not already present and reports
// whether it was added. Re-inserting an existing id is a no-op, which makes
// rehydration and reconciliation idempotent.
func (r *Registry) Insert(p *models.MonitoredPosition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.positions[p.ID]; ok {
		return false
	}
	r.positions[p.ID] = p
	return true
}

// Remove atomically takes a position out of the registry. Exactly one caller
// observes ok == true for a given id; everyone else sees "not present" and
// must abort without side effects.
func (r *Registry) Remove(id string) (*models.MonitoredPosition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return nil, false
	}
	delete(r.positions, id)
	return p, true
}

// Contains reports whether the id is currently monitored.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.positions[id]
	return ok
}

// Snapshot returns the current positions so callers can iterate without
// holding the registry lock.
func (r *Registry) Snapshot() []*models.MonitoredPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.MonitoredPosition, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p)
	}
	return out
}

// FindByTradeID scans for a position by its user-facing trade id. Linear,
// used only for operator-initiated manual exits.
func (r *Registry) FindByTradeID(tradeID string) (*models.MonitoredPosition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.positions {
		if p.TradeID == tradeID {
			return p, true
		}
	}
	return nil, false
}

// Len returns the number of monitored positions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// Clear drops all positions. Called on engine shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = make(map[string]*models.MonitoredPosition)
}
