// Package registry implements the module registry (spec §4.3):
// registration and versioning of AnalysisModuleTypes, with the queue
// invalidation semantics that let stale results be dropped safely.
// Registrations do not expire: a record stays until Unregister removes it.
package registry

import (
	"sync"

	"github.com/ace-core/ace/internal/events"
	"github.com/ace-core/ace/internal/model"
)

// Registry stores AnalysisModuleTypes keyed by name and tracks, per name,
// which AMT version is current. Queue invalidation (marking an old
// version's queue invalid so stale results are dropped) is a comparison
// against the stored version string: the request processor checks
// IsCurrentVersion, and queue.Manager only hands out the current
// version's queue.
type Registry struct {
	mu   sync.RWMutex
	amts map[string]*model.AnalysisModuleType
	bus  events.Bus
}

// New returns an empty Registry that emits module lifecycle events on bus.
func New(bus events.Bus) *Registry {
	return &Registry{
		amts: make(map[string]*model.AnalysisModuleType),
		bus:  bus,
	}
}

// Register stores amt. Re-registering the same name at the same version
// is idempotent. Registering at a different version atomically replaces
// the record; the caller (core/queue wiring) is responsible for binding a
// fresh queue to the new version and marking the old one invalidated.
// Returns the previous record (nil if this is a first registration) and
// whether the version changed.
func (r *Registry) Register(amt *model.AnalysisModuleType) (previous *model.AnalysisModuleType, versionChanged bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, had := r.amts[amt.Name]
	r.amts[amt.Name] = amt.Clone()

	if !had {
		if r.bus != nil {
			r.bus.Emit(events.TopicModuleNew, events.ModulePayload{Name: amt.Name, Version: amt.Version})
		}
		return nil, true
	}

	if existing.Version == amt.Version {
		if r.bus != nil {
			r.bus.Emit(events.TopicModuleModified, events.ModulePayload{Name: amt.Name, Version: amt.Version})
		}
		return existing, false
	}

	if r.bus != nil {
		r.bus.Emit(events.TopicModuleModified, events.ModulePayload{Name: amt.Name, Version: amt.Version})
	}
	return existing, true
}

// Unregister removes name's record entirely.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.amts[name]
	delete(r.amts, name)
	r.mu.Unlock()

	if existed && r.bus != nil {
		r.bus.Emit(events.TopicModuleDeleted, events.ModulePayload{Name: name})
	}
}

// Get returns a clone of the currently registered AMT for name.
func (r *Registry) Get(name string) (*model.AnalysisModuleType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	amt, ok := r.amts[name]
	if !ok {
		return nil, false
	}
	return amt.Clone(), true
}

// IsCurrentVersion reports whether version is still the registered
// version of name. Used by the request processor (spec §4.2 step 4) to
// decide whether a returned result is stale and must be silently dropped.
func (r *Registry) IsCurrentVersion(name, version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	amt, ok := r.amts[name]
	return ok && amt.Version == version
}

// List returns a clone of every registered AMT.
func (r *Registry) List() []*model.AnalysisModuleType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.AnalysisModuleType, 0, len(r.amts))
	for _, amt := range r.amts {
		out = append(out, amt.Clone())
	}
	return out
}

// MatchingFor returns every registered, non-manual AMT that accepts o and
// has not already produced an Analysis on it — the candidate set for
// auto-dispatch in spec §4.2 step 5.
func (r *Registry) MatchingFor(o *model.Observable) []*model.AnalysisModuleType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.AnalysisModuleType
	for _, amt := range r.amts {
		if amt.Manual {
			continue
		}
		if _, done := o.Analyses[amt.Name]; done {
			continue
		}
		if !amt.Accepts(o) {
			continue
		}
		out = append(out, amt.Clone())
	}
	return out
}
