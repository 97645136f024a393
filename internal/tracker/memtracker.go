package tracker

import (
	"context"
	"sync"

	"github.com/ace-core/ace/internal/model"
)

// MemRootTracker is an in-memory RootTracker, adapted from the teacher's
// pkg/storage/memory.Store: a single mutex-guarded map, values cloned on
// the way in and out so callers never share mutable state with the store.
type MemRootTracker struct {
	mu    sync.RWMutex
	roots map[string]*model.RootAnalysis
}

// NewMemRootTracker returns an empty tracker.
func NewMemRootTracker() *MemRootTracker {
	return &MemRootTracker{roots: make(map[string]*model.RootAnalysis)}
}

func (t *MemRootTracker) Put(_ context.Context, root *model.RootAnalysis) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roots[root.UUID] = root.Clone()
	return nil
}

func (t *MemRootTracker) Get(_ context.Context, uuid string) (*model.RootAnalysis, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	root, ok := t.roots[uuid]
	if !ok {
		return nil, false, nil
	}
	return root.Clone(), true, nil
}

func (t *MemRootTracker) Delete(_ context.Context, uuid string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.roots, uuid)
	return nil
}

func (t *MemRootTracker) List(_ context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.roots))
	for uuid := range t.roots {
		out = append(out, uuid)
	}
	return out, nil
}

var _ RootTracker = (*MemRootTracker)(nil)

// MemRequestTracker is an in-memory RequestTracker.
type MemRequestTracker struct {
	mu       sync.RWMutex
	requests map[string]*model.AnalysisRequest
}

func NewMemRequestTracker() *MemRequestTracker {
	return &MemRequestTracker{requests: make(map[string]*model.AnalysisRequest)}
}

func (t *MemRequestTracker) Put(_ context.Context, req *model.AnalysisRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[req.ID] = req.Clone()
	return nil
}

func (t *MemRequestTracker) Get(_ context.Context, id string) (*model.AnalysisRequest, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	req, ok := t.requests[id]
	if !ok {
		return nil, false, nil
	}
	return req.Clone(), true, nil
}

func (t *MemRequestTracker) Delete(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.requests, id)
	return nil
}

func (t *MemRequestTracker) List(_ context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.requests))
	for id := range t.requests {
		out = append(out, id)
	}
	return out, nil
}

var _ RequestTracker = (*MemRequestTracker)(nil)

// MemModuleTypeTracker is an in-memory ModuleTypeTracker.
type MemModuleTypeTracker struct {
	mu   sync.RWMutex
	amts map[string]*model.AnalysisModuleType
}

func NewMemModuleTypeTracker() *MemModuleTypeTracker {
	return &MemModuleTypeTracker{amts: make(map[string]*model.AnalysisModuleType)}
}

func (t *MemModuleTypeTracker) Put(_ context.Context, amt *model.AnalysisModuleType) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.amts[amt.Name] = amt.Clone()
	return nil
}

func (t *MemModuleTypeTracker) Get(_ context.Context, name string) (*model.AnalysisModuleType, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	amt, ok := t.amts[name]
	if !ok {
		return nil, false, nil
	}
	return amt.Clone(), true, nil
}

func (t *MemModuleTypeTracker) Delete(_ context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.amts, name)
	return nil
}

func (t *MemModuleTypeTracker) List(_ context.Context) ([]*model.AnalysisModuleType, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*model.AnalysisModuleType, 0, len(t.amts))
	for _, amt := range t.amts {
		out = append(out, amt.Clone())
	}
	return out, nil
}

var _ ModuleTypeTracker = (*MemModuleTypeTracker)(nil)

// MemAlertTracker is an in-memory AlertTracker.
type MemAlertTracker struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
}

func NewMemAlertTracker() *MemAlertTracker {
	return &MemAlertTracker{alerts: make(map[string]*Alert)}
}

func cloneAlert(a *Alert) *Alert {
	if a == nil {
		return nil
	}
	out := &Alert{RootUUID: a.RootUUID, AlertedAt: a.AlertedAt}
	out.Detections = append([]model.DetectionPoint(nil), a.Detections...)
	return out
}

func (t *MemAlertTracker) Put(_ context.Context, alert *Alert) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alerts[alert.RootUUID] = cloneAlert(alert)
	return nil
}

func (t *MemAlertTracker) Get(_ context.Context, rootUUID string) (*Alert, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.alerts[rootUUID]
	if !ok {
		return nil, false, nil
	}
	return cloneAlert(a), true, nil
}

func (t *MemAlertTracker) Delete(_ context.Context, rootUUID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.alerts, rootUUID)
	return nil
}

func (t *MemAlertTracker) List(_ context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.alerts))
	for uuid := range t.alerts {
		out = append(out, uuid)
	}
	return out, nil
}

var _ AlertTracker = (*MemAlertTracker)(nil)
