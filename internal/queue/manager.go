package queue

import (
	"sync"
)

// Manager owns one Queue per (AMT name, AMT version) pair and tracks which
// version is current for each name. This is what implements the "a fresh
// queue is bound to the new version identifier, and the old queue is
// marked invalidated" rule from spec §4.3/§4.4: Put only ever targets the
// current version's queue, and QueueForVersion returns nil for any other
// version, so an instance still polling with the old version gets no work
// until it re-registers. Rebind hands the old queue back to its caller.
type Manager struct {
	mu      sync.Mutex
	factory func(amtName, version string) Queue
	current map[string]string         // amtName -> current version
	queues  map[string]map[string]Queue // amtName -> version -> queue
}

// NewManager returns a Manager that creates a fresh queue with factory
// whenever one is needed for a (name, version) pair not seen before.
// factory receives the (amtName, version) pair so backends that need a
// distinct namespace per queue (e.g. RedisQueue's key prefix) can use it;
// factories with no such need (e.g. NewMemQueue) simply ignore it.
func NewManager(factory func(amtName, version string) Queue) *Manager {
	return &Manager{
		factory: factory,
		current: make(map[string]string),
		queues:  make(map[string]map[string]Queue),
	}
}

// Bind returns the current queue for amtName, creating it (and marking
// version current) if this is the first time amtName has been seen.
func (m *Manager) Bind(amtName, version string) Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.current[amtName]; !ok {
		m.current[amtName] = version
	}
	return m.queueLocked(amtName, m.current[amtName])
}

// Rebind marks newVersion as current for amtName and returns the queue that
// was current before the rebind (nil if there was none), so the caller can
// drain or expire it. The new version's queue is created if needed.
func (m *Manager) Rebind(amtName, newVersion string) (old Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prevVersion, ok := m.current[amtName]; ok && prevVersion != newVersion {
		old = m.queueLocked(amtName, prevVersion)
	}
	m.current[amtName] = newVersion
	_ = m.queueLocked(amtName, newVersion)
	return old
}

// Current returns the queue bound to amtName's current version, or nil if
// amtName has never been bound.
func (m *Manager) Current(amtName string) Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	version, ok := m.current[amtName]
	if !ok {
		return nil
	}
	return m.queueLocked(amtName, version)
}

// CurrentVersion returns the version currently bound for amtName.
func (m *Manager) CurrentVersion(amtName string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.current[amtName]
	return v, ok
}

// QueueForVersion returns the queue for (amtName, version) only if version
// is still current; otherwise it returns nil so the caller (module manager
// endpoint) knows to tell the polling instance to re-register.
func (m *Manager) QueueForVersion(amtName, version string) Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current[amtName] != version {
		return nil
	}
	return m.queueLocked(amtName, version)
}

func (m *Manager) queueLocked(amtName, version string) Queue {
	byVersion, ok := m.queues[amtName]
	if !ok {
		byVersion = make(map[string]Queue)
		m.queues[amtName] = byVersion
	}
	q, ok := byVersion[version]
	if !ok {
		q = m.factory(amtName, version)
		byVersion[version] = q
	}
	return q
}
