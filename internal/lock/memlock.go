package lock

import (
	"context"
	"sync"
	"time"

	"github.com/ace-core/ace/internal/aceerr"
)

type lockEntry struct {
	owner      string
	expiresUTC time.Time
}

// MemLocker is an in-memory Locker, adapted from the teacher's
// sync.Mutex-guarded in-process store pattern. It keeps a wait-for graph
// of (waiting owner -> held-by owner) edges so it can refuse an
// acquisition that would complete a cycle instead of deadlocking forever.
type MemLocker struct {
	mu      sync.Mutex
	locks   map[string]*lockEntry
	waitFor map[string]string // owner -> owner it is currently waiting for
}

// NewMemLocker returns an empty in-memory locker.
func NewMemLocker() *MemLocker {
	return &MemLocker{
		locks:   make(map[string]*lockEntry),
		waitFor: make(map[string]string),
	}
}

const pollInterval = 5 * time.Millisecond

func (l *MemLocker) Acquire(ctx context.Context, name, owner string, leaseSec, waitSec int) (bool, error) {
	deadline := time.Now().Add(time.Duration(waitSec) * time.Second)

	for {
		ok, deadlocked := l.tryAcquireOnce(name, owner, leaseSec)
		if ok {
			return true, nil
		}
		if deadlocked {
			return false, aceerr.Deadlock(name)
		}

		if time.Now().After(deadline) {
			l.clearWait(owner)
			return false, nil
		}
		select {
		case <-ctx.Done():
			l.clearWait(owner)
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// tryAcquireOnce attempts one non-blocking acquisition. It returns
// (true, false) on success, (false, true) if taking name would complete a
// wait-for cycle, and (false, false) if name is simply held by someone
// else right now.
func (l *MemLocker) tryAcquireOnce(name, owner string, leaseSec int) (acquired, deadlocked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reapExpiredLocked()

	entry, held := l.locks[name]
	if !held || entry.owner == owner {
		l.locks[name] = &lockEntry{owner: owner, expiresUTC: time.Now().Add(time.Duration(leaseSec) * time.Second)}
		delete(l.waitFor, owner)
		return true, false
	}

	if l.createsCycleLocked(owner, entry.owner) {
		delete(l.waitFor, owner)
		return false, true
	}

	l.waitFor[owner] = entry.owner
	return false, false
}

// createsCycleLocked reports whether owner waiting on target would close a
// wait-for cycle, i.e. whether target is already (transitively) waiting on
// owner. Caller holds l.mu.
func (l *MemLocker) createsCycleLocked(owner, target string) bool {
	seen := map[string]bool{owner: true}
	cur := target
	for {
		if cur == owner {
			return true
		}
		if seen[cur] {
			return false // cycle not involving owner; not our concern here
		}
		seen[cur] = true
		next, waiting := l.waitFor[cur]
		if !waiting {
			return false
		}
		cur = next
	}
}

func (l *MemLocker) clearWait(owner string) {
	l.mu.Lock()
	delete(l.waitFor, owner)
	l.mu.Unlock()
}

func (l *MemLocker) Release(name, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.locks[name]; ok && entry.owner == owner {
		delete(l.locks, name)
	}
	return nil
}

func (l *MemLocker) Renew(name, owner string, leaseSec int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[name]
	if !ok || entry.owner != owner {
		return aceerr.Conflict("lock " + name + " is not held by " + owner)
	}
	entry.expiresUTC = time.Now().Add(time.Duration(leaseSec) * time.Second)
	return nil
}

func (l *MemLocker) Holder(name string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reapExpiredLocked()
	entry, ok := l.locks[name]
	if !ok {
		return "", false
	}
	return entry.owner, true
}

// reapExpiredLocked drops every lock past its lease expiry. Caller holds
// l.mu.
func (l *MemLocker) reapExpiredLocked() {
	now := time.Now()
	for name, entry := range l.locks {
		if now.After(entry.expiresUTC) {
			delete(l.locks, name)
		}
	}
}

var _ Locker = (*MemLocker)(nil)
