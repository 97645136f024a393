// Package lock implements the named-lease locking subsystem (spec §4.5):
// exclusive leases identified by a plain string name, held by an opaque
// owner string, with expiry/renewal and wait-for cycle detection so two
// acquirers racing in opposite orders fail fast with a deadlock signal
// instead of blocking forever.
package lock

import "context"

// Locker is the pluggable contract for the locking subsystem.
type Locker interface {
	// Acquire attempts to take name for owner, holding it for leaseSec.
	// If name is already held by someone else, Acquire blocks (registering
	// a wait-for edge from owner to the holder) until it succeeds, the
	// lease expires, waitSec elapses, or a cycle is detected — whichever
	// comes first. A detected cycle returns false and an aceerr error of
	// kind KindDeadlock (aceerr.Deadlock); the
	// caller is expected to release every lock it holds and retry with
	// backoff.
	Acquire(ctx context.Context, name, owner string, leaseSec, waitSec int) (bool, error)
	// Release drops name if held by owner; a no-op otherwise.
	Release(name, owner string) error
	// Renew extends an already-held lease by leaseSec from now. Fails if
	// owner does not currently hold name.
	Renew(name, owner string, leaseSec int) error
	// Holder returns the current holder of name, if any.
	Holder(name string) (owner string, held bool)
}
