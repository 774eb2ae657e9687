package domain

import (
	"context"
	"time"
)

// LockManager provides distributed, TTL-bounded mutual exclusion. The
// sequencer holds a lock for the full duration of an operation so the
// per-resource serialization invariant survives multiple agent processes.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld if the
	// lock is already taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// VaultCache caches backend vault positions briefly so the balance poll does
// not hammer the backend. Entries must be invalidated after any confirmed
// deposit, withdraw, or lock.
type VaultCache interface {
	Get(ctx context.Context, user, chain, token string) (*VaultPosition, error)
	Set(ctx context.Context, user string, pos VaultPosition) error
	Invalidate(ctx context.Context, user, chain, token string) error
}

// SignalBus is a pub/sub fabric for UI-facing events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads that closes when ctx is
	// cancelled. The channel argument may contain a trailing * pattern.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
