package domain

import (
	"context"
	"time"
)

// SessionStore is the only suspension point of the engine: a key-value
// store with get, conditional put, and per-key expiry. Implementations
// must return ErrSessionNotFound for missing keys and a
// VersionConflictError when the stored version does not match
// expectedVersion. The engine holds no mutable global state beyond the
// read-only knowledge base, so sessions are fully independent keys.
type SessionStore interface {
	// Get returns a copy of the stored session.
	Get(ctx context.Context, id string) (*Session, error)

	// Create stores a new session with the given time-to-live. Fails if
	// the key already exists.
	Create(ctx context.Context, session *Session, ttl time.Duration) error

	// Put conditionally replaces the stored session: it succeeds only if
	// the stored version equals expectedVersion, refreshing the TTL.
	Put(ctx context.Context, session *Session, expectedVersion int64, ttl time.Duration) error

	// Close releases store resources.
	Close() error
}
