package session

import (
	"context"
	"sync"
	"time"

	"github.com/oncorisk-engine/internal/domain"
)

type memoryEntry struct {
	session  *domain.Session
	expireAt time.Time
}

// MemoryStore is the in-process SessionStore used for tests and
// single-node deployments. Expiry is enforced lazily on access, which
// matches the store-level TTL semantics of the Redis backend closely
// enough for the engine's logical expiry check to stay authoritative.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a deep copy of the stored session.
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || s.now().After(e.expireAt) {
		delete(s.entries, id)
		return nil, domain.ErrSessionNotFound
	}
	return e.session.Clone(), nil
}

// Create stores a new session. The id must not already exist.
func (s *MemoryStore) Create(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[sess.ID]; ok && !s.now().After(e.expireAt) {
		return &domain.VersionConflictError{SessionID: sess.ID, Expected: 0, Actual: e.session.Version}
	}
	s.entries[sess.ID] = memoryEntry{session: sess.Clone(), expireAt: s.now().Add(ttl)}
	return nil
}

// Put replaces the stored session only when the stored version matches
// expectedVersion, refreshing the TTL.
func (s *MemoryStore) Put(ctx context.Context, sess *domain.Session, expectedVersion int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sess.ID]
	if !ok || s.now().After(e.expireAt) {
		delete(s.entries, sess.ID)
		return domain.ErrSessionNotFound
	}
	if e.session.Version != expectedVersion {
		return &domain.VersionConflictError{
			SessionID: sess.ID,
			Expected:  expectedVersion,
			Actual:    e.session.Version,
		}
	}
	s.entries[sess.ID] = memoryEntry{session: sess.Clone(), expireAt: s.now().Add(ttl)}
	return nil
}

// Close implements SessionStore. The memory store holds no resources.
func (s *MemoryStore) Close() error { return nil }
