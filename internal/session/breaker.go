package session

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/oncorisk-engine/internal/domain"
)

// BreakerStore wraps a SessionStore in a circuit breaker so a failing
// backend degrades to fast errors instead of piled-up timeouts. Domain
// outcomes (not found, version conflict, expiry) count as successes:
// only infrastructure failures should trip the breaker.
type BreakerStore struct {
	inner   domain.SessionStore
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewBreakerStore wraps inner with a circuit breaker tuned from the
// store configuration.
func NewBreakerStore(inner domain.SessionStore, cfg *domain.StoreConfig, logger *logrus.Logger) *BreakerStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "session-store",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isDomainOutcome(err)
		},
	})
	return &BreakerStore{inner: inner, breaker: breaker, logger: logger}
}

func isDomainOutcome(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound) ||
		errors.Is(err, domain.ErrVersionConflict) ||
		errors.Is(err, domain.ErrSessionExpired)
}

// Get implements SessionStore.
func (s *BreakerStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.inner.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.Session), nil
}

// Create implements SessionStore.
func (s *BreakerStore) Create(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.inner.Create(ctx, sess, ttl)
	})
	return err
}

// Put implements SessionStore.
func (s *BreakerStore) Put(ctx context.Context, sess *domain.Session, expectedVersion int64, ttl time.Duration) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.inner.Put(ctx, sess, expectedVersion, ttl)
	})
	return err
}

// Close closes the wrapped store directly; the breaker does not gate
// shutdown.
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}
