package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oncorisk-engine/internal/domain"
)

const redisKeyPrefix = "oncorisk:session:"

// casScript performs the conditional put server-side so the
// compare-and-swap is atomic under concurrent writers. It returns 0 on
// success, -1 when the key is missing, and the stored version on a
// version mismatch.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return -1
end
local stored = cjson.decode(cur)['version']
if stored ~= tonumber(ARGV[2]) then
  return stored
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 0
`)

// RedisStore persists sessions as JSON values with a per-key TTL that
// implements the inactivity window at the storage level.
type RedisStore struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *domain.StoreConfig, logger *logrus.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.PoolTimeout = cfg.PoolTimeout
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, logger: logger}, nil
}

// Get returns the stored session.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Create stores a new session, failing if the key already exists.
func (s *RedisStore) Create(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}

	ok, err := s.client.SetNX(ctx, redisKeyPrefix+sess.ID, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", sess.ID, err)
	}
	if !ok {
		return &domain.VersionConflictError{SessionID: sess.ID, Expected: 0, Actual: sess.Version}
	}
	return nil
}

// Put conditionally replaces the session via the Lua compare-and-swap.
func (s *RedisStore) Put(ctx context.Context, sess *domain.Session, expectedVersion int64, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}

	res, err := casScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + sess.ID},
		data, expectedVersion, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to put session %s: %w", sess.ID, err)
	}

	switch res {
	case 0:
		return nil
	case -1:
		return domain.ErrSessionNotFound
	default:
		return &domain.VersionConflictError{
			SessionID: sess.ID,
			Expected:  expectedVersion,
			Actual:    res,
		}
	}
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
