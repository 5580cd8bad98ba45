package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Both keys hash-tag the user id so the scripts stay single-slot under Redis Cluster.
func connectionsKey(userID string) string { return "presence:{" + userID + "}" }
func statusKey(userID string) string      { return "user:status:{" + userID + "}" }

// connectScript: KEYS[1]=connection set, KEYS[2]=status, ARGV[1]=connection id.
// Returns 1 when the set was empty before the add.
var connectScript = redis.NewScript(`
local before = redis.call('SCARD', KEYS[1])
local added = redis.call('SADD', KEYS[1], ARGV[1])
if before == 0 and added == 1 then
  redis.call('SET', KEYS[2], 'online')
  return 1
end
return 0
`)

// disconnectScript: KEYS[1]=connection set, KEYS[2]=status, ARGV[1]=connection id.
// Returns 1 when this removal emptied the set.
var disconnectScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 1 and redis.call('SCARD', KEYS[1]) == 0 then
  redis.call('SET', KEYS[2], 'offline')
  return 1
end
return 0
`)

// RedisStore keeps presence in Redis so every server process shares one view.
//
// RedisStore does not own the client; the caller closes it.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(rdb redis.UniversalClient) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("presence: nil redis client")
	}
	return &RedisStore{rdb: rdb}, nil
}

// AddConnection implements Store.
func (s *RedisStore) AddConnection(ctx context.Context, userID, connID string) (bool, error) {
	n, err := connectScript.Run(ctx, s.rdb, []string{connectionsKey(userID), statusKey(userID)}, connID).Int()
	if err != nil {
		return false, fmt.Errorf("%w: connect: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// RemoveConnection implements Store.
func (s *RedisStore) RemoveConnection(ctx context.Context, userID, connID string) (bool, error) {
	n, err := disconnectScript.Run(ctx, s.rdb, []string{connectionsKey(userID), statusKey(userID)}, connID).Int()
	if err != nil {
		return false, fmt.Errorf("%w: disconnect: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// ConnectionCount implements Store.
func (s *RedisStore) ConnectionCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.rdb.SCard(ctx, connectionsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: scard: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Status implements Store.
func (s *RedisStore) Status(ctx context.Context, userID string) (string, error) {
	v, err := s.rdb.Get(ctx, statusKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: get status: %v", ErrStoreUnavailable, err)
	}
	return v, nil
}

// Ping checks connectivity (used by readiness).
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}
	return nil
}
