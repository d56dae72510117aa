package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanCount is the SCAN batch size used when listing presence keys
const scanCount = 100

// RedisStore shares presence records through a Redis server reachable by
// every workstation in the fleet. Records are written with the fleet TTL
// as their expiry, so stale instances disappear without sweeping.
type RedisStore struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and returns a presence store namespaced
// under keyPrefix. Records published through it expire after ttl.
func NewRedisStore(opts *redis.Options, keyPrefix string, ttl time.Duration) (*RedisStore, error) {
	if keyPrefix == "" {
		return nil, fmt.Errorf("key prefix must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("presence ttl must be positive")
	}

	return &RedisStore{
		rdb:       redis.NewClient(opts),
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}, nil
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Publish writes the record with the store's TTL as its expiry. Heartbeat
// republication resets the expiry, so a live instance never lapses.
func (s *RedisStore) Publish(ctx context.Context, rec *Record) error {
	if rec == nil || rec.InstanceID == "" {
		return fmt.Errorf("presence record must carry an instance id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	key := s.recordKey(rec.InstanceID)
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish presence record: %w", err)
	}

	return nil
}

// List scans the presence namespace and returns every unexpired record.
// Keys that vanish or fail to parse between scan and read are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	var records []*Record

	iter := s.rdb.Scan(ctx, 0, s.keyPrefix+":presence:*", scanCount).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to read presence record: %w", err)
		}

		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil || rec.InstanceID == "" {
			continue
		}
		records = append(records, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan presence records: %w", err)
	}

	return records, nil
}

// Remove deletes the record for an instance.
func (s *RedisStore) Remove(ctx context.Context, instanceID string) error {
	if err := s.rdb.Del(ctx, s.recordKey(instanceID)).Err(); err != nil {
		return fmt.Errorf("failed to remove presence record: %w", err)
	}
	return nil
}

// Prune is a no-op: Redis expires presence keys server-side at the TTL
// set on publish.
func (s *RedisStore) Prune(ctx context.Context, ttl time.Duration) ([]string, error) {
	return nil, nil
}

// Close closes the Redis connection. After calling Close the store must
// not be used.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) recordKey(instanceID string) string {
	return fmt.Sprintf("%s:presence:%s", s.keyPrefix, sanitizeIDComponent(instanceID))
}
