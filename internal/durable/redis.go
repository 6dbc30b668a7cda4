package durable

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-redis/redis"

	"skein-go/internal/skein"
)

// RedisStore keeps entries as plain Redis strings, one key per entry, each
// key prefixed so several users can share a database. Entries are stored
// without a Redis TTL; expiry is decided by the cache layer.
type RedisStore struct {
	name   string
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(name string, client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{name: name, client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) Name() string { return s.name }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.WithContext(ctx).Get(s.prefix + key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.WithContext(ctx).Set(s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.WithContext(ctx).Del(s.prefix + key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Keys walks the prefix with SCAN, so it never blocks the server the way
// KEYS would.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	client := s.client.WithContext(ctx)
	seen := make(map[string]bool)
	var cursor uint64
	for {
		batch, next, err := client.Scan(cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range batch {
			seen[k[len(s.prefix):]] = true
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Usage sums key lengths and STRLEN of every value under the prefix.
func (s *RedisStore) Usage(ctx context.Context) (int64, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	client := s.client.WithContext(ctx)
	var total int64
	for _, key := range keys {
		n, err := client.StrLen(s.prefix + key).Result()
		if err != nil {
			return 0, fmt.Errorf("redis strlen %s: %w", key, err)
		}
		total += int64(len(key)) + n
	}
	return total, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Compile-time check that RedisStore implements skein.DurableStore.
var _ skein.DurableStore = (*RedisStore)(nil)
