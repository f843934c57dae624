package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements the Store contract on Redis. Entries are stored as
// JSON values under their deterministic key string, so listing and walking
// are SCAN operations over the key prefix.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Get retrieves an entry by key.
// Returns ErrCacheMiss if the key doesn't exist.
func (s *RedisStore) Get(ctx context.Context, key Key) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues("redis").Inc()
	return &entry, nil
}

// Put stores an entry, replacing any previous entry for the key. Redis SET
// is atomic, so readers see either the old or the new value.
func (s *RedisStore) Put(ctx context.Context, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, entry.Key().String(), data, 0).Err(); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// ListIDs returns the cached resource ids for a resource type in ascending
// order. athleteID 0 lists ids across all athletes.
func (s *RedisStore) ListIDs(ctx context.Context, resource ResourceType, athleteID int64) ([]int64, error) {
	if !resource.Valid() {
		return nil, fmt.Errorf("invalid resource type %q", resource)
	}

	athlete := "*"
	if athleteID > 0 {
		athlete = strconv.FormatInt(athleteID, 10)
	}
	pattern := fmt.Sprintf("paceprint:%s:%s:*", resource, athlete)

	var ids []int64
	iter := s.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// Key format: paceprint:<resource>:<athlete>:<id>
		var id int64
		if _, err := fmt.Sscanf(key[lastColon(key)+1:], "%d", &id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// DeleteAll removes every entry and returns the number deleted.
func (s *RedisStore) DeleteAll(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx, "paceprint:*")
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := s.redis.Del(ctx, keys...).Result()
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return int(deleted), fmt.Errorf("redis del: %w", err)
	}

	CacheDeletes.WithLabelValues("all").Add(float64(deleted))
	return int(deleted), nil
}

// DeleteOlderThan removes entries fetched more than days ago and returns
// the number deleted.
func (s *RedisStore) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	if days < 1 {
		return 0, fmt.Errorf("days must be >= 1 (got %d)", days)
	}

	deleted := 0
	err := s.Walk(ctx, func(entry *Entry) error {
		if !entry.OlderThan(days) {
			return nil
		}
		if err := s.redis.Del(ctx, entry.Key().String()).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		deleted++
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return deleted, err
	}

	CacheDeletes.WithLabelValues("age").Add(float64(deleted))
	return deleted, nil
}

// Walk calls fn for every stored entry. Entries deleted between SCAN and
// GET are skipped.
func (s *RedisStore) Walk(ctx context.Context, fn func(*Entry) error) error {
	keys, err := s.scanKeys(ctx, "paceprint:*")
	if err != nil {
		return err
	}

	for _, key := range keys {
		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return fmt.Errorf("redis get: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
		if err := fn(&entry); err != nil {
			return err
		}
	}

	return nil
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
