package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mdview/internal/resource"
)

const (
	redisPrefix   = "mdview:cache:"
	redisNamesKey = "mdview:caches"
)

// RedisStore keeps each entry as a JSON record under
// mdview:cache:<name>:<key>.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(rawURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opt)), nil
}

func (s *RedisStore) Open(ctx context.Context, name string) (Handle, error) {
	if err := s.rdb.SAdd(ctx, redisNamesKey, name).Err(); err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return &redisHandle{store: s, name: name, prefix: redisPrefix + name + ":"}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

type redisHandle struct {
	store  *RedisStore
	name   string
	prefix string
}

func (h *redisHandle) Name() string { return h.name }

func (h *redisHandle) Match(ctx context.Context, key string) (*resource.Response, bool, error) {
	raw, err := h.store.rdb.Get(ctx, h.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache match %s: %w", key, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return rec.response(), true, nil
}

func (h *redisHandle) Put(ctx context.Context, key string, resp *resource.Response) error {
	raw, err := encodeRecord(resp, h.store.now())
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := h.store.rdb.Set(ctx, h.prefix+key, raw, 0).Err(); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

func (h *redisHandle) Delete(ctx context.Context, key string) (bool, error) {
	n, err := h.store.rdb.Del(ctx, h.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("cache delete %s: %w", key, err)
	}
	return n > 0, nil
}

func (h *redisHandle) Sweep(ctx context.Context, policy EvictionPolicy, now time.Time) (int64, error) {
	var removed int64
	iter := h.store.rdb.Scan(ctx, 0, escapeGlob(h.prefix)+"*", 200).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		raw, err := h.store.rdb.Get(ctx, redisKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("cache sweep get: %w", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			continue
		}
		info := EntryInfo{
			Key:      strings.TrimPrefix(redisKey, h.prefix),
			StoredAt: rec.StoredAt,
			Size:     len(rec.Body),
		}
		if !policy.Evict(info, now) {
			continue
		}
		n, err := h.store.rdb.Del(ctx, redisKey).Result()
		if err != nil {
			return removed, fmt.Errorf("cache sweep delete: %w", err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache sweep scan: %w", err)
	}
	return removed, nil
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
