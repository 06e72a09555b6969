package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
	"github.com/vmihailenco/msgpack/v5"
)

// envelope is the msgpack value stored per cached response.
type envelope struct {
	URL       string `msgpack:"u"`
	Body      []byte `msgpack:"b"`
	FetchedAt int64  `msgpack:"t"`
}

// RedisStore is the shared cache tier.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

// Get returns the cached body for rawURL. A missing key is (nil, false, nil).
func (s *RedisStore) Get(ctx context.Context, key, rawURL string) ([]byte, bool, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %q: %w", key, err)
	}
	if env.URL != rawURL {
		return nil, false, nil
	}
	return env.Body, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, rawURL string, body []byte, ttl time.Duration) error {
	raw, err := msgpack.Marshal(envelope{URL: rawURL, Body: body, FetchedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
