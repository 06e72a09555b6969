// Package fetch retrieves remote documents for the resource loaders, with an
// in-process LRU and an optional shared Redis tier in front of HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrTooLarge is returned when a response exceeds Options.MaxBytes.
var ErrTooLarge = errors.New("response too large")

// CacheObserver counts cache lookups per tier ("lru", "redis").
type CacheObserver interface {
	CacheHit(tier string)
	CacheMiss(tier string)
}

type nopCacheObserver struct{}

func (nopCacheObserver) CacheHit(string)  {}
func (nopCacheObserver) CacheMiss(string) {}

// Options configures a Fetcher. Zero values fall back to defaults.
type Options struct {
	// Client defaults to NewOutbound(0).
	Client *http.Client
	// LRUSize is the in-process cache capacity; 0 disables it.
	LRUSize int
	// TTL bounds the age of cached bodies in both tiers; 0 keeps them until
	// evicted.
	TTL time.Duration
	// MaxBytes rejects larger responses with ErrTooLarge; 0 means no limit.
	MaxBytes int64
	// Redis is optional; nil disables the shared tier.
	Redis *RedisStore
	// OpTimeout bounds each Redis call, 250ms by default.
	OpTimeout time.Duration
	Observer  CacheObserver
	Logger    *slog.Logger
}

type cached struct {
	url     string
	body    []byte
	expires time.Time
}

// Fetcher implements service.Fetcher. It is safe for concurrent use.
type Fetcher struct {
	opts Options
	lru  *lru.Cache[uint64, cached]
}

// New returns a Fetcher configured by opts.
func New(opts Options) *Fetcher {
	if opts.Client == nil {
		opts.Client = NewOutbound(0)
	}
	if opts.Observer == nil {
		opts.Observer = nopCacheObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 250 * time.Millisecond
	}
	f := &Fetcher{opts: opts}
	if opts.LRUSize > 0 {
		f.lru, _ = lru.New[uint64, cached](opts.LRUSize)
	}
	return f
}

// Key is the cache key of a URL.
func Key(rawURL string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(rawURL))
}

// Fetch returns the body of rawURL, trying the LRU, then Redis, then HTTP.
// Bodies fetched over HTTP are written back to both tiers. A non-2xx status
// is an error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if body, ok := f.fromLRU(rawURL); ok {
		return body, nil
	}
	if body, ok := f.fromRedis(ctx, rawURL); ok {
		f.toLRU(rawURL, body)
		return body, nil
	}

	body, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	f.toLRU(rawURL, body)
	f.toRedis(ctx, rawURL, body)
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch %s: upstream status %d", rawURL, resp.StatusCode)
	}

	r := io.Reader(resp.Body)
	if f.opts.MaxBytes > 0 {
		r = io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if f.opts.MaxBytes > 0 && int64(len(body)) > f.opts.MaxBytes {
		return nil, fmt.Errorf("fetch %s: %w (limit %d bytes)", rawURL, ErrTooLarge, f.opts.MaxBytes)
	}
	return body, nil
}

func (f *Fetcher) fromLRU(rawURL string) ([]byte, bool) {
	if f.lru == nil {
		return nil, false
	}
	k := xxhash.Sum64String(rawURL)
	c, ok := f.lru.Get(k)
	if ok && c.url == rawURL && (c.expires.IsZero() || time.Now().Before(c.expires)) {
		f.opts.Observer.CacheHit("lru")
		return c.body, true
	}
	if ok {
		f.lru.Remove(k)
	}
	f.opts.Observer.CacheMiss("lru")
	return nil, false
}

func (f *Fetcher) toLRU(rawURL string, body []byte) {
	if f.lru == nil {
		return
	}
	c := cached{url: rawURL, body: body}
	if f.opts.TTL > 0 {
		c.expires = time.Now().Add(f.opts.TTL)
	}
	f.lru.Add(xxhash.Sum64String(rawURL), c)
}

func (f *Fetcher) fromRedis(ctx context.Context, rawURL string) ([]byte, bool) {
	if f.opts.Redis == nil {
		return nil, false
	}
	opCtx, cancel := context.WithTimeout(ctx, f.opts.OpTimeout)
	defer cancel()
	body, ok, err := f.opts.Redis.Get(opCtx, Key(rawURL), rawURL)
	if err != nil {
		f.opts.Logger.Warn("fetch cache read failed", "url", rawURL, "err", err)
	}
	if !ok {
		f.opts.Observer.CacheMiss("redis")
		return nil, false
	}
	f.opts.Observer.CacheHit("redis")
	return body, true
}

func (f *Fetcher) toRedis(ctx context.Context, rawURL string, body []byte) {
	if f.opts.Redis == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.OpTimeout)
	defer cancel()
	if err := f.opts.Redis.Set(opCtx, Key(rawURL), rawURL, body, f.opts.TTL); err != nil {
		f.opts.Logger.Warn("fetch cache write failed", "url", rawURL, "err", err)
	}
}
