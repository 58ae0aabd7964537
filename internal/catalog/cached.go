package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/cozygen/internal/choices"
)

// DefaultTTL is how long a cached option list stays valid.
const DefaultTTL = 5 * time.Minute

// KeyPrefix namespaces cached lists in Redis.
const KeyPrefix = "cozygen:choices:"

// Cached serves option lists from Redis, filling misses from an upstream
// catalog. Redis failures are logged and fall through to upstream so a
// cache outage never blocks resolution.
type Cached struct {
	client   redis.UniversalClient
	upstream choices.Catalog
	ttl      time.Duration
	logger   *slog.Logger
}

var _ choices.Catalog = (*Cached)(nil)

// CachedOption configures a Cached catalog.
type CachedOption func(*Cached)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) CachedOption {
	return func(c *Cached) { c.ttl = ttl }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) CachedOption {
	return func(c *Cached) { c.logger = l }
}

// NewCached wraps upstream with a Redis cache.
func NewCached(client redis.UniversalClient, upstream choices.Catalog, opts ...CachedOption) *Cached {
	c := &Cached{
		client:   client,
		upstream: upstream,
		ttl:      DefaultTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial parses a redis:// URL and verifies the server answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Choices returns the cached list for category or fetches and stores it.
func (c *Cached) Choices(ctx context.Context, category string) ([]string, error) {
	key := KeyPrefix + category

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var list []string
		if jerr := json.Unmarshal(data, &list); jerr == nil {
			return list, nil
		}
		c.logger.Warn("discarding corrupt cached choices", "category", category)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("choice cache unavailable", "category", category, "error", err)
	}

	list, err := c.upstream.Choices(ctx, category)
	if err != nil {
		return nil, err
	}
	list = choices.Clean(list)

	payload, err := json.Marshal(list)
	if err != nil {
		return list, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Debug("choice cache write failed", "category", category, "error", err)
	}
	return list, nil
}

// Invalidate drops the cached lists for categories.
func (c *Cached) Invalidate(ctx context.Context, categories ...string) error {
	if len(categories) == 0 {
		return nil
	}
	keys := make([]string, len(categories))
	for i, cat := range categories {
		keys[i] = KeyPrefix + cat
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate choices: %w", err)
	}
	return nil
}
