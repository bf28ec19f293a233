package render

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps one rendered view per chapter in Redis. Entries carry the
// fingerprint they were built from; a lookup with a different
// fingerprint is a miss, so stale renders are never served.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewCache(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewCacheWithClient(client, ttl), nil
}

func NewCacheWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, prefix: "render:", ttl: ttl}
}

type cacheEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Rendered    RenderedChapter `json:"rendered"`
}

func (c *Cache) key(chapterID string) string {
	return c.prefix + chapterID
}

// Get, Put and Invalidate tolerate a nil receiver so a disabled cache
// behaves as a permanent miss.
func (c *Cache) Get(ctx context.Context, chapterID, fingerprint string) (RenderedChapter, bool, error) {
	if c == nil {
		return RenderedChapter{}, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(chapterID)).Result()
	if err == redis.Nil {
		return RenderedChapter{}, false, nil
	}
	if err != nil {
		return RenderedChapter{}, false, fmt.Errorf("cache get: %w", err)
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return RenderedChapter{}, false, fmt.Errorf("cache decode: %w", err)
	}
	if entry.Fingerprint != fingerprint {
		return RenderedChapter{}, false, nil
	}
	return entry.Rendered, true, nil
}

func (c *Cache) Put(ctx context.Context, chapterID, fingerprint string, rendered RenderedChapter) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(cacheEntry{Fingerprint: fingerprint, Rendered: rendered})
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(chapterID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Invalidate drops the cached render for the given chapters.
func (c *Cache) Invalidate(ctx context.Context, chapterIDs ...string) error {
	if c == nil || len(chapterIDs) == 0 {
		return nil
	}
	keys := make([]string, len(chapterIDs))
	for i, id := range chapterIDs {
		keys[i] = c.key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
