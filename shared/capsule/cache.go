package capsule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

func packKey(threadID, batchID string) string {
	return "factPack:" + threadID + ":" + batchID
}

func latestKey(threadID string) string {
	return "factPack:" + threadID + ":latest"
}

// latestRef points the injector at the newest capsule for a thread without
// requiring key scans.
type latestRef struct {
	BatchID     string    `msgpack:"b"`
	PublishedAt time.Time `msgpack:"t"`
}

// Cache stores capsules in Redis, msgpack-encoded, under TTLs derived from
// the capsule's class.
type Cache struct {
	rdb *redis.Client
}

func NewCache(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &Cache{rdb: redis.NewClient(opts)}, nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Publish writes the capsule body and moves the thread's latest pointer to
// it. The pointer shares the capsule's TTL.
func (c *Cache) Publish(ctx context.Context, fact *Capsule) error {
	if fact.PublishedAt.IsZero() {
		fact.PublishedAt = time.Now()
	}
	body, err := msgpack.Marshal(fact)
	if err != nil {
		return fmt.Errorf("encode capsule: %w", err)
	}
	ttl := fact.TTL()
	if err := c.rdb.Set(ctx, packKey(fact.ThreadID, fact.BatchID), body, ttl).Err(); err != nil {
		return fmt.Errorf("publish capsule: %w", err)
	}

	ref, err := msgpack.Marshal(latestRef{BatchID: fact.BatchID, PublishedAt: fact.PublishedAt})
	if err != nil {
		return fmt.Errorf("encode capsule ref: %w", err)
	}
	if err := c.rdb.Set(ctx, latestKey(fact.ThreadID), ref, ttl).Err(); err != nil {
		return fmt.Errorf("publish capsule ref: %w", err)
	}
	return nil
}

// Get fetches one capsule by exact key. A miss returns (nil, nil).
func (c *Cache) Get(ctx context.Context, threadID, batchID string) (*Capsule, error) {
	body, err := c.rdb.Get(ctx, packKey(threadID, batchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get capsule: %w", err)
	}
	var fact Capsule
	if err := msgpack.Unmarshal(body, &fact); err != nil {
		return nil, fmt.Errorf("decode capsule: %w", err)
	}
	return &fact, nil
}

// Latest returns the newest capsule for the thread if it was published at or
// after since. A missing or stale pointer returns (nil, nil).
func (c *Cache) Latest(ctx context.Context, threadID string, since time.Time) (*Capsule, error) {
	raw, err := c.rdb.Get(ctx, latestKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get capsule ref: %w", err)
	}
	var ref latestRef
	if err := msgpack.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("decode capsule ref: %w", err)
	}
	if ref.PublishedAt.Before(since) {
		return nil, nil
	}
	return c.Get(ctx, threadID, ref.BatchID)
}

// Consume drops the latest pointer so a capsule is injected at most once.
// The capsule body stays until its TTL expires.
func (c *Cache) Consume(ctx context.Context, threadID string) error {
	if err := c.rdb.Del(ctx, latestKey(threadID)).Err(); err != nil {
		return fmt.Errorf("consume capsule ref: %w", err)
	}
	return nil
}
