package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
)

// Client is the fail-open facade every caller goes through. A cache failure
// must never fail the request it is accelerating, so methods swallow backend
// errors, log them at warn level, and report a miss or a false result
// instead. Callers branch on the returned ok flags, never on errors.
type Client struct {
	backend Backend
	metrics HitRecorder
}

// HitRecorder receives hit/miss observations per cache tier. Nil-safe via
// the client's guards so tests can construct a Client without metrics.
type HitRecorder interface {
	RecordHit(tier string)
	RecordMiss(tier string)
}

// NewClient wraps a backend in the fail-open facade.
func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// SetMetrics attaches a hit/miss recorder. Call once at startup.
func (c *Client) SetMetrics(m HitRecorder) {
	c.metrics = m
}

// Backend exposes the underlying backend, for health checks.
func (c *Client) Backend() Backend {
	return c.backend
}

// Get returns the value and true on a hit. Backend errors and missing keys
// both read as misses.
func (c *Client) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNil) {
			log.Printf("⚠️  [CACHE] Get %s failed: %v", key, err)
		}
		c.recordMiss()
		return "", false
	}
	c.recordHit()
	return val, true
}

// Set stores a value with a TTL, reporting success.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		log.Printf("⚠️  [CACHE] Set %s failed: %v", key, err)
		return false
	}
	return true
}

// Del removes keys, returning how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) int64 {
	n, err := c.backend.Del(ctx, keys...)
	if err != nil {
		log.Printf("⚠️  [CACHE] Del failed: %v", err)
		return 0
	}
	return n
}

// Exists reports whether a key is present.
func (c *Client) Exists(ctx context.Context, key string) bool {
	ok, err := c.backend.Exists(ctx, key)
	if err != nil {
		log.Printf("⚠️  [CACHE] Exists %s failed: %v", key, err)
		return false
	}
	return ok
}

// MGet fetches several keys at once; missing entries come back nil.
func (c *Client) MGet(ctx context.Context, keys ...string) []*string {
	values, err := c.backend.MGet(ctx, keys...)
	if err != nil {
		log.Printf("⚠️  [CACHE] MGet failed: %v", err)
		return make([]*string, len(keys))
	}
	return values
}

// MSet stores several pairs without TTLs.
func (c *Client) MSet(ctx context.Context, pairs map[string]string) bool {
	if err := c.backend.MSet(ctx, pairs); err != nil {
		log.Printf("⚠️  [CACHE] MSet failed: %v", err)
		return false
	}
	return true
}

// Incr increments a counter key.
func (c *Client) Incr(ctx context.Context, key string) (int64, bool) {
	n, err := c.backend.Incr(ctx, key)
	if err != nil {
		log.Printf("⚠️  [CACHE] Incr %s failed: %v", key, err)
		return 0, false
	}
	return n, true
}

// Expire sets a TTL on an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	if err := c.backend.Expire(ctx, key, ttl); err != nil {
		log.Printf("⚠️  [CACHE] Expire %s failed: %v", key, err)
		return false
	}
	return true
}

// GetJSON reads a key and unmarshals it into v. A corrupted payload is
// deleted and treated as a miss rather than surfacing the parse error.
func (c *Client) GetJSON(ctx context.Context, key string, v interface{}) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Printf("⚠️  [CACHE] Corrupted entry %s, dropping: %v", key, err)
		c.Del(ctx, key)
		c.recordMiss()
		return false
	}
	return true
}

// SetJSON marshals v and stores it under key.
func (c *Client) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("⚠️  [CACHE] Failed to encode value for %s: %v", key, err)
		return false
	}
	return c.Set(ctx, key, string(data), ttl)
}

// Ping checks backend health.
func (c *Client) Ping(ctx context.Context) error {
	return c.backend.Ping(ctx)
}

// Close releases backend resources.
func (c *Client) Close() error {
	return c.backend.Close()
}

func (c *Client) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordHit("kv")
	}
}

func (c *Client) recordMiss() {
	if c.metrics != nil {
		c.metrics.RecordMiss("kv")
	}
}
