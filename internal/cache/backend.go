package cache

import (
	"context"
	"log"
	"time"
)

// Backend is the uniform contract over the shared key-value store. Two real
// implementations exist (Redis over TCP, a hosted REST equivalent) plus a
// no-op used when neither is configured. Selection happens exactly once at
// startup via NewBackend.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	MGet(ctx context.Context, keys ...string) ([]*string, error)
	MSet(ctx context.Context, pairs map[string]string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
	Name() string
}

// ErrNil is returned by backends when a key does not exist.
var ErrNil = errNil{}

type errNil struct{}

func (errNil) Error() string { return "cache: key does not exist" }

// BackendConfig selects and configures the backend.
type BackendConfig struct {
	RedisURL  string
	RESTURL   string
	RESTToken string
}

// NewBackend picks a backend from configuration: REST url+token wins, then
// the Redis URL, then the no-op degraded mode. The choice is never
// re-evaluated after startup.
func NewBackend(cfg BackendConfig) (Backend, error) {
	if cfg.RESTURL != "" && cfg.RESTToken != "" {
		backend := newRESTBackend(cfg.RESTURL, cfg.RESTToken)
		log.Printf("✅ [CACHE] Using REST cache backend: %s", cfg.RESTURL)
		return backend, nil
	}

	if cfg.RedisURL != "" {
		backend, err := newRedisBackend(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Println("✅ [CACHE] Using Redis cache backend")
		return backend, nil
	}

	log.Println("⚠️  [CACHE] No cache backend configured, caching disabled")
	return noopBackend{}, nil
}

// noopBackend is the degraded mode: every operation is a safe no-op so the
// rest of the application behaves as if every lookup missed.
type noopBackend struct{}

func (noopBackend) Get(ctx context.Context, key string) (string, error) { return "", ErrNil }
func (noopBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (noopBackend) Del(ctx context.Context, keys ...string) (int64, error) { return 0, nil }
func (noopBackend) Exists(ctx context.Context, key string) (bool, error)   { return false, nil }
func (noopBackend) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	return make([]*string, len(keys)), nil
}
func (noopBackend) MSet(ctx context.Context, pairs map[string]string) error { return nil }
func (noopBackend) Incr(ctx context.Context, key string) (int64, error)     { return 0, nil }
func (noopBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}
func (noopBackend) Ping(ctx context.Context) error { return nil }
func (noopBackend) Close() error                   { return nil }
func (noopBackend) Name() string                   { return "noop" }
