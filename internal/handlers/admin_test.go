package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/jobs"
	"leadpulse/internal/services"

	"github.com/gofiber/fiber/v2"
)

// Mock identity middleware for testing.
func mockAuthMiddleware(userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		return c.Next()
	}
}

// stubBackend is a minimal in-memory cache backend for handler tests.
type stubBackend struct {
	data map[string]string
}

func newStubBackend() *stubBackend {
	return &stubBackend{data: map[string]string{}}
}

func (b *stubBackend) Get(ctx context.Context, key string) (string, error) {
	value, ok := b.data[key]
	if !ok {
		return "", cache.ErrNil
	}
	return value, nil
}

func (b *stubBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b.data[key] = value
	return nil
}

func (b *stubBackend) Del(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	for _, key := range keys {
		if _, ok := b.data[key]; ok {
			delete(b.data, key)
			n++
		}
	}
	return n, nil
}

func (b *stubBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := b.data[key]
	return ok, nil
}

func (b *stubBackend) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	out := make([]*string, len(keys))
	for i, key := range keys {
		if value, ok := b.data[key]; ok {
			v := value
			out[i] = &v
		}
	}
	return out, nil
}

func (b *stubBackend) MSet(ctx context.Context, pairs map[string]string) error {
	for key, value := range pairs {
		b.data[key] = value
	}
	return nil
}

func (b *stubBackend) Incr(ctx context.Context, key string) (int64, error) { return 0, nil }
func (b *stubBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}
func (b *stubBackend) Ping(ctx context.Context) error { return nil }
func (b *stubBackend) Close() error                   { return nil }
func (b *stubBackend) Name() string                   { return "stub" }

type noopJob struct{ err error }

func (j noopJob) Run(ctx context.Context) error { return j.err }

func newAdminFixture(t *testing.T) (*fiber.App, *jobs.Scheduler, *cache.Client) {
	t.Helper()

	client := cache.NewClient(newStubBackend())
	tags := cache.NewTagIndex(client)
	scheduler := jobs.NewScheduler(nil)

	handler := NewAdminHandler(scheduler, tags, services.NewProductCacheService(), services.NewTemplateCacheService())

	app := fiber.New()
	app.Use(mockAuthMiddleware("admin-1"))
	app.Get("/api/admin/jobs", handler.JobStatus)
	app.Post("/api/admin/jobs/:name/run", handler.RunJob)
	app.Get("/api/admin/cache/stats", handler.CacheStats)
	app.Post("/api/admin/cache/invalidate/:tag", handler.InvalidateTag)

	return app, scheduler, client
}

func TestAdminJobStatus(t *testing.T) {
	app, scheduler, _ := newAdminFixture(t)
	if err := scheduler.Register("archive", "0 2 * * *", noopJob{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/api/admin/jobs", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Jobs map[string]jobs.JobStatus `json:"jobs"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	status, ok := body.Jobs["archive"]
	if !ok {
		t.Fatalf("archive job missing from %v", body.Jobs)
	}
	if status.Expression != "0 2 * * *" {
		t.Errorf("expression = %q", status.Expression)
	}
}

func TestAdminRunJob(t *testing.T) {
	app, scheduler, _ := newAdminFixture(t)
	if err := scheduler.Register("archive", "0 2 * * *", noopJob{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("POST", "/api/admin/jobs/archive/run", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAdminRunJobUnknown(t *testing.T) {
	app, _, _ := newAdminFixture(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/api/admin/jobs/nope/run", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAdminRunJobFailureSurfaces(t *testing.T) {
	app, scheduler, _ := newAdminFixture(t)
	if err := scheduler.Register("flaky", "0 2 * * *", noopJob{err: errors.New("boom")}); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("POST", "/api/admin/jobs/flaky/run", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestAdminCacheStats(t *testing.T) {
	app, _, _ := newAdminFixture(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/admin/cache/stats", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if _, ok := body["products"]; !ok {
		t.Error("missing products stats")
	}
	if _, ok := body["templates"]; !ok {
		t.Error("missing templates stats")
	}
}

func TestAdminInvalidateTag(t *testing.T) {
	app, _, client := newAdminFixture(t)

	// Seed a tagged response entry the way the response cache does.
	tags := cache.NewTagIndex(client)
	client.Set(context.Background(), "cache:GET:/api/products:{}:anonymous", `{"status":200}`, time.Minute)
	tags.Tag(context.Background(), "cache:GET:/api/products:{}:anonymous", "products")

	resp, err := app.Test(httptest.NewRequest("POST", "/api/admin/cache/invalidate/products", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Tag             string `json:"tag"`
		InvalidatedKeys int    `json:"invalidated_keys"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.InvalidatedKeys != 1 {
		t.Errorf("invalidated = %d, want 1", body.InvalidatedKeys)
	}
	if client.Exists(context.Background(), "cache:GET:/api/products:{}:anonymous") {
		t.Error("tagged entry survived invalidation")
	}
}
