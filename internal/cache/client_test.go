package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memBackend is an in-memory Backend with an injectable clock, used by the
// cache package tests.
type memBackend struct {
	mu   sync.Mutex
	data map[string]memEntry
	now  func() time.Time
	fail bool
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

func newMemBackend() *memBackend {
	return &memBackend{
		data: make(map[string]memEntry),
		now:  time.Now,
	}
}

var errBackendDown = errors.New("backend down")

func (m *memBackend) get(key string) (string, bool) {
	entry, ok := m.data[key]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		delete(m.data, key)
		return "", false
	}
	return entry.value, true
}

func (m *memBackend) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", errBackendDown
	}
	val, ok := m.get(key)
	if !ok {
		return "", ErrNil
	}
	return val, nil
}

func (m *memBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errBackendDown
	}
	entry := memEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = entry
	return nil
}

func (m *memBackend) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errBackendDown
	}
	var n int64
	for _, key := range keys {
		if _, ok := m.get(key); ok {
			delete(m.data, key)
			n++
		}
	}
	return n, nil
}

func (m *memBackend) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, errBackendDown
	}
	_, ok := m.get(key)
	return ok, nil
}

func (m *memBackend) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errBackendDown
	}
	values := make([]*string, len(keys))
	for i, key := range keys {
		if val, ok := m.get(key); ok {
			v := val
			values[i] = &v
		}
	}
	return values, nil
}

func (m *memBackend) MSet(ctx context.Context, pairs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errBackendDown
	}
	for k, v := range pairs {
		m.data[k] = memEntry{value: v}
	}
	return nil
}

func (m *memBackend) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errBackendDown
	}
	var n int64
	if val, ok := m.get(key); ok {
		for _, c := range val {
			n = n*10 + int64(c-'0')
		}
	}
	n++
	m.data[key] = memEntry{value: itoa(n)}
	return n, nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (m *memBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errBackendDown
	}
	if entry, ok := m.data[key]; ok {
		entry.expiresAt = m.now().Add(ttl)
		m.data[key] = entry
	}
	return nil
}

func (m *memBackend) Ping(ctx context.Context) error {
	if m.fail {
		return errBackendDown
	}
	return nil
}

func (m *memBackend) Close() error { return nil }
func (m *memBackend) Name() string { return "mem" }

func TestClientRoundTrip(t *testing.T) {
	backend := newMemBackend()
	client := NewClient(backend)
	ctx := context.Background()

	if !client.Set(ctx, "k1", "v1", time.Minute) {
		t.Fatal("Set failed")
	}

	val, ok := client.Get(ctx, "k1")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if val != "v1" {
		t.Errorf("expected %q, got %q", "v1", val)
	}
}

func TestClientTTLExpiry(t *testing.T) {
	backend := newMemBackend()
	current := time.Now()
	backend.now = func() time.Time { return current }

	client := NewClient(backend)
	ctx := context.Background()

	client.Set(ctx, "k1", "v1", 30*time.Second)

	if _, ok := client.Get(ctx, "k1"); !ok {
		t.Fatal("expected hit before expiry")
	}

	current = current.Add(31 * time.Second)

	if _, ok := client.Get(ctx, "k1"); ok {
		t.Error("expected miss after TTL elapsed")
	}
}

func TestClientFailsOpenOnBackendError(t *testing.T) {
	backend := newMemBackend()
	backend.fail = true
	client := NewClient(backend)
	ctx := context.Background()

	// Every operation must degrade to a miss / no-op, never panic or error.
	if _, ok := client.Get(ctx, "k"); ok {
		t.Error("Get should miss when the backend is down")
	}
	if client.Set(ctx, "k", "v", time.Minute) {
		t.Error("Set should report failure when the backend is down")
	}
	if n := client.Del(ctx, "k"); n != 0 {
		t.Errorf("Del should report 0, got %d", n)
	}
	if client.Exists(ctx, "k") {
		t.Error("Exists should report false when the backend is down")
	}
	if _, ok := client.Incr(ctx, "k"); ok {
		t.Error("Incr should report failure when the backend is down")
	}
	values := client.MGet(ctx, "a", "b")
	if len(values) != 2 || values[0] != nil || values[1] != nil {
		t.Error("MGet should return nil placeholders when the backend is down")
	}
}

func TestClientCorruptedJSONDeletesEntry(t *testing.T) {
	backend := newMemBackend()
	client := NewClient(backend)
	ctx := context.Background()

	client.Set(ctx, "k1", "{not valid json", time.Minute)

	var out map[string]string
	if client.GetJSON(ctx, "k1", &out) {
		t.Fatal("expected corrupted entry to read as a miss")
	}

	// The offending key must be gone.
	if client.Exists(ctx, "k1") {
		t.Error("corrupted entry should have been deleted")
	}
}

func TestNoopBackendDegradedMode(t *testing.T) {
	backend, err := NewBackend(BackendConfig{})
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	if backend.Name() != "noop" {
		t.Fatalf("expected noop backend, got %s", backend.Name())
	}

	client := NewClient(backend)
	ctx := context.Background()

	client.Set(ctx, "k", "v", time.Minute)
	if _, ok := client.Get(ctx, "k"); ok {
		t.Error("noop backend must never report a hit")
	}
}

func TestClientMGetMSet(t *testing.T) {
	backend := newMemBackend()
	client := NewClient(backend)
	ctx := context.Background()

	if !client.MSet(ctx, map[string]string{"a": "1", "b": "2"}) {
		t.Fatal("MSet failed")
	}

	values := client.MGet(ctx, "a", "missing", "b")
	if values[0] == nil || *values[0] != "1" {
		t.Errorf("expected a=1, got %v", values[0])
	}
	if values[1] != nil {
		t.Errorf("expected nil for missing key, got %v", *values[1])
	}
	if values[2] == nil || *values[2] != "2" {
		t.Errorf("expected b=2, got %v", values[2])
	}
}

func TestClientIncr(t *testing.T) {
	backend := newMemBackend()
	client := NewClient(backend)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, ok := client.Incr(ctx, "counter")
		if !ok || got != want {
			t.Fatalf("Incr = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
}
