package cache

import (
	"context"
	"log"
	"time"
)

// Tag sets outlive the entries they reference by at most this long. A tag()
// racing an invalidateByTag() can leave a key tracked by no tag; that key
// still expires via its own TTL, so the staleness bound is the entry TTL
// itself, never more than the longest route TTL in use.
const tagSetTTL = 24 * time.Hour

// TagIndex maps logical tags to the set of cache keys written under them,
// enabling bulk invalidation without scanning the keyspace. Tag sets are
// plain JSON string arrays stored in the same cache; read-modify-write with
// last-write-wins is acceptable because sets only grow between
// invalidations.
type TagIndex struct {
	client  *Client
	metrics InvalidationRecorder
}

// InvalidationRecorder counts bulk invalidations for metrics.
type InvalidationRecorder interface {
	RecordInvalidation(tag string, keys int)
}

// NewTagIndex creates a tag index over the shared cache client.
func NewTagIndex(client *Client) *TagIndex {
	return &TagIndex{client: client}
}

// SetMetrics attaches an invalidation recorder. Call once at startup.
func (t *TagIndex) SetMetrics(m InvalidationRecorder) {
	t.metrics = m
}

// Tag appends key to each tag's member set. Best-effort: a failed append
// only means the key cannot be bulk-invalidated and will age out on its own.
func (t *TagIndex) Tag(ctx context.Context, key string, tags ...string) bool {
	ok := true
	for _, tag := range tags {
		var keys []string
		t.client.GetJSON(ctx, TagKey(tag), &keys)
		if contains(keys, key) {
			continue
		}
		keys = append(keys, key)
		if !t.client.SetJSON(ctx, TagKey(tag), keys, tagSetTTL) {
			ok = false
		}
	}
	return ok
}

// Untag removes key from each tag's member set.
func (t *TagIndex) Untag(ctx context.Context, key string, tags ...string) {
	for _, tag := range tags {
		var keys []string
		if !t.client.GetJSON(ctx, TagKey(tag), &keys) {
			continue
		}
		filtered := keys[:0]
		for _, k := range keys {
			if k != key {
				filtered = append(filtered, k)
			}
		}
		if len(filtered) == 0 {
			t.client.Del(ctx, TagKey(tag))
			continue
		}
		t.client.SetJSON(ctx, TagKey(tag), filtered, tagSetTTL)
	}
}

// KeysByTag returns the current member set of a tag.
func (t *TagIndex) KeysByTag(ctx context.Context, tag string) []string {
	var keys []string
	t.client.GetJSON(ctx, TagKey(tag), &keys)
	return keys
}

// InvalidateByTag deletes every key tracked under the given tags, then the
// tag sets themselves, and returns the total number of keys actually
// deleted. Members that already aged out via their own TTL contribute 0.
func (t *TagIndex) InvalidateByTag(ctx context.Context, tags ...string) int {
	total := 0
	for _, tag := range tags {
		var keys []string
		if !t.client.GetJSON(ctx, TagKey(tag), &keys) || len(keys) == 0 {
			t.client.Del(ctx, TagKey(tag))
			continue
		}
		deleted := int(t.client.Del(ctx, keys...))
		t.client.Del(ctx, TagKey(tag))
		total += deleted
		if t.metrics != nil {
			t.metrics.RecordInvalidation(tag, deleted)
		}
		log.Printf("🧹 [CACHE] Invalidated tag %q (%d of %d keys)", tag, deleted, len(keys))
	}
	return total
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
