package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"leadpulse/internal/cache"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CachePolicy mirrors the hosted datastore client's query cache semantics.
// The wrapper itself holds no cache state; the cached tier lives in the
// shared key-value cache keyed by a digest of the query.
type CachePolicy string

// Query cache policies.
const (
	IgnoreCache      CachePolicy = "ignoreCache"
	CacheOnly        CachePolicy = "cacheOnly"
	NetworkOnly      CachePolicy = "networkOnly"
	CacheElseNetwork CachePolicy = "cacheElseNetwork"
	NetworkElseCache CachePolicy = "networkElseCache"
	CacheThenNetwork CachePolicy = "cacheThenNetwork"
)

// DefaultQueryMaxAge is how long a cached query result stays fresh.
const DefaultQueryMaxAge = 300 * time.Second

// ErrCacheMiss is returned by CacheOnly queries that find nothing cached.
var ErrCacheMiss = errors.New("query cache miss")

// QuerySpec describes one datastore query for caching purposes. The digest
// of the spec is the cache identity, so two structurally equal queries
// share an entry.
type QuerySpec struct {
	Collection string `json:"collection"`
	Filter     bson.M `json:"filter"`
	Sort       bson.D `json:"sort,omitempty"`
	Limit      int64  `json:"limit,omitempty"`
}

// Digest returns the stable identity of the query.
func (s QuerySpec) Digest() string {
	data, _ := json.Marshal(s)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Finder executes a query against the datastore. *MongoDB satisfies it via
// MongoFinder; tests substitute fakes.
type Finder interface {
	Find(ctx context.Context, spec QuerySpec) ([]bson.M, error)
}

// MongoFinder runs QuerySpecs against live mongo collections.
type MongoFinder struct {
	db *MongoDB
}

// NewMongoFinder wraps a MongoDB handle as a Finder.
func NewMongoFinder(db *MongoDB) *MongoFinder {
	return &MongoFinder{db: db}
}

// Find executes the spec.
func (f *MongoFinder) Find(ctx context.Context, spec QuerySpec) ([]bson.M, error) {
	opts := options.Find()
	if len(spec.Sort) > 0 {
		opts.SetSort(spec.Sort)
	}
	if spec.Limit > 0 {
		opts.SetLimit(spec.Limit)
	}

	filter := spec.Filter
	if filter == nil {
		filter = bson.M{}
	}

	cursor, err := f.db.Collection(spec.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s failed: %w", spec.Collection, err)
	}
	defer cursor.Close(ctx)

	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode %s results failed: %w", spec.Collection, err)
	}
	return results, nil
}

// cachedQuery is the envelope stored per query digest.
type cachedQuery struct {
	CachedAt time.Time `json:"cachedAt"`
	Docs     []bson.M  `json:"docs"`
}

// QueryCache is the remote-query cache tier: a pass-through wrapper that
// applies a cache policy to each query. Distinct from the response cache
// (it caches datastore result sets, not HTTP bodies) and from the
// in-process memoization caches (it is shared across instances).
type QueryCache struct {
	finder Finder
	cache  *cache.Client
}

// NewQueryCache builds the wrapper.
func NewQueryCache(finder Finder, cacheClient *cache.Client) *QueryCache {
	return &QueryCache{finder: finder, cache: cacheClient}
}

// FindWithCache executes a query under the given policy. maxAge <= 0 uses
// the 300s default. NetworkElseCache serves stale data on datastore errors,
// which the domain tolerates for catalog and analytics reads.
func (q *QueryCache) FindWithCache(ctx context.Context, spec QuerySpec, policy CachePolicy, maxAge time.Duration) ([]bson.M, error) {
	if maxAge <= 0 {
		maxAge = DefaultQueryMaxAge
	}
	if policy == "" {
		policy = CacheElseNetwork
	}

	key := cache.QueryKey(spec.Digest())

	switch policy {
	case IgnoreCache, NetworkOnly:
		docs, err := q.finder.Find(ctx, spec)
		if err != nil {
			return nil, err
		}
		if policy == NetworkOnly {
			q.store(ctx, key, docs, maxAge)
		}
		return docs, nil

	case CacheOnly:
		if docs, ok := q.lookup(ctx, key, maxAge); ok {
			return docs, nil
		}
		return nil, ErrCacheMiss

	case NetworkElseCache:
		docs, err := q.finder.Find(ctx, spec)
		if err == nil {
			q.store(ctx, key, docs, maxAge)
			return docs, nil
		}
		// Fail open to whatever we still have, however stale.
		if docs, ok := q.lookup(ctx, key, 0); ok {
			log.Printf("⚠️  [QUERY-CACHE] Serving stale %s results after datastore error: %v", spec.Collection, err)
			return docs, nil
		}
		return nil, err

	case CacheThenNetwork:
		if docs, ok := q.lookup(ctx, key, maxAge); ok {
			go q.refresh(spec, key, maxAge)
			return docs, nil
		}
		fallthrough

	default: // CacheElseNetwork
		if docs, ok := q.lookup(ctx, key, maxAge); ok {
			return docs, nil
		}
		docs, err := q.finder.Find(ctx, spec)
		if err != nil {
			return nil, err
		}
		q.store(ctx, key, docs, maxAge)
		return docs, nil
	}
}

// lookup reads a cached result set. maxAge 0 accepts any age.
func (q *QueryCache) lookup(ctx context.Context, key string, maxAge time.Duration) ([]bson.M, bool) {
	var entry cachedQuery
	if !q.cache.GetJSON(ctx, key, &entry) {
		return nil, false
	}
	if maxAge > 0 && time.Since(entry.CachedAt) > maxAge {
		return nil, false
	}
	return entry.Docs, true
}

func (q *QueryCache) store(ctx context.Context, key string, docs []bson.M, maxAge time.Duration) {
	// Keep entries around past maxAge so NetworkElseCache can serve stale.
	q.cache.SetJSON(ctx, key, cachedQuery{CachedAt: time.Now().UTC(), Docs: docs}, 4*maxAge)
}

// refresh re-runs the query in the background after a CacheThenNetwork hit.
func (q *QueryCache) refresh(spec QuerySpec, key string, maxAge time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	docs, err := q.finder.Find(ctx, spec)
	if err != nil {
		log.Printf("⚠️  [QUERY-CACHE] Background refresh for %s failed: %v", spec.Collection, err)
		return
	}
	q.store(ctx, key, docs, maxAge)
}
