package services

import (
	"log"
	"sync"
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/models"

	gocache "github.com/patrickmn/go-cache"
)

// Product catalog entries are cheap to serve and hot on every outbound
// message, so they get their own in-process tier in front of the shared
// cache. Per-instance only: multiple server instances each hold their own
// view, stale by at most the TTL.
const (
	productCacheTTL   = 5 * time.Minute
	productCacheSweep = 10 * time.Minute
)

// ProductCacheService memoizes product catalogs per scope (user id, or
// "global" for the shared catalog). Constructed once at startup and passed
// where needed; tests build a fresh instance each.
type ProductCacheService struct {
	cache *gocache.Cache
	mu    sync.RWMutex

	hits   int64
	misses int64
}

// NewProductCacheService creates the catalog cache.
func NewProductCacheService() *ProductCacheService {
	return &ProductCacheService{
		cache: gocache.New(productCacheTTL, productCacheSweep),
	}
}

// Get returns the cached catalog for a scope, or nil on a miss. Expiry is
// checked lazily here; the background sweep only reclaims memory.
func (s *ProductCacheService) Get(userID string) []models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, found := s.cache.Get(cache.CatalogKey(userID))
	if !found {
		s.misses++
		return nil
	}

	products, ok := value.([]models.Product)
	if !ok {
		s.misses++
		return nil
	}

	s.hits++
	return products
}

// Set stores a catalog for a scope.
func (s *ProductCacheService) Set(userID string, products []models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(cache.CatalogKey(userID), products, gocache.DefaultExpiration)
}

// Invalidate drops one scope's catalog, or everything when userID is "*".
func (s *ProductCacheService) Invalidate(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == "*" {
		s.cache.Flush()
		log.Println("🧹 [PRODUCT-CACHE] Flushed all catalogs")
		return
	}
	s.cache.Delete(cache.CatalogKey(userID))
}

// InvalidateAll drops every cached catalog.
func (s *ProductCacheService) InvalidateAll() {
	s.Invalidate("*")
}

// Cleanup evicts expired entries proactively.
func (s *ProductCacheService) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.DeleteExpired()
}

// Stats returns cache statistics.
func (s *ProductCacheService) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"entries": s.cache.ItemCount(),
		"hits":    s.hits,
		"misses":  s.misses,
	}
}
