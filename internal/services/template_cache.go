package services

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"leadpulse/internal/cache"

	gocache "github.com/patrickmn/go-cache"
)

// Compiled templates are immutable for a given (template, variables) pair,
// so they can sit in memory far longer than the catalog.
const (
	templateCacheTTL   = 1 * time.Hour
	templateCacheSweep = 30 * time.Minute
)

// TemplateCacheService memoizes compiled message templates. The scope key
// folds in a hash of the template body and the variable values, so editing
// a template or changing a variable naturally misses into a fresh compile.
type TemplateCacheService struct {
	cache *gocache.Cache
	mu    sync.RWMutex

	hits     int64
	misses   int64
	compiles int64
}

// NewTemplateCacheService creates the compiled-template cache.
func NewTemplateCacheService() *TemplateCacheService {
	return &TemplateCacheService{
		cache: gocache.New(templateCacheTTL, templateCacheSweep),
	}
}

// Render returns the template body with every {{variable}} placeholder
// substituted, compiling only on a cache miss.
func (s *TemplateCacheService) Render(templateID, body string, vars map[string]string) string {
	key := cache.TemplateKey(templateID, contentHash(body, vars))

	s.mu.Lock()
	if value, found := s.cache.Get(key); found {
		s.hits++
		s.mu.Unlock()
		return value.(string)
	}
	s.misses++
	s.mu.Unlock()

	compiled := compile(body, vars)

	s.mu.Lock()
	s.compiles++
	s.cache.Set(key, compiled, gocache.DefaultExpiration)
	s.mu.Unlock()

	return compiled
}

// Invalidate drops every compiled form of one template, or all templates
// when templateID is "*". go-cache has no prefix delete, so single-template
// invalidation walks the items.
func (s *TemplateCacheService) Invalidate(templateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if templateID == "*" {
		s.cache.Flush()
		return
	}

	prefix := "template:compiled:" + templateID + ":"
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
		}
	}
}

// InvalidateAll drops every compiled template.
func (s *TemplateCacheService) InvalidateAll() {
	s.Invalidate("*")
}

// Cleanup evicts expired entries proactively.
func (s *TemplateCacheService) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.DeleteExpired()
}

// Stats returns cache statistics.
func (s *TemplateCacheService) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"entries":  s.cache.ItemCount(),
		"hits":     s.hits,
		"misses":   s.misses,
		"compiles": s.compiles,
	}
}

// compile substitutes {{variable}} placeholders. Unknown placeholders are
// left intact so the operator can spot them in previews.
func compile(body string, vars map[string]string) string {
	result := body
	for name, value := range vars {
		result = strings.ReplaceAll(result, "{{"+name+"}}", value)
	}
	return result
}

// contentHash digests the template body and variables in a stable order.
func contentHash(body string, vars map[string]string) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(body))
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{1})
		h.Write([]byte(vars[name]))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
