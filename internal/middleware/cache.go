package middleware

import (
	"time"

	"leadpulse/internal/cache"

	"github.com/gofiber/fiber/v2"
)

// CachedResponse is the envelope stored per response-cache key. The warming
// job writes the same shape so a pre-warmed entry replays exactly like one
// captured from a live request.
type CachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        string `json:"body"`
}

// ResponseCache wraps downstream handlers in the tag-indexed response
// cache. On a hit it replays the stored status and body without running the
// rest of the chain, which also bypasses downstream authorization. Routes
// serving per-user data rely on the identity component of the key, so the
// Identity middleware must run first.
//
// Only 2xx responses are stored; errors always re-run live.
func ResponseCache(client *cache.Client, tags *cache.TagIndex, ttl time.Duration, routeTags ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := requestKey(c)

		var cached CachedResponse
		if client.GetJSON(c.Context(), key, &cached) {
			c.Set(fiber.HeaderContentType, cached.ContentType)
			c.Set("X-Cache", "HIT")
			return c.Status(cached.Status).SendString(cached.Body)
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status < 200 || status >= 300 {
			return nil
		}

		entry := CachedResponse{
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        string(c.Response().Body()),
		}
		if client.SetJSON(c.Context(), key, entry, ttl) && len(routeTags) > 0 {
			tags.Tag(c.Context(), key, routeTags...)
		}
		c.Set("X-Cache", "MISS")
		return nil
	}
}

// requestKey computes the response-cache key for the current request using
// the shared wire format.
func requestKey(c *fiber.Ctx) string {
	identity, _ := c.Locals("user_id").(string)
	return cache.ResponseKey(c.Method(), c.Path(), c.Queries(), identity)
}

// WarmKey builds the cache key the warming job primes for a GET route with
// no query parameters, matching what requestKey would compute for an
// anonymous request.
func WarmKey(path string) string {
	return cache.ResponseKey(fiber.MethodGet, path, map[string]string{}, "")
}
