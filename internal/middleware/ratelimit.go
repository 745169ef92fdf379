package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds the per-tier request budgets. All windows are one
// minute. Rate limiting runs before the response cache, so cached hits
// still count against the caller's budget.
type RateLimitConfig struct {
	GlobalAPIMax     int // per IP, every /api route
	PublicReadMax    int // per IP, unauthenticated catalog/config reads
	AuthenticatedMax int // per user id, falls back to IP pre-auth

	Window time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalAPIMax:     200,
		PublicReadMax:    120,
		AuthenticatedMax: 60,
		Window:           time.Minute,
	}
}

// LoadRateLimitConfig loads budgets from environment variables, keeping
// defaults for anything unset or unparseable.
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	config.GlobalAPIMax = intEnv("RATE_LIMIT_GLOBAL_API", config.GlobalAPIMax)
	config.PublicReadMax = intEnv("RATE_LIMIT_PUBLIC_READ", config.PublicReadMax)
	config.AuthenticatedMax = intEnv("RATE_LIMIT_AUTHENTICATED", config.AuthenticatedMax)

	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 1000
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

func intEnv(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// GlobalAPIRateLimiter caps everything under /api per client IP.
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return tooManyRequests(c, "Too many requests. Please slow down.", config.Window)
		},
	})
}

// PublicReadRateLimiter caps the unauthenticated cacheable reads (product
// catalog, global config) per client IP.
func PublicReadRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.PublicReadMax,
		Expiration: config.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "public:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] Public read limit reached for IP: %s on %s", c.IP(), c.Path())
			return tooManyRequests(c, "Too many requests to this endpoint.", config.Window)
		},
	})
}

// AuthenticatedRateLimiter caps lead/message/template operations per user
// id. Requests that reach it without an identity are keyed by IP.
func AuthenticatedRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.AuthenticatedMax,
		Expiration: config.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
				return "auth:" + userID
			}
			return "auth-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			userID, _ := c.Locals("user_id").(string)
			log.Printf("⚠️  [RATE-LIMIT] Authenticated limit reached for user: %s on %s", userID, c.Path())
			return tooManyRequests(c, "Too many requests. Please wait before trying again.", config.Window)
		},
	})
}

func tooManyRequests(c *fiber.Ctx, msg string, window time.Duration) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       msg,
		"retry_after": int(window.Seconds()),
	})
}
