package handlers

import (
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/database"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler reports service liveness plus the state of the cache and
// datastore connections.
type HealthHandler struct {
	cacheClient *cache.Client
	db          *database.MongoDB
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(cacheClient *cache.Client, db *database.MongoDB) *HealthHandler {
	return &HealthHandler{cacheClient: cacheClient, db: db}
}

// Handle responds with overall health. Degraded dependencies are reported
// but do not fail the endpoint; the process is still serving.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	cacheStatus := "ok"
	if err := h.cacheClient.Ping(c.Context()); err != nil {
		cacheStatus = "degraded"
	}

	dbStatus := "ok"
	if err := h.db.Ping(c.Context()); err != nil {
		dbStatus = "down"
	}

	return c.JSON(fiber.Map{
		"status":    "healthy",
		"cache":     cacheStatus,
		"backend":   h.cacheClient.Backend().Name(),
		"database":  dbStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
