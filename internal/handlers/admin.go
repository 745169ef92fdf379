package handlers

import (
	"log"

	"leadpulse/internal/cache"
	"leadpulse/internal/jobs"
	"leadpulse/internal/services"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler exposes job control and cache introspection. Routes using it
// sit behind the admin middleware.
type AdminHandler struct {
	scheduler    *jobs.Scheduler
	tags         *cache.TagIndex
	productCache *services.ProductCacheService
	templates    *services.TemplateCacheService
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(scheduler *jobs.Scheduler, tags *cache.TagIndex, productCache *services.ProductCacheService, templates *services.TemplateCacheService) *AdminHandler {
	return &AdminHandler{
		scheduler:    scheduler,
		tags:         tags,
		productCache: productCache,
		templates:    templates,
	}
}

// JobStatus returns the schedule state of every registered job.
// GET /api/admin/jobs
func (h *AdminHandler) JobStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"jobs": h.scheduler.GetStatus()})
}

// RunJob triggers a job outside its schedule.
// POST /api/admin/jobs/:name/run
func (h *AdminHandler) RunJob(c *fiber.Ctx) error {
	name := c.Params("name")
	adminID, _ := c.Locals("user_id").(string)
	log.Printf("🔧 [ADMIN] %s triggered job %s", adminID, name)

	if err := h.scheduler.RunNow(name); err != nil {
		status := h.scheduler.GetStatus()
		if _, known := status[name]; !known {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unknown job",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"ran": name})
}

// CacheStats reports the in-process cache counters.
// GET /api/admin/cache/stats
func (h *AdminHandler) CacheStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"products":  h.productCache.Stats(),
		"templates": h.templates.Stats(),
	})
}

// InvalidateTag drops every cached response under a tag.
// POST /api/admin/cache/invalidate/:tag
func (h *AdminHandler) InvalidateTag(c *fiber.Ctx) error {
	tag := c.Params("tag")
	if tag == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Tag is required",
		})
	}

	dropped := h.tags.InvalidateByTag(c.Context(), tag)
	adminID, _ := c.Locals("user_id").(string)
	log.Printf("🔧 [ADMIN] %s invalidated tag %s (%d keys)", adminID, tag, dropped)
	return c.JSON(fiber.Map{"tag": tag, "invalidated_keys": dropped})
}
