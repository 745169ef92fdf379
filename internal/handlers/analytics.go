package handlers

import (
	"fmt"
	"time"

	"leadpulse/internal/services"

	"github.com/gofiber/fiber/v2"
)

// AnalyticsHandler serves daily rollups and their spreadsheet export.
type AnalyticsHandler struct {
	analytics *services.AnalyticsService
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(analytics *services.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// GetRollups returns stored daily rollups for a date range, defaulting to
// the last 30 days.
// GET /api/analytics/daily?from=&to=
func (h *AnalyticsHandler) GetRollups(c *fiber.Ctx) error {
	from, to, err := dateRange(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	rollups, err := h.analytics.Rollups(c.Context(), from, to)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load analytics",
		})
	}

	return c.JSON(fiber.Map{
		"from":    from,
		"to":      to,
		"rollups": rollups,
	})
}

// ExportXLSX streams the rollups for a date range as a spreadsheet.
// GET /api/analytics/export?from=&to=
func (h *AnalyticsHandler) ExportXLSX(c *fiber.Ctx) error {
	from, to, err := dateRange(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	data, err := h.analytics.ExportXLSX(c.Context(), from, to)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build export",
		})
	}

	filename := fmt.Sprintf("analytics_%s_%s.xlsx", from, to)
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(data)
}

// Aggregate recomputes the rollup for one day. Re-running a day overwrites
// its row.
// POST /api/analytics/aggregate?date=YYYY-MM-DD
func (h *AnalyticsHandler) Aggregate(c *fiber.Ctx) error {
	dateStr := c.Query("date")
	if dateStr == "" {
		dateStr = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	}
	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "date must be YYYY-MM-DD",
		})
	}

	rollup, err := h.analytics.AggregateDay(c.Context(), day)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to aggregate day",
		})
	}
	return c.JSON(rollup)
}

func dateRange(c *fiber.Ctx) (string, string, error) {
	now := time.Now().UTC()
	from := c.Query("from", now.AddDate(0, 0, -30).Format("2006-01-02"))
	to := c.Query("to", now.Format("2006-01-02"))

	for _, d := range []string{from, to} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return "", "", fmt.Errorf("dates must be YYYY-MM-DD, got %q", d)
		}
	}
	if from > to {
		return "", "", fmt.Errorf("from %s is after to %s", from, to)
	}
	return from, to, nil
}
