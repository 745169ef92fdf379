package handlers

import (
	"errors"
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/database"
	"leadpulse/internal/models"
	"leadpulse/internal/pagination"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LeadHandler serves the lead pipeline with cursor-paginated lists.
type LeadHandler struct {
	leads *mongo.Collection
	tags  *cache.TagIndex
}

// NewLeadHandler creates a new lead handler.
func NewLeadHandler(db *database.MongoDB, tags *cache.TagIndex) *LeadHandler {
	return &LeadHandler{
		leads: db.Collection(database.CollectionLeads),
		tags:  tags,
	}
}

// List returns one page of the caller's leads, newest first by default.
// Pagination is forward-only: the response carries an opaque cursor for the
// next page, empty when the page came up short.
// GET /api/leads?limit=&cursor=&sort=&order=&status=
func (h *LeadHandler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	limit := c.QueryInt("limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	sortField := c.Query("sort", "createdAt")
	order := c.Query("order", pagination.OrderDesc)
	if order != pagination.OrderAsc && order != pagination.OrderDesc {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "order must be asc or desc",
		})
	}

	filter := bson.M{"userId": userID}
	if status := c.Query("status"); status != "" {
		filter["status"] = status
	}

	if encoded := c.Query("cursor"); encoded != "" {
		cursor, err := pagination.Parse(encoded)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid cursor",
			})
		}
		if err := pagination.Apply(filter, cursor, sortField, order); err != nil {
			if errors.Is(err, pagination.ErrCursorMismatch) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Cursor does not match requested sort",
				})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid cursor",
			})
		}
	}

	sortDir := 1
	if order == pagination.OrderDesc {
		sortDir = -1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: sortField, Value: sortDir}}).
		SetLimit(int64(limit))

	mongoCursor, err := h.leads.Find(c.Context(), filter, opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load leads",
		})
	}
	defer mongoCursor.Close(c.Context())

	var docs []bson.M
	if err := mongoCursor.All(c.Context(), &docs); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to decode leads",
		})
	}

	leads, err := decodeDocs[models.Lead](docs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to decode leads",
		})
	}

	return c.JSON(fiber.Map{
		"leads":       leads,
		"count":       len(leads),
		"next_cursor": pagination.Next(docs, sortField, order, limit),
	})
}

// Create adds a lead and invalidates cached lead lists.
// POST /api/leads
func (h *LeadHandler) Create(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var lead models.Lead
	if err := c.BodyParser(&lead); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lead payload",
		})
	}
	if lead.Name == "" || lead.Channel == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Lead name and channel are required",
		})
	}

	lead.UserID = userID
	if lead.Status == "" {
		lead.Status = models.LeadStatusNew
	}
	lead.CreatedAt = time.Now().UTC()
	lead.UpdatedAt = lead.CreatedAt

	result, err := h.leads.InsertOne(c.Context(), lead)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save lead",
		})
	}

	h.tags.InvalidateByTag(c.Context(), "leads")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": result.InsertedID})
}

// Update patches a lead's mutable fields and invalidates cached lists.
// PATCH /api/leads/:id
func (h *LeadHandler) Update(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	oid, err := primitive.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lead id",
		})
	}

	var patch struct {
		Name    *string `json:"name"`
		Status  *string `json:"status"`
		Country *string `json:"country"`
		Notes   *string `json:"notes"`
	}
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lead payload",
		})
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if patch.Country != nil {
		set["country"] = *patch.Country
	}
	if patch.Notes != nil {
		set["notes"] = *patch.Notes
	}

	result, err := h.leads.UpdateOne(c.Context(),
		bson.M{"_id": oid, "userId": userID},
		bson.M{"$set": set})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update lead",
		})
	}
	if result.MatchedCount == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	h.tags.InvalidateByTag(c.Context(), "leads")
	return c.JSON(fiber.Map{"updated": true})
}
