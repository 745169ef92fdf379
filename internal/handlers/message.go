package handlers

import (
	"errors"
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/database"
	"leadpulse/internal/models"
	"leadpulse/internal/pagination"
	"leadpulse/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageHandler serves message history and outbound sends.
type MessageHandler struct {
	messages  *mongo.Collection
	templates *mongo.Collection
	rendering *services.TemplateCacheService
	archive   *services.ArchiveService
	tags      *cache.TagIndex
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(db *database.MongoDB, rendering *services.TemplateCacheService, archive *services.ArchiveService, tags *cache.TagIndex) *MessageHandler {
	return &MessageHandler{
		messages:  db.Collection(database.CollectionMessages),
		templates: db.Collection(database.CollectionTemplates),
		rendering: rendering,
		archive:   archive,
		tags:      tags,
	}
}

// List returns one cursor-paginated page of the caller's messages.
// GET /api/messages?limit=&cursor=&channel=&lead_id=
func (h *MessageHandler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	limit := c.QueryInt("limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	filter := bson.M{"userId": userID}
	if channel := c.Query("channel"); channel != "" {
		filter["channel"] = channel
	}
	if leadID := c.Query("lead_id"); leadID != "" {
		filter["leadId"] = leadID
	}

	const sortField = "createdAt"
	const order = pagination.OrderDesc

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

	opts := options.Find().
		SetSort(bson.D{{Key: sortField, Value: -1}}).
		SetLimit(int64(limit))

	mongoCursor, err := h.messages.Find(c.Context(), filter, opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load messages",
		})
	}
	defer mongoCursor.Close(c.Context())

	var docs []bson.M
	if err := mongoCursor.All(c.Context(), &docs); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to decode messages",
		})
	}

	messages, err := decodeDocs[models.Message](docs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to decode messages",
		})
	}

	return c.JSON(fiber.Map{
		"messages":    messages,
		"count":       len(messages),
		"next_cursor": pagination.Next(docs, sortField, order, limit),
	})
}

// Send records an outbound message, optionally rendered from a template,
// and invalidates cached message lists.
// POST /api/messages
func (h *MessageHandler) Send(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		LeadID     string            `json:"lead_id"`
		Channel    string            `json:"channel"`
		Body       string            `json:"body"`
		TemplateID string            `json:"template_id"`
		Variables  map[string]string `json:"variables"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid message payload",
		})
	}
	if req.Channel == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Channel is required",
		})
	}

	body := req.Body
	if req.TemplateID != "" {
		rendered, err := h.renderTemplate(c, req.TemplateID, req.Variables)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Template not found",
			})
		}
		body = rendered
	}
	if body == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message body or template is required",
		})
	}

	message := models.Message{
		UserID:    userID,
		LeadID:    req.LeadID,
		Channel:   req.Channel,
		Direction: models.MessageOutbound,
		Body:      body,
		Status:    "queued",
		CreatedAt: time.Now().UTC(),
	}

	result, err := h.messages.InsertOne(c.Context(), message)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save message",
		})
	}

	h.tags.InvalidateByTag(c.Context(), "messages")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": result.InsertedID, "body": body})
}

// Restore brings an archived message back into the live collection.
// POST /api/messages/:id/restore
func (h *MessageHandler) Restore(c *fiber.Ctx) error {
	originalID := c.Params("id")
	if originalID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message id is required",
		})
	}

	if err := h.archive.RestoreMessage(c.Context(), originalID); err != nil {
		if errors.Is(err, services.ErrArchiveNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "No archived message with that id",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to restore message",
		})
	}

	h.tags.InvalidateByTag(c.Context(), "messages")
	return c.JSON(fiber.Map{"restored": true})
}

func (h *MessageHandler) renderTemplate(c *fiber.Ctx, templateID string, vars map[string]string) (string, error) {
	oid, err := primitiveObjectID(templateID)
	if err != nil {
		return "", err
	}

	var tmpl models.Template
	if err := h.templates.FindOne(c.Context(), bson.M{"_id": oid}).Decode(&tmpl); err != nil {
		return "", err
	}
	return h.rendering.Render(templateID, tmpl.Body, vars), nil
}
