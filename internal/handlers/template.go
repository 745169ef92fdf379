package handlers

import (
	"time"

	"leadpulse/internal/database"
	"leadpulse/internal/models"
	"leadpulse/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// TemplateHandler serves message templates and cached rendering.
type TemplateHandler struct {
	templates *mongo.Collection
	rendering *services.TemplateCacheService
}

// NewTemplateHandler creates a new template handler.
func NewTemplateHandler(db *database.MongoDB, rendering *services.TemplateCacheService) *TemplateHandler {
	return &TemplateHandler{
		templates: db.Collection(database.CollectionTemplates),
		rendering: rendering,
	}
}

// List returns the caller's templates.
// GET /api/templates
func (h *TemplateHandler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	cursor, err := h.templates.Find(c.Context(), bson.M{"userId": userID})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load templates",
		})
	}
	defer cursor.Close(c.Context())

	var templates []models.Template
	if err := cursor.All(c.Context(), &templates); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to decode templates",
		})
	}
	if templates == nil {
		templates = []models.Template{}
	}

	return c.JSON(fiber.Map{"templates": templates, "count": len(templates)})
}

// Create saves a new template.
// POST /api/templates
func (h *TemplateHandler) Create(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var tmpl models.Template
	if err := c.BodyParser(&tmpl); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid template payload",
		})
	}
	if tmpl.Name == "" || tmpl.Body == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Template name and body are required",
		})
	}

	tmpl.UserID = userID
	tmpl.CreatedAt = time.Now().UTC()
	tmpl.UpdatedAt = tmpl.CreatedAt

	result, err := h.templates.InsertOne(c.Context(), tmpl)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save template",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": result.InsertedID})
}

// Render expands a template with the supplied variables, serving repeat
// renders from the compiled-template cache.
// POST /api/templates/:id/render
func (h *TemplateHandler) Render(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	templateID := c.Params("id")

	oid, err := primitiveObjectID(templateID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid template id",
		})
	}

	var req struct {
		Variables map[string]string `json:"variables"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid render payload",
		})
	}

	var tmpl models.Template
	err = h.templates.FindOne(c.Context(), bson.M{"_id": oid, "userId": userID}).Decode(&tmpl)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	rendered := h.rendering.Render(templateID, tmpl.Body, req.Variables)
	return c.JSON(fiber.Map{"rendered": rendered})
}

// Update replaces a template's body and drops its compiled renders.
// PUT /api/templates/:id
func (h *TemplateHandler) Update(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	templateID := c.Params("id")

	oid, err := primitiveObjectID(templateID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid template id",
		})
	}

	var req struct {
		Name string `json:"name"`
		Body string `json:"body"`
	}
	if err := c.BodyParser(&req); err != nil || req.Body == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Template body is required",
		})
	}

	set := bson.M{"body": req.Body, "updatedAt": time.Now().UTC()}
	if req.Name != "" {
		set["name"] = req.Name
	}

	result, err := h.templates.UpdateOne(c.Context(),
		bson.M{"_id": oid, "userId": userID},
		bson.M{"$set": set})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update template",
		})
	}
	if result.MatchedCount == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	// Stale compiled renders must not survive a body change.
	h.rendering.Invalidate(templateID)
	return c.JSON(fiber.Map{"updated": true})
}

func primitiveObjectID(hex string) (primitive.ObjectID, error) {
	return primitive.ObjectIDFromHex(hex)
}
