package handlers

import (
	"log"
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/database"
	"leadpulse/internal/models"
	"leadpulse/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ProductHandler serves the product catalog. Reads go through the
// in-process catalog cache first, then the datastore's query cache; writes
// invalidate both plus the tagged response-cache entries.
type ProductHandler struct {
	products     *mongo.Collection
	productCache *services.ProductCacheService
	queryCache   *database.QueryCache
	tags         *cache.TagIndex
}

// NewProductHandler creates a new product handler.
func NewProductHandler(db *database.MongoDB, productCache *services.ProductCacheService, queryCache *database.QueryCache, tags *cache.TagIndex) *ProductHandler {
	return &ProductHandler{
		products:     db.Collection(database.CollectionProducts),
		productCache: productCache,
		queryCache:   queryCache,
		tags:         tags,
	}
}

// List returns the catalog visible to the caller: global products plus
// their own.
// GET /api/products
func (h *ProductHandler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	if products := h.productCache.Get(userID); products != nil {
		return c.JSON(fiber.Map{"products": products, "count": len(products)})
	}

	spec := database.QuerySpec{
		Collection: database.CollectionProducts,
		Filter:     bson.M{"$or": []bson.M{{"userId": ""}, {"userId": nil}, {"userId": userID}}},
		Sort:       bson.D{{Key: "name", Value: 1}},
	}
	docs, err := h.queryCache.FindWithCache(c.Context(), spec, database.CacheElseNetwork, database.DefaultQueryMaxAge)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load products",
		})
	}

	products, err := decodeDocs[models.Product](docs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to decode products",
		})
	}

	h.productCache.Set(userID, products)
	return c.JSON(fiber.Map{"products": products, "count": len(products)})
}

// Create adds a product to the caller's catalog.
// POST /api/products
func (h *ProductHandler) Create(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var product models.Product
	if err := c.BodyParser(&product); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid product payload",
		})
	}
	if product.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Product name is required",
		})
	}

	product.UserID = userID
	product.CreatedAt = time.Now().UTC()
	product.UpdatedAt = product.CreatedAt

	result, err := h.products.InsertOne(c.Context(), product)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save product",
		})
	}

	h.invalidate(c, userID)
	log.Printf("🛒 [PRODUCTS] Created product %v for user %s", result.InsertedID, userID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": result.InsertedID})
}

// invalidate drops every cache tier that could serve a stale catalog.
func (h *ProductHandler) invalidate(c *fiber.Ctx, userID string) {
	h.productCache.Invalidate(userID)
	h.productCache.Invalidate("") // global catalog views include user rows
	h.tags.InvalidateByTag(c.Context(), "products")
}

// decodeDocs converts raw query-cache documents into typed models.
func decodeDocs[T any](docs []bson.M) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return nil, err
		}
		var item T
		if err := bson.Unmarshal(raw, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
