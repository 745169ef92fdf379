package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/database"
	"leadpulse/internal/middleware"
	"leadpulse/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Routes whose anonymous GET responses the warming job keeps hot.
const (
	WarmProductsPath = "/api/products"
	WarmConfigPath   = "/api/config"

	// Warmed entries outlive the warming interval so requests between runs
	// never see a cold miss.
	WarmTTL = 15 * time.Minute
)

// warmSource supplies the payloads the warming job primes.
type warmSource interface {
	GlobalProducts(ctx context.Context) ([]models.Product, error)
}

// WarmingService re-primes the response cache's hot anonymous keys ahead of
// expiry. It writes the same envelope the response-cache middleware stores,
// so a warmed entry replays exactly like one captured from a live request.
type WarmingService struct {
	client *cache.Client
	tags   *cache.TagIndex
	source warmSource
}

// NewWarmingService builds the service over the live product collection.
func NewWarmingService(client *cache.Client, tags *cache.TagIndex, db *database.MongoDB) *WarmingService {
	return &WarmingService{
		client: client,
		tags:   tags,
		source: &mongoWarmSource{products: db.Collection(database.CollectionProducts)},
	}
}

// NewWarmingServiceWithSource builds the service over an explicit source,
// for tests.
func NewWarmingServiceWithSource(client *cache.Client, tags *cache.TagIndex, source warmSource) *WarmingService {
	return &WarmingService{client: client, tags: tags, source: source}
}

// WarmAll primes every hot key, continuing past individual failures.
func (s *WarmingService) WarmAll(ctx context.Context) error {
	var firstErr error
	if err := s.WarmProducts(ctx); err != nil {
		firstErr = err
		log.Printf("⚠️  [WARMING] Product list warm failed: %v", err)
	}
	if err := s.WarmGlobalConfig(ctx); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		log.Printf("⚠️  [WARMING] Global config warm failed: %v", err)
	}
	return firstErr
}

// WarmProducts primes the anonymous product list response.
func (s *WarmingService) WarmProducts(ctx context.Context) error {
	products, err := s.source.GlobalProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog for warming: %w", err)
	}
	if products == nil {
		products = []models.Product{}
	}
	payload := fiber.Map{"products": products, "count": len(products)}
	return s.prime(ctx, WarmProductsPath, payload, "products")
}

// WarmGlobalConfig primes the public runtime-config response.
func (s *WarmingService) WarmGlobalConfig(ctx context.Context) error {
	payload := fiber.Map{
		"channels": []string{"whatsapp", "wechat", "email"},
		"features": fiber.Map{
			"scoring":   true,
			"templates": true,
		},
	}
	return s.prime(ctx, WarmConfigPath, payload, "config")
}

func (s *WarmingService) prime(ctx context.Context, path string, payload interface{}, tag string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal warm payload for %s: %w", path, err)
	}

	entry := middleware.CachedResponse{
		Status:      fiber.StatusOK,
		ContentType: fiber.MIMEApplicationJSON,
		Body:        string(body),
	}

	key := middleware.WarmKey(path)
	if !s.client.SetJSON(ctx, key, entry, WarmTTL) {
		return fmt.Errorf("cache rejected warm entry for %s", path)
	}
	s.tags.Tag(ctx, key, tag)

	log.Printf("🔥 [WARMING] Primed %s (%d bytes)", path, len(body))
	return nil
}

// mongoWarmSource reads the global catalog.
type mongoWarmSource struct {
	products *mongo.Collection
}

func (m *mongoWarmSource) GlobalProducts(ctx context.Context) ([]models.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := m.products.Find(ctx, bson.M{"userId": bson.M{"$in": []interface{}{nil, ""}}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var products []models.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}
	return products, nil
}
