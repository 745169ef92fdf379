package database

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB wraps the hosted document datastore client. Query semantics
// (equality, containment, comparison, sort, limit/skip) are the only
// operations the cache layer depends on; everything else about the hosted
// service is opaque.
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// Collection names
const (
	CollectionLeads            = "leads"
	CollectionMessages         = "messages"
	CollectionCampaigns        = "campaigns"
	CollectionProducts         = "products"
	CollectionTemplates        = "templates"
	CollectionOAuthConnections = "oauth_connections"
	CollectionAnalyticsDaily   = "analytics_daily"

	// Archive collections, written by the archive job only
	CollectionMessagesArchive  = "messages_archive"
	CollectionCampaignsArchive = "campaigns_archive"
)

// NewMongoDB creates a new MongoDB connection with connection pooling
func NewMongoDB(uri string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := extractDBName(uri)
	if dbName == "" {
		dbName = "leadpulse"
	}

	db := &MongoDB{
		client:   client,
		database: client.Database(dbName),
		dbName:   dbName,
	}

	log.Printf("✅ Connected to MongoDB database: %s", dbName)

	return db, nil
}

// extractDBName extracts the database name from a MongoDB URI.
// mongodb://localhost:27017/leadpulse?authSource=admin -> leadpulse
func extractDBName(uri string) string {
	lastSlash := strings.LastIndex(uri, "/")
	if lastSlash == -1 || lastSlash == len(uri)-1 {
		return ""
	}

	name := uri[lastSlash+1:]
	if q := strings.Index(name, "?"); q != -1 {
		name = name[:q]
	}
	return name
}

// Initialize creates indexes for all collections
func (m *MongoDB) Initialize(ctx context.Context) error {
	log.Println("📦 Initializing MongoDB indexes...")

	if err := m.createIndexes(ctx, CollectionLeads, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "scoredAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create leads indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionMessages, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "leadId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}, {Key: "isActive", Value: 1}}}, // archive scan
	}); err != nil {
		return fmt.Errorf("failed to create messages indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionCampaigns, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}, {Key: "isActive", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create campaigns indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionProducts, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "inStock", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create products indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionTemplates, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "name", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create templates indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionOAuthConnections, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "provider", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}}, // refresh scan
	}); err != nil {
		return fmt.Errorf("failed to create oauth_connections indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionAnalyticsDaily, []mongo.IndexModel{
		{Keys: bson.D{{Key: "date", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("failed to create analytics_daily indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionMessagesArchive, []mongo.IndexModel{
		{Keys: bson.D{{Key: "originalId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "archivedAt", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("failed to create messages_archive indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionCampaignsArchive, []mongo.IndexModel{
		{Keys: bson.D{{Key: "originalId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "archivedAt", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("failed to create campaigns_archive indexes: %w", err)
	}

	log.Println("✅ MongoDB indexes initialized successfully")
	return nil
}

// createIndexes creates indexes for a collection
func (m *MongoDB) createIndexes(ctx context.Context, collectionName string, indexes []mongo.IndexModel) error {
	collection := m.database.Collection(collectionName)
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Collection returns a collection handle
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Client returns the underlying MongoDB client
func (m *MongoDB) Client() *mongo.Client {
	return m.client
}

// Database returns the underlying MongoDB database
func (m *MongoDB) Database() *mongo.Database {
	return m.database
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	log.Println("🔌 Closing MongoDB connection...")
	return m.client.Disconnect(ctx)
}

// Ping checks if the database connection is alive
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}
