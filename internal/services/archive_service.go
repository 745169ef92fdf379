package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"leadpulse/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Retention thresholds and per-run batch bounds. Batches stay small so a
// run never holds a long operation open against the hosted datastore.
const (
	MessageRetention  = 180 * 24 * time.Hour
	CampaignRetention = 90 * 24 * time.Hour

	MessageArchiveBatch  = 500
	CampaignArchiveBatch = 100
)

// ErrArchiveNotFound is returned when restoring an id with no archive copy.
var ErrArchiveNotFound = errors.New("no archive record for original id")

// ArchiveCollection is the slice of datastore behavior the archive service
// needs. Backed by live mongo collections in production and by fakes in
// tests.
type ArchiveCollection interface {
	FindDocs(ctx context.Context, filter bson.M, limit int64) ([]bson.M, error)
	InsertDocs(ctx context.Context, docs []interface{}) error
	DeleteByIDs(ctx context.Context, ids []interface{}) (int64, error)
	DeleteByOriginalIDs(ctx context.Context, originalIDs []string) (int64, error)
	FindOneDoc(ctx context.Context, filter bson.M) (bson.M, error)
	DeleteOneDoc(ctx context.Context, filter bson.M) error
	Count(ctx context.Context, filter bson.M) (int64, error)
}

// ArchiveOptions configures one archival run.
type ArchiveOptions struct {
	Limit  int
	DryRun bool
}

// ArchiveResult reports what a run did (or, for a dry run, would do).
type ArchiveResult struct {
	Archived int  `json:"archived"`
	Errors   int  `json:"errors"`
	DryRun   bool `json:"dry_run"`
}

// ArchiveService migrates aged records out of hot collections into their
// archive counterparts. Copy-then-delete ordering is mandatory: originals
// are deleted only after every archive copy in the batch saved durably.
type ArchiveService struct {
	messages         ArchiveCollection
	messagesArchive  ArchiveCollection
	campaigns        ArchiveCollection
	campaignsArchive ArchiveCollection
	now              func() time.Time
}

// NewArchiveService builds the service over live mongo collections.
func NewArchiveService(db *database.MongoDB) *ArchiveService {
	return &ArchiveService{
		messages:         &mongoArchiveCollection{coll: db.Collection(database.CollectionMessages)},
		messagesArchive:  &mongoArchiveCollection{coll: db.Collection(database.CollectionMessagesArchive)},
		campaigns:        &mongoArchiveCollection{coll: db.Collection(database.CollectionCampaigns)},
		campaignsArchive: &mongoArchiveCollection{coll: db.Collection(database.CollectionCampaignsArchive)},
		now:              time.Now,
	}
}

// NewArchiveServiceWithCollections builds the service over explicit
// collections, for tests.
func NewArchiveServiceWithCollections(messages, messagesArchive, campaigns, campaignsArchive ArchiveCollection) *ArchiveService {
	return &ArchiveService{
		messages:         messages,
		messagesArchive:  messagesArchive,
		campaigns:        campaigns,
		campaignsArchive: campaignsArchive,
		now:              time.Now,
	}
}

// SetClock overrides the service clock, for tests.
func (s *ArchiveService) SetClock(now func() time.Time) {
	s.now = now
}

// ArchiveOldMessages archives messages older than the retention threshold
// that are not flagged active.
func (s *ArchiveService) ArchiveOldMessages(ctx context.Context, opts ArchiveOptions) (*ArchiveResult, error) {
	return s.archive(ctx, "messages", s.messages, s.messagesArchive, MessageRetention, MessageArchiveBatch, opts)
}

// ArchiveOldCampaigns archives campaigns older than the retention threshold
// that are not flagged active.
func (s *ArchiveService) ArchiveOldCampaigns(ctx context.Context, opts ArchiveOptions) (*ArchiveResult, error) {
	return s.archive(ctx, "campaigns", s.campaigns, s.campaignsArchive, CampaignRetention, CampaignArchiveBatch, opts)
}

func (s *ArchiveService) archive(ctx context.Context, name string, src, dst ArchiveCollection, retention time.Duration, defaultLimit int, opts ArchiveOptions) (*ArchiveResult, error) {
	limit := opts.Limit
	if limit <= 0 || limit > defaultLimit {
		limit = defaultLimit
	}

	cutoff := s.now().UTC().Add(-retention)
	filter := bson.M{
		"createdAt": bson.M{"$lt": cutoff},
		"isActive":  bson.M{"$ne": true},
	}

	docs, err := src.FindDocs(ctx, filter, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to select %s for archival: %w", name, err)
	}

	result := &ArchiveResult{DryRun: opts.DryRun}
	if len(docs) == 0 {
		return result, nil
	}

	if opts.DryRun {
		// Report the would-be count and touch nothing.
		result.Archived = len(docs)
		log.Printf("📦 [ARCHIVE] Dry run: %d %s eligible (cutoff %s)", len(docs), name, cutoff.Format(time.RFC3339))
		return result, nil
	}

	copies := make([]interface{}, 0, len(docs))
	ids := make([]interface{}, 0, len(docs))
	originalIDs := make([]string, 0, len(docs))
	archivedAt := s.now().UTC()

	for _, doc := range docs {
		id, ok := doc["_id"]
		if !ok {
			result.Errors++
			continue
		}

		copy := bson.M{}
		for field, value := range doc {
			if field == "_id" {
				continue
			}
			copy[field] = value
		}
		copy["archivedAt"] = archivedAt
		copy["originalId"] = idHex(id)

		copies = append(copies, copy)
		ids = append(ids, id)
		originalIDs = append(originalIDs, idHex(id))
	}

	if len(copies) == 0 {
		return result, nil
	}

	// An interrupted earlier run (or a concurrent one) may have saved part
	// of this batch already. Purge those copies first so the unique
	// originalId index cannot reject the retry; their originals are still
	// live, so nothing is lost by replacing them.
	if _, err := dst.DeleteByOriginalIDs(ctx, originalIDs); err != nil {
		result.Errors += len(copies)
		return result, fmt.Errorf("failed to clear stale %s archive copies: %w", name, err)
	}

	// All-or-nothing at the batch level: if the copies did not save, no
	// original may be deleted.
	if err := dst.InsertDocs(ctx, copies); err != nil {
		result.Errors += len(copies)
		return result, fmt.Errorf("failed to save %s archive copies, aborting before delete: %w", name, err)
	}

	deleted, err := src.DeleteByIDs(ctx, ids)
	if err != nil {
		// Copies are durable; originals linger until the next run retries.
		result.Errors += len(ids)
		return result, fmt.Errorf("failed to delete archived %s originals: %w", name, err)
	}

	result.Archived = int(deleted)
	log.Printf("📦 [ARCHIVE] Archived %d %s (cutoff %s)", result.Archived, name, cutoff.Format(time.RFC3339))
	return result, nil
}

// RestoreMessage reconstructs a live message from its archive copy and
// removes the copy.
func (s *ArchiveService) RestoreMessage(ctx context.Context, originalID string) error {
	archived, err := s.messagesArchive.FindOneDoc(ctx, bson.M{"originalId": originalID})
	if err != nil {
		return err
	}
	if archived == nil {
		return ErrArchiveNotFound
	}

	restored := bson.M{}
	for field, value := range archived {
		switch field {
		case "_id", "archivedAt", "originalId":
			continue
		}
		restored[field] = value
	}

	if oid, err := primitive.ObjectIDFromHex(originalID); err == nil {
		restored["_id"] = oid
	}

	if err := s.messages.InsertDocs(ctx, []interface{}{restored}); err != nil {
		return fmt.Errorf("failed to restore message %s: %w", originalID, err)
	}

	if err := s.messagesArchive.DeleteOneDoc(ctx, bson.M{"originalId": originalID}); err != nil {
		// The live record exists again; a dangling archive copy is benign
		// and the unique originalId index stops duplicates.
		log.Printf("⚠️  [ARCHIVE] Restored %s but failed to drop archive copy: %v", originalID, err)
	}

	log.Printf("📦 [ARCHIVE] Restored message %s", originalID)
	return nil
}

func idHex(id interface{}) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}

// mongoArchiveCollection adapts *mongo.Collection to ArchiveCollection.
type mongoArchiveCollection struct {
	coll *mongo.Collection
}

func (m *mongoArchiveCollection) FindDocs(ctx context.Context, filter bson.M, limit int64) ([]bson.M, error) {
	opts := options.Find().SetLimit(limit).SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *mongoArchiveCollection) InsertDocs(ctx context.Context, docs []interface{}) error {
	// Ordered inserts: stop at the first failure so the delete phase never
	// runs against a partially saved batch.
	_, err := m.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	return err
}

func (m *mongoArchiveCollection) DeleteByIDs(ctx context.Context, ids []interface{}) (int64, error) {
	result, err := m.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (m *mongoArchiveCollection) DeleteByOriginalIDs(ctx context.Context, originalIDs []string) (int64, error) {
	result, err := m.coll.DeleteMany(ctx, bson.M{"originalId": bson.M{"$in": originalIDs}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (m *mongoArchiveCollection) FindOneDoc(ctx context.Context, filter bson.M) (bson.M, error) {
	var doc bson.M
	err := m.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (m *mongoArchiveCollection) DeleteOneDoc(ctx context.Context, filter bson.M) error {
	_, err := m.coll.DeleteOne(ctx, filter)
	return err
}

func (m *mongoArchiveCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	return m.coll.CountDocuments(ctx, filter)
}
