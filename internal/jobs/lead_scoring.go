package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/database"
	"leadpulse/internal/models"
	"leadpulse/internal/services"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ScoreMaxAge is how long a lead score stays fresh before rescoring.
const ScoreMaxAge = 24 * time.Hour

// LeadScoringJob finds leads with no score or a stale one, sends them to
// the scoring service in one bounded batch and denormalizes the returned
// scores back onto the lead records.
type LeadScoringJob struct {
	leads   *mongo.Collection
	scoring *services.ScoringService
	tags    *cache.TagIndex
}

// NewLeadScoringJob creates the job.
func NewLeadScoringJob(db *database.MongoDB, scoring *services.ScoringService, tags *cache.TagIndex) *LeadScoringJob {
	return &LeadScoringJob{
		leads:   db.Collection(database.CollectionLeads),
		scoring: scoring,
		tags:    tags,
	}
}

// Run scores one batch of stale leads.
func (j *LeadScoringJob) Run(ctx context.Context) error {
	staleBefore := time.Now().UTC().Add(-ScoreMaxAge)
	filter := bson.M{"$or": []bson.M{
		{"score": bson.M{"$exists": false}},
		{"scoredAt": bson.M{"$exists": false}},
		{"scoredAt": bson.M{"$lt": staleBefore}},
	}}

	opts := options.Find().
		SetLimit(services.MaxScoringBatch).
		SetSort(bson.D{{Key: "scoredAt", Value: 1}})
	cursor, err := j.leads.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("failed to find stale leads: %w", err)
	}
	defer cursor.Close(ctx)

	var leads []models.Lead
	if err := cursor.All(ctx, &leads); err != nil {
		return fmt.Errorf("failed to decode stale leads: %w", err)
	}
	if len(leads) == 0 {
		return nil
	}

	scores, err := j.scoring.ScoreLeads(ctx, leads)
	if err != nil {
		return fmt.Errorf("scoring batch of %d leads failed: %w", len(leads), err)
	}

	scoredAt := time.Now().UTC()
	updated := 0
	for id, score := range scores {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		_, err = j.leads.UpdateByID(ctx, oid, bson.M{"$set": bson.M{
			"score":    score,
			"scoredAt": scoredAt,
		}})
		if err != nil {
			log.Printf("⚠️  [SCORING] Failed to save score for lead %s: %v", id, err)
			continue
		}
		updated++
	}

	if updated > 0 {
		j.tags.InvalidateByTag(ctx, "leads")
	}
	log.Printf("🎯 [SCORING] Scored %d/%d leads", updated, len(leads))
	return nil
}
