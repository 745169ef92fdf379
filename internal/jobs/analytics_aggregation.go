package jobs

import (
	"context"
	"log"
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/services"
)

// AnalyticsAggregationJob rolls up yesterday's lead and message activity
// into the daily analytics collection. Safe to re-run: the rollup is
// upserted by date.
type AnalyticsAggregationJob struct {
	analytics *services.AnalyticsService
	tags      *cache.TagIndex
}

// NewAnalyticsAggregationJob creates the job.
func NewAnalyticsAggregationJob(analytics *services.AnalyticsService, tags *cache.TagIndex) *AnalyticsAggregationJob {
	return &AnalyticsAggregationJob{analytics: analytics, tags: tags}
}

// Run aggregates the previous UTC day.
func (j *AnalyticsAggregationJob) Run(ctx context.Context) error {
	yesterday := time.Now().UTC().AddDate(0, 0, -1)

	rollup, err := j.analytics.AggregateDay(ctx, yesterday)
	if err != nil {
		return err
	}

	// Cached analytics views now show stale numbers for this day.
	if dropped := j.tags.InvalidateByTag(ctx, "analytics"); dropped > 0 {
		log.Printf("📊 [ANALYTICS] Invalidated %d cached analytics responses", dropped)
	}

	log.Printf("📊 [ANALYTICS] Aggregated %s: %d leads, %d messages",
		rollup.Date, rollup.TotalLeads, rollup.TotalMessages)
	return nil
}
