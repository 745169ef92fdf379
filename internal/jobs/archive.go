package jobs

import (
	"context"
	"log"

	"leadpulse/internal/services"
)

// ArchiveJob moves aged campaigns and messages into their archive
// collections, one bounded batch of each per run.
type ArchiveJob struct {
	archive *services.ArchiveService
}

// NewArchiveJob creates the job.
func NewArchiveJob(archive *services.ArchiveService) *ArchiveJob {
	return &ArchiveJob{archive: archive}
}

// Run archives one batch of campaigns, then one of messages. A campaign
// failure does not skip the message batch.
func (j *ArchiveJob) Run(ctx context.Context) error {
	var firstErr error

	campaigns, err := j.archive.ArchiveOldCampaigns(ctx, services.ArchiveOptions{})
	if err != nil {
		firstErr = err
		log.Printf("❌ [ARCHIVE] Campaign batch failed: %v", err)
	} else if campaigns.Archived > 0 {
		log.Printf("📦 [ARCHIVE] Archived %d campaigns", campaigns.Archived)
	}

	messages, err := j.archive.ArchiveOldMessages(ctx, services.ArchiveOptions{})
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		log.Printf("❌ [ARCHIVE] Message batch failed: %v", err)
	} else if messages.Archived > 0 {
		log.Printf("📦 [ARCHIVE] Archived %d messages", messages.Archived)
	}

	return firstErr
}
