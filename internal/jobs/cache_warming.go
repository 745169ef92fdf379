package jobs

import (
	"context"

	"leadpulse/internal/services"
)

// CacheWarmingJob re-primes the response cache's hot keys ahead of expiry
// so user-facing requests rarely see a cold miss.
type CacheWarmingJob struct {
	warming *services.WarmingService
}

// NewCacheWarmingJob creates the job.
func NewCacheWarmingJob(warming *services.WarmingService) *CacheWarmingJob {
	return &CacheWarmingJob{warming: warming}
}

// Run primes all hot keys.
func (j *CacheWarmingJob) Run(ctx context.Context) error {
	return j.warming.WarmAll(ctx)
}
