package jobs

import (
	"context"
	"fmt"

	"leadpulse/internal/services"
)

// TokenRefreshJob keeps OAuth connections alive by refreshing tokens that
// expire within the next hour. Individual failures are counted, not fatal.
type TokenRefreshJob struct {
	tokens *services.TokenService
}

// NewTokenRefreshJob creates the job.
func NewTokenRefreshJob(tokens *services.TokenService) *TokenRefreshJob {
	return &TokenRefreshJob{tokens: tokens}
}

// Run performs one refresh sweep.
func (j *TokenRefreshJob) Run(ctx context.Context) error {
	report, err := j.tokens.RefreshExpiring(ctx)
	if err != nil {
		return err
	}
	if report.Failed > 0 && report.Refreshed == 0 {
		// Every item failed, likely a systemic problem worth surfacing.
		return fmt.Errorf("all %d token refreshes failed", report.Failed)
	}
	return nil
}
