package services

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper runs the periodic in-process cache maintenance: proactive
// eviction of expired catalog and template entries. Correctness never
// depends on it (reads check expiry lazily); it exists for memory hygiene.
// Unlike a bare time.Ticker it is a handle that shuts down cleanly, so
// tests and graceful shutdown never leak timers.
type Sweeper struct {
	scheduler gocron.Scheduler
	products  *ProductCacheService
	templates *TemplateCacheService
}

// NewSweeper builds the sweeper with the given interval between sweeps.
func NewSweeper(products *ProductCacheService, templates *TemplateCacheService, interval time.Duration) (*Sweeper, error) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep scheduler: %w", err)
	}

	s := &Sweeper{
		scheduler: scheduler,
		products:  products,
		templates: templates,
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.sweep),
		gocron.WithName("cache-sweep"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register sweep job: %w", err)
	}

	return s, nil
}

// Start begins sweeping.
func (s *Sweeper) Start() {
	s.scheduler.Start()
	log.Println("🧹 [SWEEPER] In-process cache sweeper started")
}

// Stop cancels the sweep timer and waits for an in-flight sweep.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep() {
	s.products.Cleanup()
	s.templates.Cleanup()
	log.Println("🧹 [SWEEPER] Evicted expired in-process cache entries")
}
