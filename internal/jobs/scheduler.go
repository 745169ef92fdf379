package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"leadpulse/internal/logging"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled background work.
type Job interface {
	Run(ctx context.Context) error
}

// RunRecorder receives the outcome of every job run.
type RunRecorder interface {
	RecordJobRun(job string, err error, duration time.Duration)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type scheduledJob struct {
	job      Job
	expr     string
	schedule cron.Schedule
	lastRun  time.Time
	lastErr  string
}

// Scheduler runs registered jobs on their cron schedules. Each job gets its
// own timer armed for the next cron fire and re-armed after every run. One
// job's failure is recorded and logged but never stops the others.
type Scheduler struct {
	jobs    map[string]*scheduledJob
	timers  map[string]*time.Timer
	metrics RunRecorder
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewScheduler creates an empty scheduler. metrics may be nil.
func NewScheduler(metrics RunRecorder) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:    make(map[string]*scheduledJob),
		timers:  make(map[string]*time.Timer),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a job under a 5-field cron expression.
func (s *Scheduler) Register(name, cronExpr string, job Job) error {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for job %s: %w", cronExpr, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[name] = &scheduledJob{job: job, expr: cronExpr, schedule: schedule}
	log.Printf("✅ [SCHEDULER] Registered job: %s (%s)", name, cronExpr)

	if s.running {
		s.scheduleJob(name, s.jobs[name])
	}
	return nil
}

// Start arms a timer for every registered job. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.jobs))

	for name, sj := range s.jobs {
		s.scheduleJob(name, sj)
	}
}

// scheduleJob arms the timer for a job's next cron fire. Caller holds mu.
func (s *Scheduler) scheduleJob(name string, sj *scheduledJob) {
	nextRun := sj.schedule.Next(time.Now())
	duration := time.Until(nextRun)

	log.Printf("⏰ [SCHEDULER] Job '%s' scheduled to run at %s (in %v)",
		name, nextRun.Format(time.RFC3339), duration.Round(time.Second))

	s.timers[name] = time.AfterFunc(duration, func() {
		s.runJob(name, sj)
	})
}

// runJob executes a job and re-arms its timer.
func (s *Scheduler) runJob(name string, sj *scheduledJob) {
	// A timer can fire while Stop holds the lock. Joining the wait group
	// under the same lock means Stop either waits for this run or this run
	// sees the stopped flag and never reaches the handler.
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	runID := uuid.NewString()[:8]
	logger := logging.WithJob(name, runID)
	logger.Info("job starting")
	startTime := time.Now()

	err := sj.job.Run(s.ctx)
	duration := time.Since(startTime)

	if err != nil {
		logger.Error("job failed", "error", err, "duration", duration)
	} else {
		logger.Info("job completed", "duration", duration)
	}
	if s.metrics != nil {
		s.metrics.RecordJobRun(name, err, duration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sj.lastRun = startTime
	if err != nil {
		sj.lastErr = err.Error()
	} else {
		sj.lastErr = ""
	}

	if s.running {
		s.scheduleJob(name, sj)
	}
}

// Stop stops every timer, cancels the shared context and waits for
// in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.running = false

	for name, timer := range s.timers {
		timer.Stop()
		log.Printf("⏹️  [SCHEDULER] Stopped job: %s", name)
	}
	s.timers = make(map[string]*time.Timer)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	log.Println("✅ [SCHEDULER] Job scheduler stopped")
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	sj, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("unknown job: %s", name)
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	startTime := time.Now()
	err := sj.job.Run(s.ctx)
	duration := time.Since(startTime)

	if s.metrics != nil {
		s.metrics.RecordJobRun(name, err, duration)
	}

	s.mu.Lock()
	sj.lastRun = startTime
	if err != nil {
		sj.lastErr = err.Error()
	} else {
		sj.lastErr = ""
	}
	s.mu.Unlock()

	return err
}

// JobStatus reports one job's schedule state.
type JobStatus struct {
	Name        string    `json:"name"`
	Expression  string    `json:"expression"`
	NextRunTime time.Time `json:"next_run_time"`
	LastRunTime time.Time `json:"last_run_time,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// GetStatus returns the status of all registered jobs.
func (s *Scheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]JobStatus, len(s.jobs))
	for name, sj := range s.jobs {
		status[name] = JobStatus{
			Name:        name,
			Expression:  sj.expr,
			NextRunTime: sj.schedule.Next(time.Now()),
			LastRunTime: sj.lastRun,
			LastError:   sj.lastErr,
		}
	}
	return status
}
