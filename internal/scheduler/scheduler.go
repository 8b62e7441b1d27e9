// Package scheduler triggers the periodic upstream model sync.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mileusna/crontab"

	"model_registry/internal/utils"
)

const (
	DefaultSchedule   = "0 3 * * *" // daily at 03:00
	DefaultJobTimeout = 10 * time.Minute
)

// Syncer is the sync entry point the scheduler calls
type Syncer interface {
	SyncModels(ctx context.Context) error
}

// Config controls the sync schedule
type Config struct {
	Schedule    string
	JobTimeout  time.Duration
	SyncOnStart bool
}

// Scheduler runs the model sync on a cron schedule
type Scheduler struct {
	ctab   *crontab.Crontab
	syncer Syncer
	config Config
	logger *utils.Logger

	mu      sync.Mutex
	stopped bool
	jobs    sync.WaitGroup
}

// New validates the schedule and registers the sync job.
func New(syncer Syncer, config Config) (*Scheduler, error) {
	config.Schedule = strings.TrimSpace(config.Schedule)
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultJobTimeout
	}

	s := &Scheduler{
		ctab:   crontab.New(),
		syncer: syncer,
		config: config,
		logger: utils.NewLogger("scheduler"),
	}
	if err := s.ctab.AddJob(config.Schedule, s.syncJob); err != nil {
		s.ctab.Shutdown()
		return nil, fmt.Errorf("invalid sync schedule %q: %w", config.Schedule, err)
	}
	return s, nil
}

// Run blocks until ctx is done, then stops the schedule and waits for a
// running job.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.config.SyncOnStart {
		s.syncJob()
	}
	s.logger.Info("Model sync scheduled", "schedule", s.config.Schedule)

	<-ctx.Done()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.ctab.Shutdown()
	s.jobs.Wait()
	return nil
}

// RunNow fires every scheduled job immediately without waiting for it.
func (s *Scheduler) RunNow() {
	s.ctab.RunAll()
}

// Wait blocks until jobs started so far have finished
func (s *Scheduler) Wait() {
	s.jobs.Wait()
}

// begin registers a job unless the scheduler is stopping. Add happens under
// the same lock that sets stopped, so it never races the final Wait.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.jobs.Add(1)
	return true
}

func (s *Scheduler) syncJob() {
	if !s.begin() {
		s.logger.Debug("Scheduler stopped, skipping model sync")
		return
	}
	defer s.jobs.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	start := time.Now()
	if err := s.syncer.SyncModels(ctx); err != nil {
		s.logger.Error("Scheduled model sync failed", "error", err)
		return
	}
	s.logger.Info("Scheduled model sync finished", "duration", time.Since(start).String())
}
