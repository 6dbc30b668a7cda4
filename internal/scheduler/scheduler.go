// Package scheduler runs the periodic sync and cleanup jobs behind `skein watch`.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"skein-go/internal/skein"
)

// DefaultJobTimeout bounds a single run of a scheduled job.
const DefaultJobTimeout = 10 * time.Minute

// Job is a scheduled task.
type Job func(ctx context.Context) error

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

// Scheduler runs named jobs on cron schedules. A job still running when its
// next tick arrives is skipped rather than run twice.
type Scheduler struct {
	cron    *cron.Cron
	logger  skein.Logger
	timeout time.Duration

	mu        sync.Mutex
	jobs      map[string]cron.EntryID
	schedules map[string]string
	base      context.Context
	cancel    context.CancelFunc
}

// New creates a scheduler evaluating schedules in timezone.
func New(timezone string, logger skein.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	logger = skein.OrNop(logger)

	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:    logger,
		timeout:   DefaultJobTimeout,
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		base:      base,
		cancel:    cancel,
	}, nil
}

// SetJobTimeout changes the per-run timeout for jobs added afterwards.
func (s *Scheduler) SetJobTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// AddJob schedules job under name. schedule uses the standard five-field
// cron format, e.g. "*/15 * * * *".
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}

	timeout := s.timeout
	entryID, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(s.base, timeout)
		defer cancel()
		s.run(ctx, name, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	s.schedules[name] = schedule
	s.logger.Info("scheduled job", "job", name, "schedule", schedule)
	return nil
}

// RemoveJob unschedules name. Removing an unknown job is a no-op.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		delete(s.schedules, name)
		s.logger.Info("removed job", "job", name)
	}
}

// RunNow runs job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string, job Job) error {
	s.logger.Info("running job now", "job", name)
	return s.run(ctx, name, job)
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) error {
	s.logger.Debug("starting job", "job", name)
	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "error", err)
		return err
	}
	s.logger.Info("job completed", "job", name, "duration", time.Since(start))
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler, cancels running jobs, and returns a context
// that is done once they have returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("stopping scheduler")
	done := s.cron.Stop()
	s.cancel()
	return done
}

// ListJobs returns scheduled jobs ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: s.schedules[name],
			NextRun:  entry.Next,
			LastRun:  entry.Prev,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
