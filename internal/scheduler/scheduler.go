// Package scheduler runs named background jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scheduler wraps a gocron scheduler. Jobs run in singleton mode: a tick that fires while
// the previous run is still going is skipped.
type Scheduler struct {
	scheduler gocron.Scheduler
	mu        sync.Mutex
	jobs      map[string]gocron.Job
	log       zerolog.Logger
}

// New creates a stopped Scheduler.
func New(log zerolog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		log:       log.With().Str("component", "scheduler").Logger(),
	}, nil
}

// AddCron registers job under name. ctx is handed to every run.
func (s *Scheduler) AddCron(ctx context.Context, name, cronExpr string, job func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job with name %s already exists", name)
	}

	wrapped := func(ctx context.Context) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("event", "job_panic").Str("job", name).Interface("panic", r).Send()
			}
		}()
		if err := job(ctx); err != nil {
			s.log.Error().Str("event", "job_failed").Str("job", name).Err(err).
				Int64("duration_ms", time.Since(start).Milliseconds()).Send()
			return
		}
		s.log.Info().Str("event", "job_done").Str("job", name).
			Int64("duration_ms", time.Since(start).Milliseconds()).Send()
	}

	j, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(wrapped, ctx),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(
			gocron.BeforeJobRuns(func(jobID uuid.UUID, jobName string) {
				s.log.Info().Str("event", "job_start").Str("job", jobName).Str("job_id", jobID.String()).Send()
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.jobs[name] = j

	next, _ := j.NextRun()
	s.log.Info().Str("event", "job_added").Str("job", name).Str("cron", cronExpr).Time("next_run", next).Send()
	return nil
}

// RunNow triggers the named job outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job with name %s does not exist", name)
	}
	return j.RunNow()
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown stops the scheduler and waits for running jobs to return.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
