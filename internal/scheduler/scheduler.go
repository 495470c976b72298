package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/taskweave/internal/service"
	"github.com/rendis/taskweave/internal/store"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/schema"
)

// DefaultInterval is how often the store is polled for due jobs.
const DefaultInterval = 60 * time.Second

// StatusError is recorded when a job could not be executed at all
// (unknown workflow, store failure) as opposed to an execution that failed.
const StatusError = "error"

// WorkflowRunner executes stored workflows. Satisfied by *service.Runner.
type WorkflowRunner interface {
	ExecuteStored(ctx context.Context, name string, inputs map[string]string) (*service.ExecutionResult, error)
}

// JobStore is the subset of store.Store the scheduler needs.
type JobStore interface {
	CreateScheduledJob(ctx context.Context, job *store.ScheduledJob) error
	ListScheduledJobs(ctx context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update store.ScheduledJobUpdate) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithHub publishes a schedule_triggered event for every run.
func WithHub(hub streaming.EventHub) Option {
	return func(s *Scheduler) { s.hub = hub }
}

// Scheduler polls the store for due scheduled jobs and runs them.
type Scheduler struct {
	store    JobStore
	runner   WorkflowRunner
	hub      streaming.EventHub
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s JobStore, runner WorkflowRunner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	sched := &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		interval: DefaultInterval,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Schedule validates the cron expression, fills in ID, CreatedAt and the
// first NextRunAt, and persists the job.
func (s *Scheduler) Schedule(ctx context.Context, job *store.ScheduledJob) error {
	now := time.Now().UTC()
	next, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.NextRunAt = &next
	return s.store.CreateScheduledJob(ctx, job)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled job whose NextRunAt has passed. A job that has
// never been scheduled (nil NextRunAt) counts as due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// runJob executes a scheduled job and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("workflow", job.Workflow),
	)

	res, err := s.runner.ExecuteStored(ctx, job.Workflow, job.Inputs)
	status := StatusError
	if res != nil {
		status = string(res.Status)
	}
	if err != nil {
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", job.ID),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}
	s.publish(ctx, job, res, status)

	return s.updateJobStatus(ctx, job, now, status)
}

func (s *Scheduler) publish(ctx context.Context, job *store.ScheduledJob, res *service.ExecutionResult, status string) {
	if s.hub == nil {
		return
	}
	ev := streaming.NewEvent(ctx, schema.EventScheduleTriggered)
	ev.Workflow = job.Workflow
	payload := map[string]any{
		"job_id": job.ID,
		"cron":   job.CronExpression,
		"status": status,
	}
	if res != nil {
		ev.ExecutionID = res.ExecutionID
		payload["result"] = res.Result
	}
	ev.Payload = payload
	if err := s.hub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("schedule event dropped", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledJob, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs, once, every job whose NextRunAt passed while the
// process was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		err := s.runJob(ctx, job, now)
		s.releaseJob(job.ID)
		if err != nil {
			s.logger.Error("failed to recover missed job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return nil
}
