// Package sweeper expires finished jobs after their retention window: the
// deployed worker is deleted, archived logs are removed, and the row moves
// to expired.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/c360studio/nimbus/job"
	"github.com/c360studio/nimbus/metrics"
)

// defaultBatchSize caps jobs handled per pass.
const defaultBatchSize = 50

// Store is the slice of the job store the sweeper uses.
type Store interface {
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]job.Job, error)
	MarkExpired(ctx context.Context, id string) error
}

// WorkerDeleter removes deployed worker scripts. A missing script must
// count as success.
type WorkerDeleter interface {
	DeleteWorker(ctx context.Context, name string) error
}

// LogDeleter removes archived log objects. A missing object must count as
// success.
type LogDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Result summarizes one sweep pass.
type Result struct {
	Scanned int
	Expired int
	Skipped int
}

// Sweeper runs expiry passes, either on demand or on a cron schedule.
type Sweeper struct {
	store     Store
	workers   WorkerDeleter
	logs      LogDeleter
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithBatchSize caps jobs per pass.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New creates a Sweeper.
func New(st Store, workers WorkerDeleter, logs LogDeleter, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     st,
		workers:   workers,
		logs:      logs,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one expiry pass. Failures on one row never block the others,
// and a re-run over the same rows is harmless.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	jobs, err := s.store.ListExpirable(ctx, time.Now(), s.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("list expirable jobs: %w", err)
	}

	result := Result{Scanned: len(jobs)}
	for i := range jobs {
		if err := s.expire(ctx, &jobs[i]); err != nil {
			s.logger.Warn("Skipping job this pass", "job_id", jobs[i].ID, "error", err)
			result.Skipped++
			continue
		}
		result.Expired++
	}

	if result.Expired > 0 {
		metrics.SweeperExpired(result.Expired)
	}
	if result.Scanned > 0 {
		s.logger.Info("Sweep finished",
			"scanned", result.Scanned, "expired", result.Expired, "skipped", result.Skipped)
	}
	return result, nil
}

// expire removes one job's worker and logs, then marks the row expired.
// Any failure leaves the row untouched so the next pass retries it.
func (s *Sweeper) expire(ctx context.Context, j *job.Job) error {
	// Rows without a worker_name never got a worker deployed; don't
	// issue delete calls on a guessed name.
	if j.WorkerName != nil && *j.WorkerName != "" {
		if err := s.workers.DeleteWorker(ctx, *j.WorkerName); err != nil {
			return fmt.Errorf("delete worker %s: %w", *j.WorkerName, err)
		}
	}

	for _, key := range []*string{j.BuildLogKey, j.DeployLogKey} {
		if key == nil {
			continue
		}
		if err := s.logs.Delete(ctx, *key); err != nil {
			return fmt.Errorf("delete log %s: %w", *key, err)
		}
	}

	if err := s.store.MarkExpired(ctx, j.ID); err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	s.logger.Debug("Expired job", "job_id", j.ID)
	return nil
}

// Start schedules recurring passes with the given cron expression.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.Run(ctx); err != nil {
			s.logger.Error("Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("Sweeper started", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Sweeper stopped")
}
