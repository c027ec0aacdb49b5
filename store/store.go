// Package store persists jobs in Postgres. All writes are single-row
// named-parameter statements; status transitions are enforced in the
// WHERE clause so a stale writer cannot move a job backwards.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/c360studio/nimbus/job"
)

// ErrNotFound is returned when a job id has no row.
var ErrNotFound = errors.New("job not found")

// ErrConflict is returned when a transition's precondition status does not
// hold, either because the row is missing or another writer got there first.
var ErrConflict = errors.New("job status conflict")

// listPromptLimit is the prompt length shown in listings before truncation.
const listPromptLimit = 100

// Store wraps the jobs table.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to Postgres and verifies the connection.
func Open(databaseURL string, opts ...Option) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the jobs table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate jobs table: %w", err)
	}
	return nil
}

// CreateJob inserts a fresh pending row.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	const query = `
		INSERT INTO jobs (id, prompt, model, status, created_at)
		VALUES (:id, :prompt, :model, :status, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, j); err != nil {
		return fmt.Errorf("create job %s: %w", j.ID, err)
	}
	return nil
}

// GetJob fetches the full row for a job id.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	var j job.Job
	err := s.db.GetContext(ctx, &j, `SELECT * FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &j, nil
}

// ListJobs returns the newest jobs first, with prompts truncated for
// display. limit <= 0 falls back to 50.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]job.ListItem, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, prompt, model, status, created_at, deployed_url
		FROM jobs
		ORDER BY created_at DESC
		LIMIT $1`
	items := []job.ListItem{}
	if err := s.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	for i := range items {
		items[i].Prompt = truncatePrompt(items[i].Prompt)
	}
	return items, nil
}

// MarkRunning moves a pending job to running.
func (s *Store) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	const query = `
		UPDATE jobs
		SET status = :status, started_at = :started_at
		WHERE id = :id AND status = :from_status`
	arg := map[string]any{
		"id":          id,
		"status":      job.StatusRunning,
		"started_at":  startedAt.UTC(),
		"from_status": job.StatusPending,
	}
	return s.transition(ctx, "mark running", query, arg)
}

// Completion carries everything written in the single terminal update of a
// successful job.
type Completion struct {
	CompletedAt  time.Time
	ExpiresAt    time.Time
	PreviewURL   string
	DeployedURL  string
	WorkerName   string
	BuildLogKey  *string
	DeployLogKey *string
	Metrics      job.Metrics
}

// MarkCompleted moves a running job to completed, recording URLs, metrics,
// archive keys, and the expiry deadline in one statement.
func (s *Store) MarkCompleted(ctx context.Context, id string, c Completion) error {
	const query = `
		UPDATE jobs
		SET status = :status,
		    completed_at = :completed_at,
		    expires_at = :expires_at,
		    preview_url = :preview_url,
		    deployed_url = :deployed_url,
		    worker_name = :worker_name,
		    build_log_key = :build_log_key,
		    deploy_log_key = :deploy_log_key,
		    file_count = :file_count,
		    lines_of_code = :lines_of_code,
		    prompt_tokens = :prompt_tokens,
		    completion_tokens = :completion_tokens,
		    total_tokens = :total_tokens,
		    cost = :cost,
		    llm_latency_ms = :llm_latency_ms,
		    install_duration_ms = :install_duration_ms,
		    build_duration_ms = :build_duration_ms,
		    deploy_duration_ms = :deploy_duration_ms,
		    total_duration_ms = :total_duration_ms
		WHERE id = :id AND status = :from_status`
	arg := map[string]any{
		"id":                  id,
		"status":              job.StatusCompleted,
		"from_status":         job.StatusRunning,
		"completed_at":        c.CompletedAt.UTC(),
		"expires_at":          c.ExpiresAt.UTC(),
		"preview_url":         c.PreviewURL,
		"deployed_url":        c.DeployedURL,
		"worker_name":         c.WorkerName,
		"build_log_key":       c.BuildLogKey,
		"deploy_log_key":      c.DeployLogKey,
		"file_count":          c.Metrics.FileCount,
		"lines_of_code":       c.Metrics.LinesOfCode,
		"prompt_tokens":       c.Metrics.PromptTokens,
		"completion_tokens":   c.Metrics.CompletionTokens,
		"total_tokens":        c.Metrics.TotalTokens,
		"cost":                c.Metrics.Cost,
		"llm_latency_ms":      c.Metrics.LLMLatencyMs,
		"install_duration_ms": c.Metrics.InstallDurationMs,
		"build_duration_ms":   c.Metrics.BuildDurationMs,
		"deploy_duration_ms":  c.Metrics.DeployDurationMs,
		"total_duration_ms":   c.Metrics.TotalDurationMs,
	}
	return s.transition(ctx, "mark completed", query, arg)
}

// Failure carries the terminal update of a failed job. Log keys are set
// only when the failure-path archive succeeded.
type Failure struct {
	CompletedAt  time.Time
	ExpiresAt    time.Time
	Message      string
	WorkerName   *string
	BuildLogKey  *string
	DeployLogKey *string
}

// MarkFailed moves a running job to failed.
func (s *Store) MarkFailed(ctx context.Context, id string, f Failure) error {
	const query = `
		UPDATE jobs
		SET status = :status,
		    completed_at = :completed_at,
		    expires_at = :expires_at,
		    error_message = :error_message,
		    worker_name = :worker_name,
		    build_log_key = :build_log_key,
		    deploy_log_key = :deploy_log_key
		WHERE id = :id AND status = :from_status`
	arg := map[string]any{
		"id":             id,
		"status":         job.StatusFailed,
		"from_status":    job.StatusRunning,
		"completed_at":   f.CompletedAt.UTC(),
		"expires_at":     f.ExpiresAt.UTC(),
		"error_message":  f.Message,
		"worker_name":    f.WorkerName,
		"build_log_key":  f.BuildLogKey,
		"deploy_log_key": f.DeployLogKey,
	}
	return s.transition(ctx, "mark failed", query, arg)
}

// LogKeys is the pair of archive object keys recorded for a job.
type LogKeys struct {
	BuildLogKey  *string `db:"build_log_key"`
	DeployLogKey *string `db:"deploy_log_key"`
}

// GetJobLogKeys returns the archive keys for a job without loading the row.
func (s *Store) GetJobLogKeys(ctx context.Context, id string) (LogKeys, error) {
	var keys LogKeys
	err := s.db.GetContext(ctx, &keys,
		`SELECT build_log_key, deploy_log_key FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return LogKeys{}, ErrNotFound
	}
	if err != nil {
		return LogKeys{}, fmt.Errorf("get log keys for %s: %w", id, err)
	}
	return keys, nil
}

// ListExpirable returns terminal jobs whose retention window has lapsed,
// oldest first, capped at limit.
func (s *Store) ListExpirable(ctx context.Context, now time.Time, limit int) ([]job.Job, error) {
	const query = `
		SELECT * FROM jobs
		WHERE status IN ('completed', 'failed') AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`
	jobs := []job.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, now.UTC(), limit); err != nil {
		return nil, fmt.Errorf("list expirable jobs: %w", err)
	}
	return jobs, nil
}

// MarkExpired moves a completed or failed job to expired after its worker
// and archived logs have been removed.
func (s *Store) MarkExpired(ctx context.Context, id string) error {
	const query = `
		UPDATE jobs
		SET status = :status
		WHERE id = :id AND status IN ('completed', 'failed')`
	arg := map[string]any{
		"id":     id,
		"status": job.StatusExpired,
	}
	return s.transition(ctx, "mark expired", query, arg)
}

// transition runs a guarded status update and maps a zero-row result to
// ErrConflict.
func (s *Store) transition(ctx context.Context, op, query string, arg map[string]any) error {
	result, err := s.db.NamedExecContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, arg["id"], err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, arg["id"], err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", op, arg["id"], ErrConflict)
	}
	return nil
}

// truncatePrompt shortens a prompt to the listing limit, appending an
// ellipsis only when something was cut.
func truncatePrompt(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= listPromptLimit {
		return prompt
	}
	return string(runes[:listPromptLimit]) + "…"
}
