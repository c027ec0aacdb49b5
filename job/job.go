// Package job defines the job entity, its status machine, and the progress
// events emitted while a job moves through the pipeline.
package job

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is one of the five legal statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether a job in this status has finished the pipeline.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// CanTransition reports whether the status DAG permits from → to.
// Legal edges: pending → running → {completed, failed} → expired.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed:
		return to == StatusExpired
	}
	return false
}

// Job is the durable record for a single pipeline invocation.
// Nullable columns map to pointers; timestamps are stored in UTC.
type Job struct {
	ID           string     `db:"id" json:"id"`
	Prompt       string     `db:"prompt" json:"prompt"`
	Model        string     `db:"model" json:"model"`
	Status       Status     `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	StartedAt    *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	PreviewURL   *string    `db:"preview_url" json:"previewUrl,omitempty"`
	DeployedURL  *string    `db:"deployed_url" json:"deployedUrl,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"errorMessage,omitempty"`
	FileCount    *int       `db:"file_count" json:"fileCount,omitempty"`
	LinesOfCode  *int       `db:"lines_of_code" json:"linesOfCode,omitempty"`

	PromptTokens      *int     `db:"prompt_tokens" json:"promptTokens,omitempty"`
	CompletionTokens  *int     `db:"completion_tokens" json:"completionTokens,omitempty"`
	TotalTokens       *int     `db:"total_tokens" json:"totalTokens,omitempty"`
	Cost              *float64 `db:"cost" json:"cost,omitempty"`
	LLMLatencyMs      *int64   `db:"llm_latency_ms" json:"llmLatencyMs,omitempty"`
	InstallDurationMs *int64   `db:"install_duration_ms" json:"installDurationMs,omitempty"`
	BuildDurationMs   *int64   `db:"build_duration_ms" json:"buildDurationMs,omitempty"`
	DeployDurationMs  *int64   `db:"deploy_duration_ms" json:"deployDurationMs,omitempty"`
	TotalDurationMs   *int64   `db:"total_duration_ms" json:"totalDurationMs,omitempty"`

	BuildLogKey  *string `db:"build_log_key" json:"buildLogKey,omitempty"`
	DeployLogKey *string `db:"deploy_log_key" json:"deployLogKey,omitempty"`
	WorkerName   *string `db:"worker_name" json:"workerName,omitempty"`
}

// ListItem is the truncated projection returned by job listings.
type ListItem struct {
	ID          string    `db:"id" json:"id"`
	Prompt      string    `db:"prompt" json:"prompt"`
	Model       string    `db:"model" json:"model"`
	Status      Status    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	DeployedURL *string   `db:"deployed_url" json:"deployedUrl,omitempty"`
}

// NewID returns a fresh job identifier of the form job_xxxxxxxx,
// where the suffix is eight lowercase hex characters.
func NewID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "job_" + raw[:8]
}

// WorkerName derives the deterministic, DNS-label-safe edge-worker name for
// a job id. job_ab12cd34 → nimbus-ab12cd34.
func WorkerName(jobID string) string {
	suffix := strings.TrimPrefix(jobID, "job_")
	suffix = strings.ToLower(suffix)
	return "nimbus-" + suffix
}

// GeneratedFile is a single project-relative file emitted by the LLM.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CountLines sums newline counts across file contents.
func CountLines(files []GeneratedFile) int {
	total := 0
	for _, f := range files {
		total += strings.Count(f.Content, "\n")
	}
	return total
}
