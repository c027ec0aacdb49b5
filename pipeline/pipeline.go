// Package pipeline drives a job through generate, build, deploy, archive,
// and finalize. One Run per job, strictly sequential; progress flows to the
// caller through a Sink while the store is updated alongside.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/nimbus/archive"
	"github.com/c360studio/nimbus/deploy"
	"github.com/c360studio/nimbus/framework"
	"github.com/c360studio/nimbus/job"
	"github.com/c360studio/nimbus/llm"
	"github.com/c360studio/nimbus/metrics"
	"github.com/c360studio/nimbus/sandbox"
	"github.com/c360studio/nimbus/store"
)

// retention is how long a finished job's worker and logs are kept.
const retention = 24 * time.Hour

// Sink receives progress events. Send errors mean the consumer is gone;
// the pipeline keeps running regardless.
type Sink interface {
	Send(job.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(job.Event) error

func (f SinkFunc) Send(ev job.Event) error {
	return f(ev)
}

// Store is the slice of the job store the pipeline writes to.
type Store interface {
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, c store.Completion) error
	MarkFailed(ctx context.Context, id string, f store.Failure) error
}

// Generator produces a file tree from a prompt.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error)
}

// Archiver persists log tails past sandbox teardown.
type Archiver interface {
	Put(ctx context.Context, key, content string) error
}

// Deployer publishes a built sandbox.
type Deployer interface {
	Deploy(ctx context.Context, sb *sandbox.Sandbox) (*deploy.Result, error)
}

// Pipeline wires the stage drivers together.
type Pipeline struct {
	store    Store
	archive  Archiver
	llm      Generator
	sandbox  *sandbox.Driver
	deployer Deployer
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a Pipeline.
func New(st Store, ar Archiver, gen Generator, sb *sandbox.Driver, dep Deployer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    st,
		archive:  ar,
		llm:      gen,
		sandbox:  sb,
		deployer: dep,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the full pipeline for an accepted job. It emits exactly one
// terminal event (complete or error) and always tears the sandbox down.
// The context should not be tied to the client connection; a disconnected
// consumer must not cancel a build in flight.
func (p *Pipeline) Run(ctx context.Context, j *job.Job, sink Sink) {
	emit := func(ev job.Event) {
		if err := sink.Send(ev); err != nil {
			p.logger.Debug("Progress consumer gone", "job_id", j.ID, "event", string(ev.Type))
		}
	}

	start := time.Now()
	if err := p.store.MarkRunning(ctx, j.ID, start); err != nil {
		p.logger.Error("Mark running failed", "job_id", j.ID, "error", err)
		emit(job.Event{Type: job.EventError, Message: "job could not be started"})
		return
	}

	var sb *sandbox.Sandbox
	defer func() {
		if sb == nil {
			return
		}
		if err := sb.Destroy(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("Sandbox destroy failed", "job_id", j.ID, "sandbox_id", sb.ID(), "error", err)
		}
	}()

	// Generate.
	emit(job.Event{Type: job.EventGenerating})
	genStart := time.Now()
	result, err := p.llm.Generate(ctx, llm.GenerateRequest{
		Model:        j.Model,
		SystemPrompt: systemPrompt(j.Prompt),
		Prompt:       j.Prompt,
	})
	if err != nil {
		p.fail(ctx, j, sb, start, fmt.Errorf("generate: %w", err), emit)
		return
	}
	metrics.ObserveStage("generate", time.Since(genStart))
	metrics.AddLLMTokens(result.Usage.PromptTokens, result.Usage.CompletionTokens)
	emit(job.Event{Type: job.EventGenerated, FileCount: len(result.Files)})

	files, resolution := framework.Normalize(result.Files, j.Prompt)
	linesOfCode := job.CountLines(files)
	p.logger.Info("Generated project",
		"job_id", j.ID,
		"framework", resolution.FrameworkID(),
		"target", string(resolution.Config.Target),
		"files", len(files))

	// Build.
	sb, err = p.sandbox.Provision(ctx)
	if err != nil {
		p.fail(ctx, j, sb, start, fmt.Errorf("provision sandbox: %w", err), emit)
		return
	}
	buildStart := time.Now()
	buildResult, err := sb.Build(ctx, j.ID, files, resolution.Config, sandbox.EmitFunc(emit))
	if err != nil {
		p.fail(ctx, j, sb, start, err, emit)
		return
	}
	metrics.ObserveStage("build", time.Since(buildStart))

	// Deploy.
	emit(job.Event{Type: job.EventDeploying})
	deployStart := time.Now()
	deployResult, err := p.deployer.Deploy(ctx, sb)
	if err != nil {
		p.fail(ctx, j, sb, start, err, emit)
		return
	}
	deployDuration := time.Since(deployStart)
	metrics.ObserveStage("deploy", deployDuration)
	emit(job.Event{Type: job.EventDeployed, DeployedURL: deployResult.DeployedURL})

	// Archive. Best effort: a failed upload leaves the key null.
	buildLogKey := p.archiveLog(ctx, j.ID, archive.BuildLogKey(j.ID), sb.ReadLogTail(ctx, "build"))
	deployLogKey := p.archiveLog(ctx, j.ID, archive.DeployLogKey(j.ID), deployResult.DeployLog)

	// Finalize.
	completedAt := time.Now()
	jobMetrics := job.Metrics{
		PromptTokens:      result.Usage.PromptTokens,
		CompletionTokens:  result.Usage.CompletionTokens,
		TotalTokens:       result.Usage.TotalTokens,
		Cost:              result.Usage.Cost,
		LLMLatencyMs:      result.LatencyMs,
		InstallDurationMs: buildResult.InstallDurationMs,
		BuildDurationMs:   buildResult.BuildDurationMs,
		DeployDurationMs:  deployDuration.Milliseconds(),
		TotalDurationMs:   completedAt.Sub(start).Milliseconds(),
		FileCount:         len(files),
		LinesOfCode:       linesOfCode,
	}
	err = p.store.MarkCompleted(ctx, j.ID, store.Completion{
		CompletedAt:  completedAt,
		ExpiresAt:    completedAt.Add(retention),
		PreviewURL:   deployResult.DeployedURL,
		DeployedURL:  deployResult.DeployedURL,
		WorkerName:   buildResult.WorkerName,
		BuildLogKey:  buildLogKey,
		DeployLogKey: deployLogKey,
		Metrics:      jobMetrics,
	})
	if err != nil {
		p.fail(ctx, j, sb, start, fmt.Errorf("finalize: %w", err), emit)
		return
	}

	metrics.JobFinished(string(job.StatusCompleted))
	p.logger.Info("Job completed", "job_id", j.ID, "url", deployResult.DeployedURL,
		"duration_ms", jobMetrics.TotalDurationMs)
	emit(job.Event{
		Type:        job.EventComplete,
		PreviewURL:  deployResult.DeployedURL,
		DeployedURL: deployResult.DeployedURL,
		Metrics:     &jobMetrics,
	})
}

// fail archives whatever logs exist, marks the job failed, and emits the
// terminal error event. The archive attempt never masks the original error.
func (p *Pipeline) fail(ctx context.Context, j *job.Job, sb *sandbox.Sandbox, start time.Time, cause error, emit func(job.Event)) {
	var buildLogKey, deployLogKey *string
	var workerName *string
	if sb != nil {
		name := job.WorkerName(j.ID)
		workerName = &name
		tail := sb.ReadLogTail(ctx, "build")
		if tail == "" {
			// Install failures leave the build log empty.
			tail = sb.ReadLogTail(ctx, "install")
		}
		if tail != "" {
			buildLogKey = p.archiveLog(ctx, j.ID, archive.BuildLogKey(j.ID), tail)
		}
		if tail := deploy.Sanitize(sb.ReadLogTail(ctx, "deploy")); tail != "" {
			deployLogKey = p.archiveLog(ctx, j.ID, archive.DeployLogKey(j.ID), tail)
		}
	}

	sandboxID := ""
	if buildErr, ok := sandbox.AsBuildError(cause); ok {
		sandboxID = buildErr.SandboxID
	} else if deployErr, ok := deploy.AsDeployError(cause); ok {
		sandboxID = deployErr.SandboxID
	}

	completedAt := time.Now()
	err := p.store.MarkFailed(ctx, j.ID, store.Failure{
		CompletedAt:  completedAt,
		ExpiresAt:    completedAt.Add(retention),
		Message:      cause.Error(),
		WorkerName:   workerName,
		BuildLogKey:  buildLogKey,
		DeployLogKey: deployLogKey,
	})
	if err != nil {
		p.logger.Error("Mark failed failed", "job_id", j.ID, "error", err)
	}

	metrics.JobFinished(string(job.StatusFailed))
	p.logger.Error("Job failed",
		"job_id", j.ID,
		"sandbox_id", sandboxID,
		"duration_ms", completedAt.Sub(start).Milliseconds(),
		"error", cause)
	emit(job.Event{Type: job.EventError, Message: cause.Error()})
}

// archiveLog uploads one log and returns its key, or nil when the upload
// failed or there was nothing to upload.
func (p *Pipeline) archiveLog(ctx context.Context, jobID, key, content string) *string {
	if content == "" {
		return nil
	}
	if err := p.archive.Put(ctx, key, content); err != nil {
		p.logger.Warn("Log archive failed", "job_id", jobID, "key", key, "error", err)
		return nil
	}
	return &key
}
