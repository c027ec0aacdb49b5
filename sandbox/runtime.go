// Package sandbox provisions disposable build environments, materializes
// generated projects inside them, runs install and build with timeouts and
// log streaming, and writes the deployment descriptor the deploy driver
// consumes.
package sandbox

import (
	"context"
	"time"
)

// ExecResult is the outcome of a command run inside a sandbox. Stdout and
// stderr are delivered whole once the command exits; interactive progress
// comes from tailing log files the driver redirects into.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Runtime is the external sandbox contract: a disposable container capable
// of command execution and file writes on behalf of one job.
type Runtime interface {
	// ID returns the runtime's opaque sandbox identifier.
	ID() string

	// Exec runs a shell command. The timeout is enforced by the runtime;
	// callers additionally race it host-side.
	Exec(ctx context.Context, cmd string, timeout time.Duration) (ExecResult, error)

	// WriteFile writes contents to path, creating parent directories.
	WriteFile(ctx context.Context, path string, contents []byte) error

	// Destroy tears the sandbox down. Idempotent.
	Destroy(ctx context.Context) error
}

// Provisioner creates sandboxes.
type Provisioner interface {
	Create(ctx context.Context) (Runtime, error)
}
