package sandbox

import (
	"errors"
	"fmt"
)

// BuildError is raised when install, build, or artifact verification fails.
// It carries the sandbox identity so the pipeline can archive logs and tear
// the sandbox down, and the log tail for the client-facing error message.
type BuildError struct {
	SandboxID string
	Phase     string // "install" or "build"
	LogTail   string
	Err       error
}

func (e *BuildError) Error() string {
	msg := e.Err.Error()
	if e.LogTail != "" {
		msg += fmt.Sprintf("\n\n--- %s log (tail) ---\n%s", e.Phase, e.LogTail)
	}
	return msg
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// AsBuildError extracts a BuildError from an error chain.
func AsBuildError(err error) (*BuildError, bool) {
	var buildErr *BuildError
	ok := errors.As(err, &buildErr)
	return buildErr, ok
}
