// Package deploy publishes a built project to the edge-worker runtime by
// running the wrangler deploy tool inside the job's sandbox.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/c360studio/nimbus/sandbox"
)

// deployTimeout bounds the wrangler deploy command.
const deployTimeout = 2 * time.Minute

// workersURLPattern extracts the published URL from wrangler output.
var workersURLPattern = regexp.MustCompile(`https://[^\s]+\.workers\.dev`)

// credentialPatterns match exported credentials in logs. Values are
// replaced before the log reaches any error surface or the archive.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`CLOUDFLARE_API_TOKEN="[^"]*"`),
	regexp.MustCompile(`CLOUDFLARE_ACCOUNT_ID="[^"]*"`),
}

// Result is a successful deploy.
type Result struct {
	DeployedURL string
	DeployLog   string
}

// Error is raised when the deploy command fails or its output carries no
// workers.dev URL. The log is credential-sanitized before it is attached.
type Error struct {
	SandboxID string
	Log       string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Log != "" {
		msg += "\n\n--- deploy log (tail) ---\n" + e.Log
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsDeployError extracts an Error from an error chain.
func AsDeployError(err error) (*Error, bool) {
	var deployErr *Error
	ok := errors.As(err, &deployErr)
	return deployErr, ok
}

// Driver runs deploys with the configured Cloudflare credentials.
type Driver struct {
	apiToken  string
	accountID string
	logger    *slog.Logger
}

// NewDriver creates a deploy driver.
func NewDriver(apiToken, accountID string, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{apiToken: apiToken, accountID: accountID, logger: logger}
}

// Deploy exports credentials, runs wrangler with the generated descriptor,
// and parses the resulting workers.dev URL from the deploy log.
func (d *Driver) Deploy(ctx context.Context, sb *sandbox.Sandbox) (*Result, error) {
	cmd := fmt.Sprintf(
		`cd %s && export CLOUDFLARE_API_TOKEN=%q CLOUDFLARE_ACCOUNT_ID=%q && bunx wrangler deploy --config %s > .nimbus/deploy.log 2>&1`,
		sandbox.AppDir, d.apiToken, d.accountID, sandbox.WranglerFile,
	)

	result, err := sb.Runtime().Exec(ctx, cmd, deployTimeout)
	logTail := Sanitize(sb.ReadLogTail(ctx, "deploy"))

	if err != nil {
		return nil, &Error{SandboxID: sb.ID(), Log: logTail, Err: fmt.Errorf("deploy command: %w", err)}
	}
	if result.ExitCode != 0 {
		return nil, &Error{
			SandboxID: sb.ID(),
			Log:       logTail,
			Err:       fmt.Errorf("deploy failed with exit code %d", result.ExitCode),
		}
	}

	url := workersURLPattern.FindString(logTail)
	if url == "" {
		return nil, &Error{
			SandboxID: sb.ID(),
			Log:       logTail,
			Err:       fmt.Errorf("deploy output carried no workers.dev URL"),
		}
	}

	d.logger.Info("Deployed worker", "sandbox_id", sb.ID(), "url", url)
	return &Result{DeployedURL: url, DeployLog: logTail}, nil
}

// Sanitize redacts exported credential values from a log.
func Sanitize(log string) string {
	for _, pattern := range credentialPatterns {
		log = pattern.ReplaceAllStringFunc(log, func(match string) string {
			for i, ch := range match {
				if ch == '=' {
					return match[:i] + `="[REDACTED]"`
				}
			}
			return match
		})
	}
	return log
}
