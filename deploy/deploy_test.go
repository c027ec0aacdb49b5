package deploy_test

import (
	"context"
	"strings"
	"testing"

	"github.com/c360studio/nimbus/deploy"
	"github.com/c360studio/nimbus/sandbox"
	"github.com/c360studio/nimbus/sandbox/sandboxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func provision(t *testing.T, rt *sandboxtest.FakeRuntime) *sandbox.Sandbox {
	t.Helper()
	driver := sandbox.NewDriver(&sandboxtest.FakeProvisioner{Runtime: rt})
	sb, err := driver.Provision(context.Background())
	require.NoError(t, err)
	return sb
}

func TestDeploy_Success(t *testing.T) {
	rt := sandboxtest.NewFakeRuntime("sb-1")
	rt.Script(sandboxtest.CommandRule{Match: "wrangler deploy", ExitCode: 0})
	rt.Script(sandboxtest.CommandRule{
		Match:  "tail -n 200 /root/app/.nimbus/deploy.log",
		Stdout: "Uploaded nimbus-ab12cd34\nPublished nimbus-ab12cd34\n  https://nimbus-ab12cd34.example.workers.dev\n",
	})

	driver := deploy.NewDriver("secret-token", "account-1", nil)
	result, err := driver.Deploy(context.Background(), provision(t, rt))
	require.NoError(t, err)
	assert.Equal(t, "https://nimbus-ab12cd34.example.workers.dev", result.DeployedURL)

	// The deploy command exports credentials and uses the nimbus descriptor.
	var deployCmd string
	for _, cmd := range rt.Commands() {
		if strings.Contains(cmd, "wrangler deploy") {
			deployCmd = cmd
		}
	}
	require.NotEmpty(t, deployCmd)
	assert.Contains(t, deployCmd, "CLOUDFLARE_API_TOKEN")
	assert.Contains(t, deployCmd, "--config wrangler.nimbus.toml")
	assert.Contains(t, deployCmd, "> .nimbus/deploy.log 2>&1")
}

func TestDeploy_NonzeroExit(t *testing.T) {
	rt := sandboxtest.NewFakeRuntime("sb-2")
	rt.Script(sandboxtest.CommandRule{Match: "wrangler deploy", ExitCode: 1})
	rt.Script(sandboxtest.CommandRule{
		Match:  "tail -n 200 /root/app/.nimbus/deploy.log",
		Stdout: "export CLOUDFLARE_API_TOKEN=\"secret-token\"\nauthentication error\n",
	})

	driver := deploy.NewDriver("secret-token", "account-1", nil)
	_, err := driver.Deploy(context.Background(), provision(t, rt))
	require.Error(t, err)

	deployErr, ok := deploy.AsDeployError(err)
	require.True(t, ok)
	assert.Equal(t, "sb-2", deployErr.SandboxID)
	// Credentials never surface through the error.
	assert.NotContains(t, err.Error(), "secret-token")
	assert.Contains(t, deployErr.Log, "[REDACTED]")
	assert.Contains(t, err.Error(), "--- deploy log (tail) ---")
}

func TestDeploy_MissingURL(t *testing.T) {
	rt := sandboxtest.NewFakeRuntime("sb-3")
	rt.Script(sandboxtest.CommandRule{Match: "wrangler deploy", ExitCode: 0})
	rt.Script(sandboxtest.CommandRule{
		Match:  "tail -n 200 /root/app/.nimbus/deploy.log",
		Stdout: "Uploaded but no URL printed\n",
	})

	driver := deploy.NewDriver("t", "a", nil)
	_, err := driver.Deploy(context.Background(), provision(t, rt))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workers.dev URL")
}

func TestSanitize(t *testing.T) {
	log := `+ export CLOUDFLARE_API_TOKEN="abc123" CLOUDFLARE_ACCOUNT_ID="acct9"
deploying...`
	clean := deploy.Sanitize(log)
	assert.NotContains(t, clean, "abc123")
	assert.NotContains(t, clean, "acct9")
	assert.Contains(t, clean, `CLOUDFLARE_API_TOKEN="[REDACTED]"`)
	assert.Contains(t, clean, `CLOUDFLARE_ACCOUNT_ID="[REDACTED]"`)
	assert.Contains(t, clean, "deploying...")
}

func TestSanitize_NoCredentialsUnchanged(t *testing.T) {
	log := "plain output\n"
	assert.Equal(t, log, deploy.Sanitize(log))
}
