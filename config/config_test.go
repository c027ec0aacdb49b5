package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.Model.Endpoint)
	assert.Equal(t, 50, cfg.Cleanup.BatchSize)
	assert.Equal(t, "NIMBUS_LOGS", cfg.NATS.Bucket)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Merge(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{
		Model: ModelConfig{
			Default: "openai/gpt-4o-mini",
			APIKey:  "sk-test",
		},
		Cloudflare: CloudflareConfig{
			APIToken:  "cf-token",
			AccountID: "cf-account",
		},
	}

	base.Merge(overlay)

	assert.Equal(t, "openai/gpt-4o-mini", base.Model.Default)
	assert.Equal(t, "sk-test", base.Model.APIKey)
	assert.Equal(t, "cf-token", base.Cloudflare.APIToken)
	// Untouched fields keep defaults.
	assert.Equal(t, ":8080", base.Server.ListenAddr)
	assert.Equal(t, "https://openrouter.ai/api/v1", base.Model.Endpoint)
}

func TestConfig_MergeNil(t *testing.T) {
	base := DefaultConfig()
	base.Merge(nil)
	assert.Equal(t, ":8080", base.Server.ListenAddr)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing model default",
			mutate:  func(c *Config) { c.Model.Default = "" },
			wantErr: "model.default is required",
		},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "database.url is required",
		},
		{
			name:    "non-positive batch size",
			mutate:  func(c *Config) { c.Cleanup.BatchSize = 0 },
			wantErr: "cleanup.batch_size must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateCredentials(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.ValidateCredentials()
	require.Error(t, err)
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "OPENROUTER_API_KEY", missing.Key)

	cfg.Model.APIKey = "sk-test"
	err = cfg.ValidateCredentials()
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "CLOUDFLARE_API_TOKEN", missing.Key)

	cfg.Cloudflare.APIToken = "cf-token"
	cfg.Cloudflare.AccountID = "cf-account"
	require.NoError(t, cfg.ValidateCredentials())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nimbus.yaml")
	content := `
server:
  listen_addr: ":9090"
model:
  default: "openai/gpt-4o"
  timeout: 2m
cleanup:
  schedule: "@hourly"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "openai/gpt-4o", cfg.Model.Default)
	assert.Equal(t, 2*time.Minute, cfg.Model.Timeout)
	assert.Equal(t, "@hourly", cfg.Cleanup.Schedule)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "nimbus.yaml")

	cfg := DefaultConfig()
	cfg.Server.ListenAddr = ":9090"
	cfg.Cleanup.Schedule = "@hourly"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", loaded.Server.ListenAddr)
	assert.Equal(t, "@hourly", loaded.Cleanup.Schedule)
	assert.Equal(t, cfg.Model.Default, loaded.Model.Default)
}

func TestLoadFromFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nimbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	t.Setenv("DEFAULT_MODEL", "env/model")
	t.Setenv("AUTH_TOKEN", "env-token")

	loader := NewLoader(nil)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "env/model", cfg.Model.Default)
	assert.Equal(t, "env-token", cfg.Auth.Token)
}
