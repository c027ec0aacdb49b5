// Package config provides configuration loading and management for Nimbus.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Nimbus configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Model      ModelConfig      `yaml:"model"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Cloudflare CloudflareConfig `yaml:"cloudflare"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Auth       AuthConfig       `yaml:"auth"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	// ListenAddr is the address the HTTP server binds to (default: :8080)
	ListenAddr string `yaml:"listen_addr"`
}

// ModelConfig configures the LLM client
type ModelConfig struct {
	// Default is the model used when a request does not name one
	Default string `yaml:"default"`
	// Endpoint is the OpenRouter-compatible API endpoint
	Endpoint string `yaml:"endpoint"`
	// APIKey is the OpenRouter API key
	APIKey string `yaml:"api_key"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig configures the job store
type DatabaseConfig struct {
	// URL is the Postgres connection string
	URL string `yaml:"url"`
}

// NATSConfig configures the log archive connection
type NATSConfig struct {
	// URL is the NATS server URL (default: nats://localhost:4222)
	URL string `yaml:"url"`
	// Bucket is the JetStream object store bucket for log blobs
	Bucket string `yaml:"bucket"`
}

// SandboxConfig configures the sandbox runtime client
type SandboxConfig struct {
	// APIURL is the sandbox runtime service endpoint
	APIURL string `yaml:"api_url"`
	// APIToken authenticates against the sandbox runtime
	APIToken string `yaml:"api_token"`
}

// CloudflareConfig holds edge-worker deploy credentials
type CloudflareConfig struct {
	APIToken  string `yaml:"api_token"`
	AccountID string `yaml:"account_id"`
}

// CleanupConfig configures the TTL sweeper
type CleanupConfig struct {
	// Schedule is a cron expression; empty disables in-process scheduling
	Schedule string `yaml:"schedule"`
	// BatchSize caps jobs expired per sweep (default: 50)
	BatchSize int `yaml:"batch_size"`
}

// AuthConfig guards administrative endpoints
type AuthConfig struct {
	// Token is the shared bearer for log retrieval
	Token string `yaml:"token"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Model: ModelConfig{
			Default:  "anthropic/claude-sonnet-4",
			Endpoint: "https://openrouter.ai/api/v1",
			Timeout:  3 * time.Minute,
		},
		Database: DatabaseConfig{
			URL: "postgres://localhost:5432/nimbus?sslmode=disable",
		},
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Bucket: "NIMBUS_LOGS",
		},
		Cleanup: CleanupConfig{
			Schedule:  "",
			BatchSize: 50,
		},
	}
}

// Validate checks that the configuration is valid. Credentials required only
// at serve time are checked by ValidateCredentials.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Cleanup.BatchSize <= 0 {
		return fmt.Errorf("cleanup.batch_size must be positive")
	}
	return nil
}

// ValidateCredentials checks that every credential the pipeline needs is set.
func (c *Config) ValidateCredentials() error {
	if c.Model.APIKey == "" {
		return &MissingError{Key: "OPENROUTER_API_KEY"}
	}
	if c.Cloudflare.APIToken == "" {
		return &MissingError{Key: "CLOUDFLARE_API_TOKEN"}
	}
	if c.Cloudflare.AccountID == "" {
		return &MissingError{Key: "CLOUDFLARE_ACCOUNT_ID"}
	}
	return nil
}

// MissingError indicates a required credential is absent from the environment.
type MissingError struct {
	Key string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("required configuration %s is not set", e.Key)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Server.ListenAddr != "" {
		c.Server.ListenAddr = other.Server.ListenAddr
	}

	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.APIKey != "" {
		c.Model.APIKey = other.Model.APIKey
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	if other.Database.URL != "" {
		c.Database.URL = other.Database.URL
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Bucket != "" {
		c.NATS.Bucket = other.NATS.Bucket
	}

	if other.Sandbox.APIURL != "" {
		c.Sandbox.APIURL = other.Sandbox.APIURL
	}
	if other.Sandbox.APIToken != "" {
		c.Sandbox.APIToken = other.Sandbox.APIToken
	}

	if other.Cloudflare.APIToken != "" {
		c.Cloudflare.APIToken = other.Cloudflare.APIToken
	}
	if other.Cloudflare.AccountID != "" {
		c.Cloudflare.AccountID = other.Cloudflare.AccountID
	}

	if other.Cleanup.Schedule != "" {
		c.Cleanup.Schedule = other.Cleanup.Schedule
	}
	if other.Cleanup.BatchSize != 0 {
		c.Cleanup.BatchSize = other.Cleanup.BatchSize
	}

	if other.Auth.Token != "" {
		c.Auth.Token = other.Auth.Token
	}
}
