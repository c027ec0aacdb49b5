package config

import (
	"log/slog"
	"os"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "nimbus.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. Project config (nimbus.yaml in the working directory)
// 3. Environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	if fileConfig, err := LoadFromFile(ProjectConfigFile); err == nil {
		l.logger.Debug("Loaded project config", slog.String("path", ProjectConfigFile))
		config.Merge(fileConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load project config",
			slog.String("path", ProjectConfigFile),
			slog.String("error", err.Error()))
	}

	config.Merge(fromEnv())

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// fromEnv builds a Config overlay from environment variables. Unset
// variables leave the corresponding field untouched during Merge.
func fromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: os.Getenv("NIMBUS_LISTEN_ADDR"),
		},
		Model: ModelConfig{
			Default: os.Getenv("DEFAULT_MODEL"),
			APIKey:  os.Getenv("OPENROUTER_API_KEY"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		NATS: NATSConfig{
			URL: os.Getenv("NATS_URL"),
		},
		Sandbox: SandboxConfig{
			APIURL:   os.Getenv("SANDBOX_API_URL"),
			APIToken: os.Getenv("SANDBOX_API_TOKEN"),
		},
		Cloudflare: CloudflareConfig{
			APIToken:  os.Getenv("CLOUDFLARE_API_TOKEN"),
			AccountID: os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		},
		Cleanup: CleanupConfig{
			Schedule: os.Getenv("CLEANUP_SCHEDULE"),
		},
		Auth: AuthConfig{
			Token: os.Getenv("AUTH_TOKEN"),
		},
	}
}
