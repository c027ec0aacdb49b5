// Package main provides the nimbus binary entry point.
// Nimbus turns a prompt into a deployed web app: LLM generation, framework
// normalization, sandboxed install/build, and an edge-worker deploy.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/nimbus/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "nimbus"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Prompt-to-deployment build service",
		Long: `Nimbus builds and deploys AI-generated web apps.

A submitted prompt is turned into a file tree by an LLM, normalized for its
framework, installed and built inside a disposable sandbox, and published to
an edge-worker runtime. Progress streams back over SSE while every job is
persisted with its logs.`,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the build-and-deploy service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(logLevel)
			if err != nil {
				return err
			}
			if err := cfg.ValidateCredentials(); err != nil {
				return err
			}
			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			return app.run()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run one cleanup pass over expired jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(logLevel)
			if err != nil {
				return err
			}
			return runSweep(cfg)
		},
	})

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage project configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default " + config.ProjectConfigFile + " to the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(config.ProjectConfigFile); err == nil {
				return fmt.Errorf("%s already exists", config.ProjectConfigFile)
			}
			if err := config.DefaultConfig().SaveToFile(config.ProjectConfigFile); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("Wrote %s\n", config.ProjectConfigFile)
			return nil
		},
	})
	cmd.AddCommand(configCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// setup configures logging and loads layered configuration.
func setup(logLevel string) (*config.Config, error) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
