package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/nimbus/archive"
	"github.com/c360studio/nimbus/cloudflare"
	"github.com/c360studio/nimbus/config"
	"github.com/c360studio/nimbus/deploy"
	"github.com/c360studio/nimbus/llm"
	"github.com/c360studio/nimbus/pipeline"
	"github.com/c360studio/nimbus/sandbox"
	httpserver "github.com/c360studio/nimbus/server"
	"github.com/c360studio/nimbus/store"
	"github.com/c360studio/nimbus/sweeper"
)

// app wires the service together for the serve command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	embeddedNATS *server.Server
	natsConn     *nats.Conn
	jobs         *store.Store
	httpServer   *httpserver.Server
	sweeper      *sweeper.Sweeper
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: slog.Default()}

	jobs, err := store.Open(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.jobs = jobs

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := jobs.Migrate(ctx); err != nil {
		return nil, err
	}

	js, err := a.connectNATS()
	if err != nil {
		return nil, err
	}
	logs := archive.New(js, cfg.NATS.Bucket)

	generator := llm.NewClient(cfg.Model.APIKey,
		llm.WithBaseURL(cfg.Model.Endpoint),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.Model.Timeout}))
	sandboxDriver := sandbox.NewDriver(sandbox.NewClient(cfg.Sandbox.APIURL, cfg.Sandbox.APIToken))
	deployer := deploy.NewDriver(cfg.Cloudflare.APIToken, cfg.Cloudflare.AccountID, a.logger)

	runner := pipeline.New(jobs, logs, generator, sandboxDriver, deployer)
	a.httpServer = httpserver.New(cfg.Server.ListenAddr, jobs, logs, runner,
		cfg.Model.Default, cfg.Auth.Token)

	workers := cloudflare.NewClient(cfg.Cloudflare.APIToken, cfg.Cloudflare.AccountID)
	a.sweeper = sweeper.New(jobs, workers, logs, sweeper.WithBatchSize(cfg.Cleanup.BatchSize))

	return a, nil
}

// connectNATS reaches the configured server, or starts an embedded one when
// no URL is set.
func (a *app) connectNATS() (jetstream.JetStream, error) {
	url := a.cfg.NATS.URL
	if url == "" {
		a.logger.Info("Starting embedded NATS server")
		ns, err := server.NewServer(&server.Options{
			Port:      -1,
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start")
		}
		a.embeddedNATS = ns
		url = ns.ClientURL()
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	a.natsConn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return js, nil
}

// run starts the HTTP server and optional sweeper schedule, then blocks
// until a shutdown signal arrives.
func (a *app) run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.httpServer.Start(); err != nil {
		return err
	}
	if a.cfg.Cleanup.Schedule != "" {
		if err := a.sweeper.Start(ctx, a.cfg.Cleanup.Schedule); err != nil {
			return err
		}
	}

	a.logger.Info("Nimbus ready", "version", Version, "addr", a.cfg.Server.ListenAddr)
	<-ctx.Done()
	a.logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Warn("HTTP shutdown failed", "error", err)
	}
	if a.cfg.Cleanup.Schedule != "" {
		a.sweeper.Stop()
	}
	a.shutdown()
	return nil
}

func (a *app) shutdown() {
	if a.natsConn != nil {
		a.natsConn.Drain()
		a.natsConn.Close()
	}
	if a.embeddedNATS != nil {
		a.embeddedNATS.Shutdown()
		a.embeddedNATS.WaitForShutdown()
	}
	if a.jobs != nil {
		a.jobs.Close()
	}
}

// runSweep performs a single expiry pass for the sweep command.
func runSweep(cfg *config.Config) error {
	jobs, err := store.Open(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer jobs.Close()

	if cfg.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required for sweep")
	}
	conn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer conn.Close()
	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	workers := cloudflare.NewClient(cfg.Cloudflare.APIToken, cfg.Cloudflare.AccountID)
	s := sweeper.New(jobs, workers, archive.New(js, cfg.NATS.Bucket),
		sweeper.WithBatchSize(cfg.Cleanup.BatchSize))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	result, err := s.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("swept %d jobs: %d expired, %d skipped\n", result.Scanned, result.Expired, result.Skipped)
	return nil
}
