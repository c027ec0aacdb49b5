package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/c360studio/nimbus/framework"
	"github.com/c360studio/nimbus/job"
)

// Sandbox filesystem layout.
const (
	AppDir = "/root/app"
	LogDir = "/root/app/.nimbus"

	InstallLogPath = LogDir + "/install.log"
	BuildLogPath   = LogDir + "/build.log"
	DeployLogPath  = LogDir + "/deploy.log"

	// WranglerFile is the authoritative deployment descriptor.
	WranglerFile = "wrangler.nimbus.toml"
)

// Stage timeouts and polling intervals.
const (
	defaultInstallTimeout  = 5 * time.Minute
	defaultBuildTimeout    = 3 * time.Minute
	defaultNextTimeout     = 2 * time.Minute
	defaultOpenNextTimeout = 1 * time.Minute

	defaultHeartbeatInterval = 15 * time.Second
	defaultTailInterval      = 5 * time.Second
)

// passthroughWorker is synthesized for static sites that ship no worker
// entry of their own: every request is forwarded to the assets binding.
const passthroughWorker = `export default {
  async fetch(request, env) {
    return env.ASSETS.fetch(request);
  },
};
`

// staticAssetCandidates are probed in order when no assets dir is configured.
var staticAssetCandidates = []string{"dist", "build", ".output", "out"}

// EmitFunc receives progress events from the driver.
type EmitFunc func(job.Event)

// Driver provisions sandboxes and runs project builds inside them.
type Driver struct {
	provisioner Provisioner
	logger      *slog.Logger

	installTimeout  time.Duration
	buildTimeout    time.Duration
	nextTimeout     time.Duration
	openNextTimeout time.Duration

	heartbeatInterval time.Duration
	tailInterval      time.Duration
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDriverLogger sets the logger.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithIntervals overrides heartbeat and log-tail polling intervals.
func WithIntervals(heartbeat, tail time.Duration) DriverOption {
	return func(d *Driver) {
		d.heartbeatInterval = heartbeat
		d.tailInterval = tail
	}
}

// WithTimeouts overrides the stage timeouts.
func WithTimeouts(install, build, next, openNext time.Duration) DriverOption {
	return func(d *Driver) {
		d.installTimeout = install
		d.buildTimeout = build
		d.nextTimeout = next
		d.openNextTimeout = openNext
	}
}

// NewDriver creates a build driver on top of a sandbox provisioner.
func NewDriver(p Provisioner, opts ...DriverOption) *Driver {
	d := &Driver{
		provisioner:       p,
		logger:            slog.Default(),
		installTimeout:    defaultInstallTimeout,
		buildTimeout:      defaultBuildTimeout,
		nextTimeout:       defaultNextTimeout,
		openNextTimeout:   defaultOpenNextTimeout,
		heartbeatInterval: defaultHeartbeatInterval,
		tailInterval:      defaultTailInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Provision creates a fresh sandbox owned by one job. The caller is
// responsible for Destroy on every exit path.
func (d *Driver) Provision(ctx context.Context) (*Sandbox, error) {
	rt, err := d.provisioner.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("provision sandbox: %w", err)
	}
	return &Sandbox{d: d, rt: rt}, nil
}

// Sandbox wraps a live runtime with the driver's build logic.
type Sandbox struct {
	d  *Driver
	rt Runtime
}

// ID returns the sandbox identifier.
func (s *Sandbox) ID() string {
	return s.rt.ID()
}

// Runtime exposes the underlying runtime for the deploy driver.
func (s *Sandbox) Runtime() Runtime {
	return s.rt
}

// Destroy tears the sandbox down.
func (s *Sandbox) Destroy(ctx context.Context) error {
	return s.rt.Destroy(ctx)
}

// ReadLogTail returns the bounded tail of a phase log ("install", "build",
// "deploy"). Missing logs read as empty.
func (s *Sandbox) ReadLogTail(ctx context.Context, phase string) string {
	return readLogTail(ctx, s.rt, LogDir+"/"+phase+".log")
}

// BuildResult reports a successful build.
type BuildResult struct {
	WorkerName        string
	InstallDurationMs int64
	BuildDurationMs   int64
}

// Build materializes the generated project, runs install and build for the
// resolved framework target, verifies artifacts, and writes the deployment
// descriptor. Errors carry the sandbox id and the relevant log tail.
func (s *Sandbox) Build(ctx context.Context, jobID string, files []job.GeneratedFile, cfg framework.Config, emit EmitFunc) (*BuildResult, error) {
	workerName := job.WorkerName(jobID)
	isNextWorkers := cfg.Framework == "next" && cfg.Target == framework.TargetWorkers

	emit(job.Event{Type: job.EventScaffolding})
	if err := s.execChecked(ctx, "mkdir -p "+LogDir, 30*time.Second); err != nil {
		return nil, s.buildError("build", err)
	}

	emit(job.Event{Type: job.EventWriting})
	for _, f := range files {
		if err := s.rt.WriteFile(ctx, path.Join(AppDir, f.Path), []byte(f.Content)); err != nil {
			return nil, s.buildError("build", fmt.Errorf("write %s: %w", f.Path, err))
		}
	}

	if isNextWorkers {
		descriptor, err := marshalWrangler(openNextWrangler(workerName))
		if err != nil {
			return nil, s.buildError("build", err)
		}
		// Both names: wrangler.toml for the OpenNext tooling, the nimbus
		// one as the authoritative deploy input.
		for _, name := range []string{"wrangler.toml", WranglerFile} {
			if err := s.rt.WriteFile(ctx, path.Join(AppDir, name), descriptor); err != nil {
				return nil, s.buildError("build", fmt.Errorf("write %s: %w", name, err))
			}
		}
	}

	manifest := parseManifest(files)

	emit(job.Event{Type: job.EventInstalling})
	var installMs int64
	if manifest.hasPackageJSON {
		started := time.Now()
		if err := s.runLogged(ctx, "install", job.EventInstalling,
			"cd "+AppDir+" && bun install --no-save >> .nimbus/install.log 2>&1",
			s.d.installTimeout, InstallLogPath, emit); err != nil {
			return nil, err
		}
		installMs = time.Since(started).Milliseconds()
	}

	emit(job.Event{Type: job.EventBuilding})
	var buildMs int64
	if manifest.hasBuildScript {
		started := time.Now()
		if isNextWorkers {
			if err := s.buildNext(ctx, emit); err != nil {
				return nil, err
			}
		} else {
			if err := s.runLogged(ctx, "build", job.EventBuilding,
				"cd "+AppDir+" && CI=true bun run build >> .nimbus/build.log 2>&1",
				s.d.buildTimeout, BuildLogPath, emit); err != nil {
				return nil, err
			}
		}
		buildMs = time.Since(started).Milliseconds()
	}

	if err := s.finalizeDescriptor(ctx, workerName, cfg, manifest, isNextWorkers); err != nil {
		return nil, err
	}

	s.d.logger.Info("Build finished",
		"sandbox_id", s.ID(),
		"worker_name", workerName,
		"install_ms", installMs,
		"build_ms", buildMs)

	return &BuildResult{
		WorkerName:        workerName,
		InstallDurationMs: installMs,
		BuildDurationMs:   buildMs,
	}, nil
}

// buildNext runs the two-step Next-on-workers build: next build, then the
// OpenNext packaging step appending to the same log.
func (s *Sandbox) buildNext(ctx context.Context, emit EmitFunc) error {
	if err := s.runLogged(ctx, "build", job.EventBuilding,
		"cd "+AppDir+" && bunx next build >> .nimbus/build.log 2>&1",
		s.d.nextTimeout, BuildLogPath, emit); err != nil {
		return err
	}

	if !s.pathExists(ctx, AppDir+"/.next/standalone") {
		return &BuildError{
			SandboxID: s.ID(),
			Phase:     "build",
			LogTail:   s.ReadLogTail(ctx, "build"),
			Err:       fmt.Errorf("next build produced no standalone output; check next.config output mode"),
		}
	}

	return s.runLogged(ctx, "build", job.EventBuilding,
		"cd "+AppDir+" && bunx opennextjs-cloudflare build --skipNextBuild --skipWranglerConfigCheck --noMinify >> .nimbus/build.log 2>&1",
		s.d.openNextTimeout, BuildLogPath, emit)
}

// finalizeDescriptor verifies build artifacts and writes the authoritative
// wrangler.nimbus.toml.
func (s *Sandbox) finalizeDescriptor(ctx context.Context, workerName string, cfg framework.Config, manifest projectManifest, isNextWorkers bool) error {
	switch {
	case isNextWorkers:
		if !s.pathExists(ctx, AppDir+"/.open-next/worker.js") {
			return s.artifactError(ctx, ".open-next/worker.js missing after OpenNext build")
		}
		if !s.dirExists(ctx, AppDir+"/.open-next/assets") {
			return s.artifactError(ctx, ".open-next/assets missing after OpenNext build")
		}
		// The descriptor was written pre-build for the packaging tooling.
		return nil

	case cfg.Target == framework.TargetWorkers:
		if cfg.WorkerEntry == "" {
			return s.artifactError(ctx, "workers target without a worker entry")
		}
		if !s.pathExists(ctx, path.Join(AppDir, cfg.WorkerEntry)) {
			return s.artifactError(ctx, fmt.Sprintf("worker entry %s missing after build", cfg.WorkerEntry))
		}
		if cfg.AssetsDir != "" && !s.dirExists(ctx, path.Join(AppDir, cfg.AssetsDir)) {
			return s.artifactError(ctx, fmt.Sprintf("assets dir %s missing after build", cfg.AssetsDir))
		}
		if cfg.AssetsDir != "" {
			s.ensureAssetsIgnore(ctx, cfg.AssetsDir)
		}
		descriptor := wranglerConfig{
			Name:              workerName,
			Main:              cfg.WorkerEntry,
			CompatibilityDate: compatibilityDate,
		}
		if cfg.AssetsDir != "" {
			descriptor.Assets = &wranglerAssets{Directory: cfg.AssetsDir, Binding: "ASSETS"}
		}
		return s.writeDescriptor(ctx, descriptor)

	default:
		assetsDir := s.resolveAssetsDir(ctx, cfg.AssetsDir)
		entry, err := s.resolveStaticEntry(ctx, cfg, manifest)
		if err != nil {
			return err
		}
		return s.writeDescriptor(ctx, wranglerConfig{
			Name:              workerName,
			Main:              entry,
			CompatibilityDate: compatibilityDate,
			Assets:            &wranglerAssets{Directory: assetsDir, Binding: "ASSETS"},
		})
	}
}

// resolveAssetsDir picks the first existing candidate directory; plain
// static sites with no build output serve straight from the app root.
func (s *Sandbox) resolveAssetsDir(ctx context.Context, configured string) string {
	candidates := staticAssetCandidates
	if configured != "" {
		candidates = append([]string{configured}, candidates...)
	}
	for _, dir := range candidates {
		if s.dirExists(ctx, path.Join(AppDir, dir)) {
			return dir
		}
	}
	return "."
}

// resolveStaticEntry picks the worker entry for a static deploy: the
// configured entry when generated, an explicit worker.{js,ts}, or a
// synthesized pass-through worker.
func (s *Sandbox) resolveStaticEntry(ctx context.Context, cfg framework.Config, manifest projectManifest) (string, error) {
	if cfg.WorkerEntry != "" && manifest.has(cfg.WorkerEntry) {
		return cfg.WorkerEntry, nil
	}
	for _, candidate := range []string{"worker.js", "worker.ts"} {
		if manifest.has(candidate) {
			return candidate, nil
		}
	}
	if err := s.rt.WriteFile(ctx, LogDir+"/worker.js", []byte(passthroughWorker)); err != nil {
		return "", s.buildError("build", fmt.Errorf("write passthrough worker: %w", err))
	}
	return ".nimbus/worker.js", nil
}

// ensureAssetsIgnore keeps an embedded _worker.js directory out of the
// assets upload so it cannot shadow the worker entry.
func (s *Sandbox) ensureAssetsIgnore(ctx context.Context, assetsDir string) {
	workerDir := path.Join(AppDir, assetsDir, "_worker.js")
	if !s.pathExists(ctx, workerDir) {
		return
	}
	ignorePath := path.Join(AppDir, assetsDir, ".assetsignore")
	cmd := fmt.Sprintf("grep -qx '_worker.js' %s 2>/dev/null || echo '_worker.js' >> %s", ignorePath, ignorePath)
	if err := s.execChecked(ctx, cmd, 10*time.Second); err != nil {
		s.d.logger.Warn("Failed to update .assetsignore", "sandbox_id", s.ID(), "error", err)
	}
}

func (s *Sandbox) writeDescriptor(ctx context.Context, cfg wranglerConfig) error {
	descriptor, err := marshalWrangler(cfg)
	if err != nil {
		return s.buildError("build", err)
	}
	if err := s.rt.WriteFile(ctx, path.Join(AppDir, WranglerFile), descriptor); err != nil {
		return s.buildError("build", fmt.Errorf("write %s: %w", WranglerFile, err))
	}
	return nil
}

// runLogged executes a long command whose output is redirected to a log
// file, with a heartbeat ticker and a log-tail streamer running until the
// command exits. Nonzero exits surface as BuildErrors carrying the tail.
func (s *Sandbox) runLogged(ctx context.Context, phase string, heartbeat job.EventType, cmd string, timeout time.Duration, logPath string, emit EmitFunc) error {
	stop := s.watchStage(ctx, phase, logPath, heartbeat, emit)
	result, err := s.execRaced(ctx, cmd, timeout)
	stop()

	if err != nil {
		return &BuildError{
			SandboxID: s.ID(),
			Phase:     phase,
			LogTail:   s.ReadLogTail(ctx, phase),
			Err:       err,
		}
	}
	if result.ExitCode != 0 {
		return &BuildError{
			SandboxID: s.ID(),
			Phase:     phase,
			LogTail:   s.ReadLogTail(ctx, phase),
			Err:       fmt.Errorf("%s failed with exit code %d", phase, result.ExitCode),
		}
	}
	return nil
}

// watchStage starts the heartbeat ticker and log-tail poller for a stage.
// The returned stop function cancels both and waits for them to finish, so
// no stage event trails the stage's terminating transition.
func (s *Sandbox) watchStage(ctx context.Context, phase, logPath string, heartbeat job.EventType, emit EmitFunc) (stop func()) {
	watchCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.d.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				emit(job.Event{Type: heartbeat})
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.d.tailInterval)
		defer ticker.Stop()
		var anchor string
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				cur := readLogTail(watchCtx, s.rt, logPath)
				if diff := tailDiff(anchor, cur); diff != "" {
					emit(job.Event{Type: job.EventLog, Phase: phase, Message: diff})
				}
				if line := lastLine(cur); line != "" {
					anchor = line
				}
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

// execRaced runs a command racing the runtime's own timeout against a
// host-side timer of the same duration. Timeouts surface the command string
// so the pipeline can record what stalled.
func (s *Sandbox) execRaced(ctx context.Context, cmd string, timeout time.Duration) (ExecResult, error) {
	type outcome struct {
		result ExecResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.rt.Exec(ctx, cmd, timeout)
		done <- outcome{result, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.result, o.err
	case <-timer.C:
		return ExecResult{}, fmt.Errorf("command timed out after %s: %s", timeout, cmd)
	case <-ctx.Done():
		return ExecResult{}, ctx.Err()
	}
}

// execChecked runs a short command and fails on nonzero exit.
func (s *Sandbox) execChecked(ctx context.Context, cmd string, timeout time.Duration) error {
	result, err := s.execRaced(ctx, cmd, timeout)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %s: %s", result.ExitCode, cmd, truncate(result.Stderr, 300))
	}
	return nil
}

func (s *Sandbox) pathExists(ctx context.Context, p string) bool {
	result, err := s.rt.Exec(ctx, "test -e "+p, 10*time.Second)
	return err == nil && result.ExitCode == 0
}

func (s *Sandbox) dirExists(ctx context.Context, p string) bool {
	result, err := s.rt.Exec(ctx, "test -d "+p, 10*time.Second)
	return err == nil && result.ExitCode == 0
}

func (s *Sandbox) buildError(phase string, err error) *BuildError {
	return &BuildError{SandboxID: s.ID(), Phase: phase, Err: err}
}

func (s *Sandbox) artifactError(ctx context.Context, msg string) *BuildError {
	return &BuildError{
		SandboxID: s.ID(),
		Phase:     "build",
		LogTail:   s.ReadLogTail(ctx, "build"),
		Err:       fmt.Errorf("%s", msg),
	}
}

// projectManifest is what the driver needs to know about the generated
// tree: whether a package.json exists, whether it declares a build script,
// and the set of generated paths.
type projectManifest struct {
	hasPackageJSON bool
	hasBuildScript bool
	paths          map[string]bool
}

func (m projectManifest) has(p string) bool {
	return m.paths[p]
}

func parseManifest(files []job.GeneratedFile) projectManifest {
	m := projectManifest{paths: make(map[string]bool, len(files))}
	for _, f := range files {
		m.paths[f.Path] = true
		if f.Path != "package.json" {
			continue
		}
		m.hasPackageJSON = true
		var pkg struct {
			Scripts map[string]string `json:"scripts"`
		}
		if err := json.Unmarshal([]byte(f.Content), &pkg); err == nil {
			_, m.hasBuildScript = pkg.Scripts["build"]
		}
	}
	return m
}
