// Package main wires the scheduler daemon entrypoint.
package main

//nolint:depguard // main wires project-internal modules and zap logging
import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"taskscheduler/internal/buildinfo"
	"taskscheduler/pkg/affinity"
	"taskscheduler/pkg/api"
	"taskscheduler/pkg/clock"
	"taskscheduler/pkg/config"
	"taskscheduler/pkg/diagsink"
	"taskscheduler/pkg/hostload"
	"taskscheduler/pkg/metrics"
	"taskscheduler/pkg/sched"
)

const (
	defaultConfigPath = "/etc/taskscheduler/config.yaml"
	defaultLogLevel   = "info"
	defaultLockPath   = "/run/schedd.lock"

	exitCodeSuccess      = 0
	exitCodeRuntimeError = 1
	exitCodeParseError   = 2
)

func main() {
	code := run(context.Background(), os.Args[1:], defaultRunDeps(), os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

type runDeps struct {
	newLogger  func(level string) (*zap.Logger, error)
	newFlock   func(path string) *flock.Flock
	loadConfig func(path string) (config.RuntimeConfig, error)
}

func defaultRunDeps() runDeps {
	return runDeps{
		newLogger:  newLogger,
		newFlock:   flock.New,
		loadConfig: config.Load,
	}
}

func run(ctx context.Context, args []string, deps runDeps, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err) //nolint:errcheck

		return exitCodeParseError
	}

	logger, err := deps.newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "failed to configure logger: %v\n", err) //nolint:errcheck

		return exitCodeRuntimeError
	}

	defer func() { _ = logger.Sync() }()

	lock := deps.newFlock(opts.lockPath)

	locked, err := lock.TryLock()
	if err != nil {
		logger.Error("acquire single-instance lock", zap.Error(err))

		return exitCodeRuntimeError
	}

	if !locked {
		logger.Error("another instance already holds the lock", zap.String("lockPath", opts.lockPath))

		return exitCodeRuntimeError
	}

	cfg, err := deps.loadConfig(opts.configPath)
	if err != nil {
		logger.Error("load configuration", zap.Error(err))
		_ = lock.Unlock()

		return exitCodeRuntimeError
	}

	runID := uuid.New()
	info := buildinfo.Current()

	logger.Info("starting scheduler daemon",
		zap.String("version", info.Version),
		zap.String("commit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("configPath", opts.configPath),
		zap.String("runID", runID.String()),
	)

	code := runDaemon(ctx, cfg, logger, runID.String(), opts.configPath, deps.loadConfig)

	if unlockErr := lock.Unlock(); unlockErr != nil {
		logger.Error("release single-instance lock", zap.Error(unlockErr))

		if code == exitCodeSuccess {
			code = exitCodeRuntimeError
		}
	}

	return code
}

// runDaemon builds the scheduler, its HTTP control surface, and the host
// load sampler, then drives Tick until a shutdown signal arrives. A SIGHUP
// reloads configPath via loadConfig and re-applies task overrides to the
// live task table through the same SetEnabled/Reschedule calls the HTTP
// control surface uses.
func runDaemon(ctx context.Context, cfg config.RuntimeConfig, logger *zap.Logger, runID string, configPath string, loadConfig func(string) (config.RuntimeConfig, error)) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if cfg.PinnedCPU >= 0 {
		if err := affinity.PinCurrentThreadTo(cfg.PinnedCPU); err != nil {
			logger.Warn("pin to CPU failed, continuing unpinned",
				zap.Int("cpu", cfg.PinnedCPU), zap.Error(err))
		}
	}

	sink := diagsink.New("stdout", os.Stdout)
	sink.SetDebug(cfg.DebugEnabled)

	descriptors := buildTaskTable(cfg)
	realtimeID := sched.TaskID(0)

	nameToID := make(map[string]sched.TaskID, len(descriptors))
	for i, desc := range descriptors {
		nameToID[desc.Name] = sched.TaskID(i)
	}

	clk := clock.NewMonotonic()
	scheduler := sched.New(clk, descriptors, realtimeID, sched.WithStatistics(cfg.StatisticsEnabled), sched.WithLogger(logger))

	for i := range descriptors {
		scheduler.SetEnabled(sched.TaskID(i), true)
	}

	for _, override := range cfg.TaskOverrides {
		if id, ok := nameToID[override.Name]; ok && override.HasEnabled {
			scheduler.SetEnabled(id, override.Enabled)
		}
	}

	sighupCh := make(chan os.Signal, 1)
	signal.Notify(sighupCh, syscall.SIGHUP)
	defer signal.Stop(sighupCh)

	var tickMu sync.Mutex

	registry := prometheus.NewRegistry()
	exporter := metrics.NewExporter(registry)

	sampler := hostload.NewSampler(hostload.OSStatSource{}, 5*time.Second)
	observations := sampler.Run(ctx)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		for obs := range observations {
			if obs.Err == nil {
				exporter.ObserveHostCPU(obs.Utilisation * 100)
			}
		}
	}()

	httpServer := buildHTTPServer(cfg.HTTPBind, &tickMu, scheduler, registry, runID)

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	tickPeriod := time.Duration(cfg.SchedulerDelayLimitUs) * time.Microsecond
	if tickPeriod <= 0 {
		tickPeriod = time.Millisecond
	}

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	diagTicker := time.NewTicker(time.Duration(cfg.DiagnosticsIntervalMs) * time.Millisecond)
	defer diagTicker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			tickMu.Lock()
			scheduler.Tick()
			tickMu.Unlock()
		case <-sighupCh:
			previous := config.Clone(cfg)

			reloaded, err := loadConfig(configPath)
			if err != nil {
				logger.Warn("reload configuration failed, keeping previous config", zap.Error(err))

				continue
			}

			cfg = reloaded
			sink.SetDebug(cfg.DebugEnabled)

			logger.Info("configuration reloaded",
				zap.Any("previous", previous),
				zap.Any("current", cfg),
			)

			tickMu.Lock()

			for _, override := range cfg.TaskOverrides {
				id, ok := nameToID[override.Name]
				if !ok {
					continue
				}

				if override.HasEnabled {
					scheduler.SetEnabled(id, override.Enabled)
				}

				if override.HasPeriod {
					scheduler.Reschedule(id, override.DesiredPeriodUs)
				}
			}

			tickMu.Unlock()
		case <-diagTicker.C:
			tickMu.Lock()

			for _, info := range scheduler.Snapshot() {
				exporter.ObserveTask(metrics.TaskInfo{
					Name:                     info.Name,
					Enabled:                  info.Enabled,
					AverageExecutionTimeUs:   info.AverageExecutionTimeUs,
					MaxExecutionTimeUs:       float64(info.MaxExecutionTimeUs),
					TotalExecutionTimeUs:     float64(info.TotalExecutionTimeUs),
					AverageDeltaTimeUs:       info.AverageDeltaTimeUs,
					MovingAverageCycleTimeUs: info.MovingAverageCycleTimeUs,
				})
			}

			exporter.ObserveSystemLoad(scheduler.SystemLoadPercent())
			scheduler.PrintTasks(sink)
			tickMu.Unlock()
		}
	}

	var shutdownErr error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shutdownErr = multierr.Append(shutdownErr, httpServer.Shutdown(shutdownCtx))

	wg.Wait()

	if shutdownErr != nil {
		logger.Error("shutdown encountered errors", zap.Error(shutdownErr))

		return exitCodeRuntimeError
	}

	logger.Info("shutdown complete")

	return exitCodeSuccess
}

// buildTaskTable constructs the daemon's built-in task set: a real-time
// heartbeat task (slot 0, conventionally TASK_MAIN) plus any task
// overrides from configuration applied atop a small set of best-effort
// diagnostics/bookkeeping tasks a deployment can reschedule or disable.
func buildTaskTable(cfg config.RuntimeConfig) []sched.TaskDescriptor {
	descriptors := []sched.TaskDescriptor{
		{
			Name:            "heartbeat",
			TaskFunc:        func(uint64) {},
			DesiredPeriodUs: 10000,
			StaticPriority:  sched.REALTIME,
		},
		{
			Name:            "bookkeeping",
			TaskFunc:        func(uint64) {},
			DesiredPeriodUs: 50000,
			StaticPriority:  sched.MEDIUM,
		},
	}

	for _, override := range cfg.TaskOverrides {
		for i := range descriptors {
			if descriptors[i].Name != override.Name {
				continue
			}

			if override.HasPeriod {
				descriptors[i].DesiredPeriodUs = override.DesiredPeriodUs
			}

			if override.HasPriority {
				descriptors[i].StaticPriority = sched.Priority(override.StaticPriority)
			}
		}
	}

	return descriptors
}

func buildHTTPServer(addr string, mu *sync.Mutex, scheduler *sched.Scheduler, registry *prometheus.Registry, runID string) *http.Server {
	controlAPI := api.New(mu, scheduler, runID)

	mux := controlAPI.Router()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}

	cfg := zap.NewProductionConfig()

	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger, nil
}

type options struct {
	configPath string
	logLevel   string
	lockPath   string
}

func parseArgs(args []string) (options, error) {
	var opts options

	flagSet := flag.NewFlagSet("schedd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to the scheduler configuration file")
	flagSet.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Structured log level (debug, info, warn, error)")
	flagSet.StringVar(&opts.lockPath, "lock-path", defaultLockPath, "Path to the single-instance lock file")

	if err := flagSet.Parse(args); err != nil {
		return options{}, fmt.Errorf("parse CLI arguments: %w", err)
	}

	opts.logLevel = strings.TrimSpace(opts.logLevel)
	if opts.logLevel == "" {
		opts.logLevel = defaultLogLevel
	}

	opts.configPath = strings.TrimSpace(opts.configPath)
	if opts.configPath == "" {
		opts.configPath = defaultConfigPath
	}

	opts.lockPath = strings.TrimSpace(opts.lockPath)
	if opts.lockPath == "" {
		opts.lockPath = defaultLockPath
	}

	return opts, nil
}

var errInvalidLogLevel = errors.New("invalid log level")
