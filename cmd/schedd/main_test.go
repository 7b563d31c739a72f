package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"taskscheduler/pkg/config"
)

var (
	errStubLoggerBoom = errors.New("logger failure")
	errStubConfigBoom = errors.New("config load failure")
)

func TestParseArgsDefaults(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if opts.configPath != defaultConfigPath {
		t.Fatalf("expected default config path, got %q", opts.configPath)
	}

	if opts.logLevel != defaultLogLevel {
		t.Fatalf("expected default log level, got %q", opts.logLevel)
	}

	if opts.lockPath != defaultLockPath {
		t.Fatalf("expected default lock path, got %q", opts.lockPath)
	}
}

func TestParseArgsOverrides(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs([]string{"-config", "/tmp/c.yaml", "-log-level", "debug", "-lock-path", "/tmp/x.lock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if opts.configPath != "/tmp/c.yaml" || opts.logLevel != "debug" || opts.lockPath != "/tmp/x.lock" {
		t.Fatalf("unexpected opts: %+v", opts)
	}
}

func TestParseArgsRejectsUnknownFlag(t *testing.T) {
	t.Parallel()

	_, err := parseArgs([]string{"-nope"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestNewLoggerRejectsInvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := newLogger("not-a-level")
	if !errors.Is(err, errInvalidLogLevel) {
		t.Fatalf("expected errInvalidLogLevel, got %v", err)
	}
}

func TestNewLoggerDefaultsEmptyLevelToInfo(t *testing.T) {
	t.Parallel()

	logger, err := newLogger("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	if !logger.Core().Enabled(zap.InfoLevel) || logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected empty level to default to info")
	}
}

func stubDeps(t *testing.T) runDeps {
	t.Helper()

	return runDeps{
		newLogger: func(string) (*zap.Logger, error) { return zap.NewNop(), nil },
		newFlock:  func(path string) *flock.Flock { return flock.New(path) },
		loadConfig: func(string) (config.RuntimeConfig, error) {
			cfg := config.Default()
			cfg.HTTPBind = "127.0.0.1:0"
			cfg.DiagnosticsIntervalMs = 50

			return cfg, nil
		},
	}
}

func TestRunReturnsParseErrorOnUnknownFlag(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer

	code := run(context.Background(), []string{"-nope"}, stubDeps(t), &stderr)
	if code != exitCodeParseError {
		t.Fatalf("expected exitCodeParseError, got %d", code)
	}
}

func TestRunReturnsRuntimeErrorWhenLoggerFails(t *testing.T) {
	t.Parallel()

	deps := stubDeps(t)
	deps.newLogger = func(string) (*zap.Logger, error) { return nil, errStubLoggerBoom }

	var stderr bytes.Buffer

	code := run(context.Background(), nil, deps, &stderr)
	if code != exitCodeRuntimeError {
		t.Fatalf("expected exitCodeRuntimeError, got %d", code)
	}
}

func TestRunReturnsRuntimeErrorWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	deps := stubDeps(t)
	deps.loadConfig = func(string) (config.RuntimeConfig, error) { return config.RuntimeConfig{}, errStubConfigBoom }

	var stderr bytes.Buffer

	code := run(context.Background(), nil, deps, &stderr)
	if code != exitCodeRuntimeError {
		t.Fatalf("expected exitCodeRuntimeError, got %d", code)
	}
}

func TestRunReturnsRuntimeErrorWhenLockAlreadyHeld(t *testing.T) {
	t.Parallel()

	lockPath := t.TempDir() + "/held.lock"

	holder := flock.New(lockPath)

	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("failed to pre-acquire lock: locked=%v err=%v", locked, err)
	}

	defer func() { _ = holder.Unlock() }()

	deps := stubDeps(t)

	var stderr bytes.Buffer

	code := run(context.Background(), []string{"-lock-path", lockPath}, deps, &stderr)
	if code != exitCodeRuntimeError {
		t.Fatalf("expected exitCodeRuntimeError when lock already held, got %d", code)
	}
}

func TestRunHappyPathShutsDownCleanlyOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	deps := stubDeps(t)

	var stderr bytes.Buffer

	lockPath := t.TempDir() + "/schedd.lock"

	code := run(ctx, []string{"-lock-path", lockPath}, deps, &stderr)
	if code != exitCodeSuccess {
		t.Fatalf("expected exitCodeSuccess after context cancellation, got %d, stderr=%s", code, stderr.String())
	}
}
