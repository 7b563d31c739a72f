// Package config loads the scheduler daemon's runtime configuration: a
// YAML file overlaid with environment variables, following the same
// defaults-then-merge-then-env precedence the daemon's predecessor used
// for its tunables (spec §6 EXPANSION).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

const (
	envHTTPBind         = "SCHEDD_HTTP_ADDR"
	envStatsEnabled     = "SCHEDD_STATS_ENABLED"
	envSchedulerDelay   = "SCHEDD_DELAY_LIMIT_US"
	envGuardInterval    = "SCHEDD_GUARD_INTERVAL_US"
	envPinnedCPU        = "SCHEDD_PINNED_CPU"
	envDiagnosticsEvery = "SCHEDD_DIAGNOSTICS_INTERVAL_MS"
	envDebugEnabled     = "SCHEDD_DEBUG_ENABLED"
)

// TaskOverride adjusts one task's table entry by name: period, static
// priority, and initial enablement (spec §4.4 control surface, applied at
// boot instead of over HTTP).
type TaskOverride struct {
	Name            string
	DesiredPeriodUs uint64
	StaticPriority  int
	Enabled         bool
	HasPriority     bool
	HasPeriod       bool
	HasEnabled      bool
}

// RuntimeConfig is the daemon's resolved configuration.
type RuntimeConfig struct {
	HTTPBind              string
	StatisticsEnabled     bool
	SchedulerDelayLimitUs uint64
	GuardIntervalUs       int64
	PinnedCPU             int
	DiagnosticsIntervalMs int64
	DebugEnabled          bool
	TaskOverrides         []TaskOverride
}

// fileTaskOverride is the YAML shape for one task override entry.
type fileTaskOverride struct {
	Name            string  `yaml:"name"`
	DesiredPeriodUs *uint64 `yaml:"periodUs"`
	StaticPriority  *int    `yaml:"staticPriority"`
	Enabled         *bool   `yaml:"enabled"`
}

// fileConfig is the YAML document shape. Every scalar field is a pointer
// so an absent key leaves the corresponding default untouched, mirroring
// the daemon predecessor's fileConfig merge pattern.
type fileConfig struct {
	HTTP struct {
		Bind *string `yaml:"bind"`
	} `yaml:"http"`
	Statistics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"statistics"`
	Scheduler struct {
		DelayLimitUs   *uint64 `yaml:"delayLimitUs"`
		GuardIntervalUs *int64 `yaml:"guardIntervalUs"`
		PinnedCPU      *int    `yaml:"pinnedCpu"`
	} `yaml:"scheduler"`
	Diagnostics struct {
		IntervalMs *int64 `yaml:"intervalMs"`
	} `yaml:"diagnostics"`
	Debug struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"debug"`
	Tasks []fileTaskOverride `yaml:"tasks"`
}

// Default returns the built-in configuration: no task overrides, stats
// disabled (matching an embedded build compiled without the statistics
// engine), HTTP bound to localhost only.
func Default() RuntimeConfig {
	return RuntimeConfig{
		HTTPBind:              "127.0.0.1:9108",
		StatisticsEnabled:     false,
		SchedulerDelayLimitUs: 100,
		GuardIntervalUs:       5,
		PinnedCPU:             -1,
		DiagnosticsIntervalMs: 1000,
	}
}

// Load reads path (if non-empty and present), merges it onto Default(),
// then applies environment overrides. A missing file is not an error —
// Default() plus env overrides still apply.
func Load(path string) (RuntimeConfig, error) {
	cfg := Default()

	trimmed := strings.TrimSpace(path)
	if trimmed != "" {
		data, err := os.ReadFile(trimmed)

		switch {
		case err == nil:
			var fc fileConfig

			if err := yaml.Unmarshal(data, &fc); err != nil {
				return RuntimeConfig{}, fmt.Errorf("decode config file %q: %w", trimmed, err)
			}

			mergeFile(&cfg, fc)
		case errors.Is(err, os.ErrNotExist):
			// Fall through to env overrides on top of defaults.
		default:
			return RuntimeConfig{}, fmt.Errorf("read config file %q: %w", trimmed, err)
		}
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func mergeFile(cfg *RuntimeConfig, fc fileConfig) {
	if fc.HTTP.Bind != nil {
		cfg.HTTPBind = strings.TrimSpace(*fc.HTTP.Bind)
	}

	if fc.Statistics.Enabled != nil {
		cfg.StatisticsEnabled = *fc.Statistics.Enabled
	}

	if fc.Scheduler.DelayLimitUs != nil {
		cfg.SchedulerDelayLimitUs = *fc.Scheduler.DelayLimitUs
	}

	if fc.Scheduler.GuardIntervalUs != nil {
		cfg.GuardIntervalUs = *fc.Scheduler.GuardIntervalUs
	}

	if fc.Scheduler.PinnedCPU != nil {
		cfg.PinnedCPU = *fc.Scheduler.PinnedCPU
	}

	if fc.Diagnostics.IntervalMs != nil {
		cfg.DiagnosticsIntervalMs = *fc.Diagnostics.IntervalMs
	}

	if fc.Debug.Enabled != nil {
		cfg.DebugEnabled = *fc.Debug.Enabled
	}

	for _, t := range fc.Tasks {
		override := TaskOverride{Name: strings.TrimSpace(t.Name)}

		if t.DesiredPeriodUs != nil {
			override.DesiredPeriodUs = *t.DesiredPeriodUs
			override.HasPeriod = true
		}

		if t.StaticPriority != nil {
			override.StaticPriority = *t.StaticPriority
			override.HasPriority = true
		}

		if t.Enabled != nil {
			override.Enabled = *t.Enabled
			override.HasEnabled = true
		}

		cfg.TaskOverrides = append(cfg.TaskOverrides, override)
	}
}

var lookupEnv = os.LookupEnv //nolint:gochecknoglobals // overridden in tests

func applyEnvOverrides(cfg *RuntimeConfig) {
	cfg.HTTPBind = envString(envHTTPBind, cfg.HTTPBind)
	cfg.StatisticsEnabled = envBool(envStatsEnabled, cfg.StatisticsEnabled)
	cfg.SchedulerDelayLimitUs = envUint64(envSchedulerDelay, cfg.SchedulerDelayLimitUs)
	cfg.GuardIntervalUs = envInt64(envGuardInterval, cfg.GuardIntervalUs)
	cfg.PinnedCPU = envInt(envPinnedCPU, cfg.PinnedCPU)
	cfg.DiagnosticsIntervalMs = envInt64(envDiagnosticsEvery, cfg.DiagnosticsIntervalMs)
	cfg.DebugEnabled = envBool(envDebugEnabled, cfg.DebugEnabled)

	if cfg.SchedulerDelayLimitUs == 0 {
		cfg.SchedulerDelayLimitUs = Default().SchedulerDelayLimitUs
	}
}

func envString(key, fallback string) string {
	v, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return fallback
	}

	return trimmed
}

func envBool(key string, fallback bool) bool {
	v, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}

	return parsed
}

func envUint64(key string, fallback uint64) uint64 {
	v, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback
	}

	return parsed
}

func envInt64(key string, fallback int64) int64 {
	v, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback
	}

	return parsed
}

// Clone deep-copies cfg so a SIGHUP reload can diff the new configuration
// against a snapshot of the one currently running without aliasing its
// TaskOverrides slice.
func Clone(cfg RuntimeConfig) RuntimeConfig {
	return clone.Clone(cfg).(RuntimeConfig)
}

func envInt(key string, fallback int) int {
	v, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}

	return parsed
}
