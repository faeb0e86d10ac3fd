// Package config loads agentgraph settings from defaults, an optional YAML
// file and AGENTGRAPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"agentgraph/internal/domain/graph"
	"agentgraph/internal/observability"
)

// Storage backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config is the full application configuration.
type Config struct {
	Scheduler     SchedulerConfig      `mapstructure:"scheduler" yaml:"scheduler"`
	Snapshots     SnapshotConfig       `mapstructure:"snapshots" yaml:"snapshots"`
	Audit         AuditConfig          `mapstructure:"audit" yaml:"audit"`
	Agents        AgentsConfig         `mapstructure:"agents" yaml:"agents"`
	Observability observability.Config `mapstructure:"observability" yaml:"observability"`
}

// SchedulerConfig holds the defaults applied to every run.
type SchedulerConfig struct {
	MaxParallel   int                 `mapstructure:"max_parallel" yaml:"max_parallel"`
	Timeout       time.Duration       `mapstructure:"timeout" yaml:"timeout"`
	Retry         RetryConfig         `mapstructure:"retry" yaml:"retry"`
	FailurePolicy graph.FailurePolicy `mapstructure:"failure_policy" yaml:"failure_policy"`
}

// RetryConfig is the scheduler-wide retry default.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	Factor      float64       `mapstructure:"factor" yaml:"factor"`
	Jitter      time.Duration `mapstructure:"jitter" yaml:"jitter"`
}

// SnapshotConfig selects and tunes the snapshot store.
type SnapshotConfig struct {
	Backend     string          `mapstructure:"backend" yaml:"backend"`
	Dir         string          `mapstructure:"dir" yaml:"dir"`
	DatabaseURL string          `mapstructure:"database_url" yaml:"database_url"`
	CacheSize   int             `mapstructure:"cache_size" yaml:"cache_size"`
	Retention   RetentionConfig `mapstructure:"retention" yaml:"retention"`
}

// RetentionConfig bounds how many snapshots survive a prune.
type RetentionConfig struct {
	MaxPerTask int           `mapstructure:"max_per_task" yaml:"max_per_task"`
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	// Schedule is a cron expression for the prune daemon.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

// AuditConfig selects the task event store.
type AuditConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// AgentsConfig tunes the built-in agents.
type AgentsConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `mapstructure:"burst" yaml:"burst"`
}

// RetryDefault converts the retry section into a graph.RetryConfig.
func (c SchedulerConfig) RetryDefault() graph.RetryConfig {
	retry := graph.RetryConfig{MaxAttempts: c.Retry.MaxAttempts}
	if c.Retry.BaseDelay > 0 || c.Retry.Jitter > 0 {
		retry.Backoff = &graph.Backoff{
			BaseDelayMs: c.Retry.BaseDelay.Milliseconds(),
			Factor:      c.Retry.Factor,
			JitterMs:    c.Retry.Jitter.Milliseconds(),
		}
	}
	return retry
}

// Policy returns a copy of the failure policy for scheduler options.
func (c SchedulerConfig) Policy() *graph.FailurePolicy {
	policy := c.FailurePolicy
	policy.Rules = append([]graph.FailureRule(nil), c.FailurePolicy.Rules...)
	return &policy
}

// CleanupPolicy converts retention into a graph.CleanupPolicy relative to now.
func (r RetentionConfig) CleanupPolicy(now time.Time) graph.CleanupPolicy {
	policy := graph.CleanupPolicy{MaxSnapshotsPerTask: r.MaxPerTask}
	if r.StaleAfter > 0 {
		policy.StaleBefore = now.Add(-r.StaleAfter)
	}
	return policy
}

// AuditDatabaseURL falls back to the snapshot database when the audit
// section names none.
func (c Config) AuditDatabaseURL() string {
	if url := strings.TrimSpace(c.Audit.DatabaseURL); url != "" {
		return url
	}
	return strings.TrimSpace(c.Snapshots.DatabaseURL)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Scheduler.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_parallel must be >= 0, got %d", c.Scheduler.MaxParallel))
	}
	if c.Scheduler.Timeout < 0 {
		errs = append(errs, fmt.Errorf("scheduler.timeout must be >= 0, got %s", c.Scheduler.Timeout))
	}
	if c.Scheduler.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("scheduler.retry.max_attempts must be >= 1, got %d", c.Scheduler.Retry.MaxAttempts))
	}

	switch c.Snapshots.Backend {
	case BackendMemory:
	case BackendFile:
		if strings.TrimSpace(c.Snapshots.Dir) == "" {
			errs = append(errs, errors.New("snapshots.dir is required for the file backend"))
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Snapshots.DatabaseURL) == "" {
			errs = append(errs, errors.New("snapshots.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown snapshots.backend %q", c.Snapshots.Backend))
	}
	if c.Snapshots.Retention.MaxPerTask < 0 {
		errs = append(errs, errors.New("snapshots.retention.max_per_task must be >= 0"))
	}

	switch c.Audit.Backend {
	case BackendNone, BackendMemory:
	case BackendPostgres:
		if c.AuditDatabaseURL() == "" {
			errs = append(errs, errors.New("audit.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit.backend %q", c.Audit.Backend))
	}

	if c.Agents.RatePerSecond < 0 {
		errs = append(errs, errors.New("agents.rate_per_second must be >= 0"))
	}
	return errors.Join(errs...)
}
