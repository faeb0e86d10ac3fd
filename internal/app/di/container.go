// Package di assembles the agentgraph runtime from configuration.
package di

import (
	"context"
	"errors"
	"io"
	"time"

	"agentgraph/internal/app/resume"
	"agentgraph/internal/app/scheduler"
	"agentgraph/internal/config"
	"agentgraph/internal/domain/graph"
	"agentgraph/internal/domain/task"
	"agentgraph/internal/observability"
	"agentgraph/internal/shared/logging"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultPoolMaxConns          = 10
	defaultPoolMinConns          = 1
	defaultPoolMaxConnLifetime   = 1 * time.Hour
	defaultPoolMaxConnIdleTime   = 30 * time.Minute
	defaultPoolHealthCheckPeriod = 1 * time.Minute
	defaultPoolConnectTimeout    = 5 * time.Second
	defaultStatementCache        = 256
)

// Options tune BuildContainer beyond the loaded configuration.
type Options struct {
	// Agents replaces the built-in agent registry.
	Agents graph.Registry
	// Registerer receives scheduler metrics; defaults to the global registry.
	Registerer prometheus.Registerer
	// LogOutput defaults to stderr.
	LogOutput io.Writer
}

// Container holds the wired application services.
type Container struct {
	Config config.Config

	Logger           *observability.Logger
	Tracing          *observability.TracerProvider
	Metrics          *observability.MetricsCollector
	SchedulerMetrics *scheduler.Metrics
	// Registerer is where component metrics are registered; nil disables
	// optional collectors.
	Registerer prometheus.Registerer

	Snapshots graph.SnapshotStore
	// Events is nil when the audit backend is "none".
	Events    task.EventStore
	Agents    graph.Registry
	Scheduler *scheduler.Scheduler
	Resume    *resume.Service

	pools map[string]*pgxpool.Pool
}

// RunOptions returns the scheduler options implied by configuration, with
// snapshots persisted to the configured store.
func (c *Container) RunOptions() scheduler.Options {
	return scheduler.Options{
		MaxParallel:   c.Config.Scheduler.MaxParallel,
		Timeout:       c.Config.Scheduler.Timeout,
		DefaultRetry:  c.Config.Scheduler.RetryDefault(),
		FailurePolicy: c.Config.Scheduler.Policy(),
		SnapshotStore: c.Snapshots,
	}
}

// CleanupPolicy returns the configured retention relative to now.
func (c *Container) CleanupPolicy(now time.Time) graph.CleanupPolicy {
	return c.Config.Snapshots.Retention.CleanupPolicy(now)
}

// Shutdown flushes telemetry and closes database pools.
func (c *Container) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if err := c.Tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.Metrics.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, pool := range c.pools {
		pool.Close()
	}
	c.pools = nil
	return errors.Join(errs...)
}

func (c *Container) componentLogger(component string) logging.Logger {
	return logging.FromObservability(c.Logger, component)
}
