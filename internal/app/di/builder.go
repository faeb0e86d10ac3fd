package di

import (
	"context"
	"fmt"

	"agentgraph/internal/app/resume"
	"agentgraph/internal/app/scheduler"
	"agentgraph/internal/config"
	"agentgraph/internal/domain/graph"
	"agentgraph/internal/domain/task"
	"agentgraph/internal/infra/agents"
	"agentgraph/internal/infra/filestore"
	"agentgraph/internal/infra/snapshot"
	"agentgraph/internal/infra/taskevents"
	"agentgraph/internal/observability"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSnapshotDir = "~/.agentgraph/snapshots"

type postgresInitError struct {
	step string
	err  error
}

func (e postgresInitError) Error() string {
	return fmt.Sprintf("%s: %v", e.step, e.err)
}

func (e postgresInitError) Unwrap() error {
	return e.err
}

// BuildContainer wires every service described by cfg. Callers must
// Shutdown the container.
func BuildContainer(cfg config.Config, opts Options) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, pools: map[string]*pgxpool.Pool{}}
	c.Logger = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: opts.LogOutput,
	})
	observability.InstallDefault(c.Logger)

	if err := c.build(cfg, opts); err != nil {
		_ = c.Shutdown(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) build(cfg config.Config, opts Options) error {
	var err error
	c.Tracing, err = observability.NewTracerProvider(cfg.Observability.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	c.Metrics, err = observability.NewMetricsCollector(cfg.Observability.Metrics)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	c.Registerer = opts.Registerer
	if opts.Registerer != nil {
		c.SchedulerMetrics = scheduler.MustNewMetrics(opts.Registerer)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPoolConnectTimeout*2)
	defer cancel()

	if c.Snapshots, err = c.buildSnapshotStore(ctx, cfg.Snapshots); err != nil {
		return err
	}
	if c.Events, err = c.buildEventStore(ctx, cfg); err != nil {
		return err
	}

	c.Agents = opts.Agents
	if c.Agents == nil {
		c.Agents = agents.Builtins(agents.Options{
			RatePerSecond: cfg.Agents.RatePerSecond,
			Burst:         cfg.Agents.Burst,
		})
	}

	base := scheduler.Config{
		Logger:  c.componentLogger("scheduler"),
		Metrics: c.SchedulerMetrics,
		Tracer:  c.Tracing.Tracer(),
	}
	schedulerCfg := base
	schedulerCfg.Resolver = c.Agents
	c.Scheduler = scheduler.New(schedulerCfg)

	resumeCfg := resume.Config{
		Store:      c.Snapshots,
		Runner:     resume.SchedulerFactory(base),
		Delegate:   c.Agents,
		RunOptions: c.RunOptions(),
		Logger:     c.componentLogger("resume"),
		Metrics:    c.Metrics,
		Tracer:     c.Tracing.Tracer(),
	}
	if c.Events != nil {
		resumeCfg.Events = c.Events
	}
	c.Resume, err = resume.NewService(resumeCfg)
	if err != nil {
		return fmt.Errorf("resume service: %w", err)
	}
	return nil
}

func (c *Container) buildSnapshotStore(ctx context.Context, cfg config.SnapshotConfig) (graph.SnapshotStore, error) {
	var store graph.SnapshotStore
	switch cfg.Backend {
	case config.BackendMemory:
		return snapshot.NewMemoryStore(), nil
	case config.BackendFile:
		dir := filestore.ResolvePath(cfg.Dir, defaultSnapshotDir)
		fileStore, err := snapshot.NewFileStore(dir)
		if err != nil {
			return nil, fmt.Errorf("open snapshot dir %s: %w", dir, err)
		}
		c.Logger.Info("snapshot persistence backed by files", "dir", dir)
		store = fileStore
	case config.BackendPostgres:
		pool, err := c.pool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pgStore, err := snapshot.NewPostgresStore(pool)
		if err != nil {
			return nil, err
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return nil, postgresInitError{step: "initialize snapshot schema", err: err}
		}
		c.Logger.Info("snapshot persistence backed by postgres")
		store = pgStore
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}

	if cfg.CacheSize <= 0 {
		return store, nil
	}
	cached, err := snapshot.NewCachedStore(store, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	return cached, nil
}

func (c *Container) buildEventStore(ctx context.Context, cfg config.Config) (task.EventStore, error) {
	switch cfg.Audit.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return taskevents.NewMemoryStore(), nil
	case config.BackendPostgres:
		pool, err := c.pool(ctx, cfg.AuditDatabaseURL())
		if err != nil {
			return nil, err
		}
		store, err := taskevents.NewPostgresStore(pool)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, postgresInitError{step: "initialize task event schema", err: err}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
}

// pool opens one pgx pool per database URL and shares it across stores.
func (c *Container) pool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	if pool, ok := c.pools[dbURL]; ok {
		return pool, nil
	}

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, postgresInitError{step: "parse database config", err: err}
	}
	applyPoolDefaults(poolConfig)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, postgresInitError{step: "create database pool", err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, postgresInitError{step: "ping database", err: err}
	}
	c.pools[dbURL] = pool
	return pool, nil
}

func applyPoolDefaults(poolConfig *pgxpool.Config) {
	poolConfig.MaxConns = defaultPoolMaxConns
	poolConfig.MinConns = defaultPoolMinConns
	poolConfig.MaxConnLifetime = defaultPoolMaxConnLifetime
	poolConfig.MaxConnIdleTime = defaultPoolMaxConnIdleTime
	poolConfig.HealthCheckPeriod = defaultPoolHealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = defaultPoolConnectTimeout
	poolConfig.ConnConfig.StatementCacheCapacity = defaultStatementCache
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
}

