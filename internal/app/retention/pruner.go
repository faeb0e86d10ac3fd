// Package retention prunes execution snapshots on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentgraph/internal/domain/graph"
	"agentgraph/internal/shared/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

// Config holds pruner configuration.
type Config struct {
	// Schedule is a five-field cron expression.
	Schedule string
	// ConcurrencyPolicy is "skip" (default) or "delay" for overlapping ticks.
	ConcurrencyPolicy string
	// Policy builds the cleanup policy for a tick at now.
	Policy func(now time.Time) graph.CleanupPolicy
	// Registerer receives the pruner's metrics; nil disables them.
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Pruner runs snapshot cleanup on a schedule using robfig/cron.
type Pruner struct {
	cron     *cron.Cron
	store    graph.SnapshotStore
	notifier Notifier
	config   Config
	logger   logging.Logger
	deleted  prometheus.Counter
	failures prometheus.Counter

	mu       sync.Mutex
	entryID  cron.EntryID
	started  bool
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a Pruner. Start registers the schedule.
func New(cfg Config, store graph.SnapshotStore, notifier Notifier, logger logging.Logger) (*Pruner, error) {
	if store == nil {
		return nil, errors.New("retention pruner requires a snapshot store")
	}
	if cfg.Policy == nil {
		return nil, errors.New("retention pruner requires a policy")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	logger = logging.OrNop(logger)

	p := &Pruner{
		cron:     newCron(cfg, logger),
		store:    store,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		stopped:  make(chan struct{}),
	}
	if cfg.Registerer != nil {
		p.deleted = register(cfg.Registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Subsystem: "retention",
			Name:      "snapshots_deleted_total",
			Help:      "Snapshots deleted by scheduled pruning.",
		}))
		p.failures = register(cfg.Registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Subsystem: "retention",
			Name:      "prune_failures_total",
			Help:      "Scheduled prune runs that returned an error.",
		}))
	}
	return p, nil
}

func newCron(cfg Config, logger logging.Logger) *cron.Cron {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	var wrapper cron.JobWrapper
	switch policy := strings.ToLower(strings.TrimSpace(cfg.ConcurrencyPolicy)); policy {
	case "delay":
		wrapper = cron.DelayIfStillRunning(cron.DiscardLogger)
	case "skip", "":
		wrapper = cron.SkipIfStillRunning(cron.DiscardLogger)
	default:
		logger.Warn("retention: unknown concurrency policy %q, defaulting to skip", policy)
		wrapper = cron.SkipIfStillRunning(cron.DiscardLogger)
	}
	return cron.New(cron.WithParser(parser), cron.WithChain(wrapper))
}

func register(reg prometheus.Registerer, counter prometheus.Counter) prometheus.Counter {
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
		panic(err)
	}
	return counter
}

// Start registers the prune schedule and starts cron. The pruner stops when
// ctx is done.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	schedule := strings.TrimSpace(p.config.Schedule)
	if schedule == "" {
		return errors.New("retention: schedule is required")
	}
	entryID, err := p.cron.AddFunc(schedule, func() {
		if _, err := p.RunOnce(ctx); err != nil {
			p.logger.Warn("retention: scheduled prune failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	p.entryID = entryID
	p.started = true

	p.cron.Start()
	p.logger.Info("retention: pruning snapshots on %q", schedule)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop waits for a running prune and stops the pruner. Safe to call multiple
// times.
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() {
		<-p.cron.Stop().Done()
		close(p.stopped)
		p.logger.Info("retention: stopped")
	})
}

// Done is closed once the pruner has fully stopped.
func (p *Pruner) Done() <-chan struct{} {
	return p.stopped
}

// Next returns the next scheduled run, or the zero time before Start.
func (p *Pruner) Next() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return time.Time{}
	}
	return p.cron.Entry(p.entryID).Next
}

// RunOnce applies the policy immediately and notifies the result.
func (p *Pruner) RunOnce(ctx context.Context) (Report, error) {
	started := p.config.Now()
	policy := p.config.Policy(started)
	report := Report{StartedAt: started, Policy: policy}

	result, err := p.store.Cleanup(ctx, policy)
	report.Duration = p.config.Now().Sub(started)
	if err != nil {
		report.Error = err.Error()
		if p.failures != nil {
			p.failures.Inc()
		}
		p.notify(ctx, report)
		return report, err
	}

	report.Result = result
	if p.deleted != nil {
		p.deleted.Add(float64(result.DeletedCount))
	}
	p.notify(ctx, report)
	return report, nil
}

func (p *Pruner) notify(ctx context.Context, report Report) {
	if err := p.notifier.NotifyPrune(context.WithoutCancel(ctx), report); err != nil {
		p.logger.Warn("retention: notify failed: %v", err)
	}
}
