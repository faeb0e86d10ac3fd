package retention

import (
	"context"
	"errors"
	"time"

	"agentgraph/internal/domain/graph"
	"agentgraph/internal/shared/logging"
)

// Report describes one prune run.
type Report struct {
	StartedAt time.Time           `json:"startedAt"`
	Duration  time.Duration       `json:"duration"`
	Policy    graph.CleanupPolicy `json:"policy"`
	Result    graph.CleanupResult `json:"result"`
	Error     string              `json:"error,omitempty"`
}

// Notifier receives prune reports.
type Notifier interface {
	NotifyPrune(ctx context.Context, report Report) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, report Report) error

func (f NotifierFunc) NotifyPrune(ctx context.Context, report Report) error { return f(ctx, report) }

// NopNotifier discards reports.
type NopNotifier struct{}

func (NopNotifier) NotifyPrune(context.Context, Report) error { return nil }

// LogNotifier writes one line per report.
type LogNotifier struct {
	logger logging.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger)}
}

func (n *LogNotifier) NotifyPrune(_ context.Context, report Report) error {
	if report.Error != "" {
		n.logger.Warn("retention: prune failed after %s: %s", report.Duration, report.Error)
		return nil
	}
	n.logger.Info("retention: pruned %d snapshots in %s", report.Result.DeletedCount, report.Duration)
	return nil
}

// CompositeNotifier fans out to every notifier.
type CompositeNotifier struct {
	notifiers []Notifier
}

// NewCompositeNotifier creates a notifier that fans out to all provided notifiers.
func NewCompositeNotifier(notifiers ...Notifier) *CompositeNotifier {
	return &CompositeNotifier{notifiers: notifiers}
}

// NotifyPrune delivers to every notifier and joins their errors.
func (c *CompositeNotifier) NotifyPrune(ctx context.Context, report Report) error {
	var errs []error
	for _, n := range c.notifiers {
		if err := n.NotifyPrune(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
