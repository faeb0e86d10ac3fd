package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records resume-workflow metrics through OpenTelemetry and
// exposes them, together with the default Prometheus registry, on /metrics.
type MetricsCollector struct {
	meter metric.Meter

	resumePreviews   metric.Int64Counter
	resumeExecutions metric.Int64Counter
	resumeDuration   metric.Float64Histogram

	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port" mapstructure:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector. A disabled config
// yields a collector whose record methods are no-ops.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	collector, err := newMetricsCollector(provider.Meter(tracerName))
	if err != nil {
		return nil, err
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}
	return collector, nil
}

func newMetricsCollector(meter metric.Meter) (*MetricsCollector, error) {
	previews, err := meter.Int64Counter(
		"agentgraph.resume.previews.total",
		metric.WithDescription("Total number of snapshot resume previews"),
		metric.WithUnit("{preview}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resume_previews counter: %w", err)
	}

	executions, err := meter.Int64Counter(
		"agentgraph.resume.executions.total",
		metric.WithDescription("Total number of snapshot resume executions by outcome"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resume_executions counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"agentgraph.resume.duration",
		metric.WithDescription("Wall-clock duration of resumed graph runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resume_duration histogram: %w", err)
	}

	return &MetricsCollector{
		meter:            meter,
		resumePreviews:   previews,
		resumeExecutions: executions,
		resumeDuration:   duration,
	}, nil
}

// StartPrometheusServer serves /metrics in the background.
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	m.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	server := m.prometheusServer
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			NewLogger(LogConfig{}).Error("prometheus server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the metrics server if one was started.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.prometheusServer == nil {
		return nil
	}
	return m.prometheusServer.Shutdown(ctx)
}

// RecordResumePreview counts a preview call.
func (m *MetricsCollector) RecordResumePreview(ctx context.Context, mode string, canResume bool, risk string) {
	if m == nil || m.resumePreviews == nil {
		return
	}
	m.resumePreviews.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("can_resume", canResume),
		attribute.String("risk", risk),
	))
}

// RecordResumeExecution counts an execute call and, when the graph ran, its
// duration.
func (m *MetricsCollector) RecordResumeExecution(ctx context.Context, mode, outcome string, duration time.Duration) {
	if m == nil || m.resumeExecutions == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	m.resumeExecutions.Add(ctx, 1, attrs)
	if duration > 0 {
		m.resumeDuration.Record(ctx, duration.Seconds(), attrs)
	}
}
