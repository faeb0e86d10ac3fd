package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"agentgraph/internal/observability"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g.
// AGENTGRAPH_SCHEDULER_MAX_PARALLEL.
const EnvPrefix = "AGENTGRAPH"

// EnvLookup resolves an environment variable.
type EnvLookup func(key string) (string, bool)

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	configPath string
	searchDirs []string
	overrides  map[string]any
}

// WithEnv supplies a custom environment lookup.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.envLookup = lookup
		}
	}
}

// WithConfigPath reads exactly the given YAML file, which must exist.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = strings.TrimSpace(path)
	}
}

// WithSearchDirs replaces the directories searched for agentgraph.yaml.
func WithSearchDirs(dirs ...string) Option {
	return func(o *loadOptions) {
		o.searchDirs = dirs
	}
}

// WithOverrides applies values by dotted key above every other source.
func WithOverrides(values map[string]any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = make(map[string]any, len(values))
		}
		for k, v := range values {
			o.overrides[k] = v
		}
	}
}

// Load resolves the configuration. Precedence, lowest first: defaults, the
// config file, environment, overrides.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{
		envLookup:  os.LookupEnv,
		searchDirs: []string{".", "$HOME/.agentgraph"},
	}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if options.configPath != "" {
		v.SetConfigFile(options.configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", options.configPath, err)
		}
	} else if len(options.searchDirs) > 0 {
		v.SetConfigName("agentgraph")
		for _, dir := range options.searchDirs {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for _, key := range v.AllKeys() {
		if value, ok := options.envLookup(EnvKey(key)); ok {
			v.Set(key, value)
		}
	}
	for key, value := range options.overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Snapshots.Backend = strings.ToLower(strings.TrimSpace(cfg.Snapshots.Backend))
	cfg.Audit.Backend = strings.ToLower(strings.TrimSpace(cfg.Audit.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnvKey returns the environment variable that overrides a dotted key.
func EnvKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.max_parallel", 4)
	v.SetDefault("scheduler.timeout", "0s")
	v.SetDefault("scheduler.retry.max_attempts", 1)
	v.SetDefault("scheduler.retry.base_delay", "0s")
	v.SetDefault("scheduler.retry.factor", 2.0)
	v.SetDefault("scheduler.retry.jitter", "0s")
	v.SetDefault("scheduler.failure_policy.default_retryable", true)

	v.SetDefault("snapshots.backend", BackendFile)
	v.SetDefault("snapshots.dir", "~/.agentgraph/snapshots")
	v.SetDefault("snapshots.database_url", "")
	v.SetDefault("snapshots.cache_size", 256)
	v.SetDefault("snapshots.retention.max_per_task", 10)
	v.SetDefault("snapshots.retention.stale_after", "720h")
	v.SetDefault("snapshots.retention.schedule", "")

	v.SetDefault("audit.backend", BackendMemory)
	v.SetDefault("audit.database_url", "")

	v.SetDefault("agents.rate_per_second", 0.0)
	v.SetDefault("agents.burst", 1)

	for key, value := range observabilityDefaults() {
		v.SetDefault(key, value)
	}
}


func observabilityDefaults() map[string]any {
	obs := observability.DefaultConfig()
	return map[string]any{
		"observability.logging.level":           obs.Logging.Level,
		"observability.logging.format":          obs.Logging.Format,
		"observability.metrics.enabled":         obs.Metrics.Enabled,
		"observability.metrics.prometheus_port": obs.Metrics.PrometheusPort,
		"observability.tracing.enabled":         obs.Tracing.Enabled,
		"observability.tracing.exporter":        obs.Tracing.Exporter,
		"observability.tracing.otlp_endpoint":   obs.Tracing.OTLPEndpoint,
		"observability.tracing.zipkin_endpoint": obs.Tracing.ZipkinEndpoint,
		"observability.tracing.sample_rate":     obs.Tracing.SampleRate,
		"observability.tracing.service_name":    obs.Tracing.ServiceName,
		"observability.tracing.service_version": obs.Tracing.ServiceVersion,
	}
}
