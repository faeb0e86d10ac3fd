package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"agentgraph/internal/app/di"
	"agentgraph/internal/config"
	jsonx "agentgraph/internal/shared/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// errInterrupted is returned when a signal stopped the command.
var errInterrupted = errors.New("interrupted")

type app struct {
	configPath      string
	logLevel        string
	snapshotBackend string
	snapshotDir     string

	stdout io.Writer
	stderr io.Writer

	// loadOptions and build are replaced in tests.
	loadOptions []config.Option
	build       func(config.Config) (*di.Container, error)
}

func newApp() *app {
	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	a.build = func(cfg config.Config) (*di.Container, error) {
		return di.BuildContainer(cfg, di.Options{LogOutput: a.stderr, Registerer: prometheus.DefaultRegisterer})
	}
	return a
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentgraph",
		Short:         "Run multi-agent task graphs with snapshots and resume",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to agentgraph.yaml")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	flags.StringVar(&a.snapshotBackend, "snapshot-backend", "", "Snapshot store (memory|file|postgres)")
	flags.StringVar(&a.snapshotDir, "snapshot-dir", "", "Directory for the file snapshot store")

	root.AddCommand(
		newRunCommand(a),
		newValidateCommand(a),
		newSnapshotsCommand(a),
		newResumeCommand(a),
		newEventsCommand(a),
	)
	return root
}

func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	opts := append([]config.Option(nil), a.loadOptions...)
	if a.configPath != "" {
		opts = append(opts, config.WithConfigPath(a.configPath))
	}

	overrides := map[string]any{}
	if flags.Changed("log-level") {
		overrides["observability.logging.level"] = a.logLevel
	}
	if flags.Changed("snapshot-backend") {
		overrides["snapshots.backend"] = a.snapshotBackend
	}
	if flags.Changed("snapshot-dir") {
		overrides["snapshots.dir"] = a.snapshotDir
	}
	opts = append(opts, config.WithOverrides(overrides))
	return config.Load(opts...)
}

// withContainer builds the container for one command and shuts it down
// afterwards.
func (a *app) withContainer(cmd *cobra.Command, fn func(*di.Container) error) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	container, err := a.build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
		defer cancel()
		_ = container.Shutdown(ctx)
	}()
	return fn(container)
}

func (a *app) printJSON(v any) error {
	data, err := jsonx.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = a.stdout.Write(data)
	return err
}
