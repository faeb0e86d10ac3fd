package main

import (
	"context"
	"fmt"
	"time"

	"agentgraph/internal/app/di"
	"agentgraph/internal/app/scheduler"
	"agentgraph/internal/domain/graph"
	jsonx "agentgraph/internal/shared/json"
	id "agentgraph/internal/shared/utils/id"

	"github.com/spf13/cobra"
)

type runFlags struct {
	taskID      string
	sessionID   string
	snapshotID  string
	maxParallel int
	timeout     time.Duration
	watch       bool
}

func newRunCommand(a *app) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <graph.yaml>",
		Short: "Execute a task graph",
		Long: "Execute a task graph with the built-in agents. An interrupt stops new\n" +
			"waves, lets running nodes finish and leaves a resumable snapshot.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := graph.LoadFile(args[0])
			if err != nil {
				return err
			}
			return a.withContainer(cmd, func(c *di.Container) error {
				return a.runGraph(cmd.Context(), c, g, flags)
			})
		},
	}
	cmd.Flags().StringVar(&flags.taskID, "task-id", "", "Task id recorded on the snapshot (generated when empty)")
	cmd.Flags().StringVar(&flags.sessionID, "session-id", "", "Session id recorded on the snapshot")
	cmd.Flags().StringVar(&flags.snapshotID, "snapshot-id", "", "Snapshot id (generated when empty)")
	cmd.Flags().IntVar(&flags.maxParallel, "max-parallel", 0, "Override scheduler.max_parallel")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Override scheduler.timeout")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "Stream lifecycle events to stderr as JSON lines")
	return cmd
}

// runGraph executes g. The signal context only stops new waves; the run
// itself gets a context that survives the interrupt so running nodes settle.
func (a *app) runGraph(ctx context.Context, c *di.Container, g *graph.TaskGraph, flags runFlags) error {
	opts := c.RunOptions()
	if flags.maxParallel > 0 {
		opts.MaxParallel = flags.maxParallel
	}
	if flags.timeout > 0 {
		opts.Timeout = flags.timeout
	}
	opts.SnapshotID = flags.snapshotID
	opts.ShouldCancel = func() bool { return ctx.Err() != nil }
	if flags.watch {
		enc := jsonx.NewEncoder(a.stderr)
		opts.Listener = scheduler.ListenerFunc(func(e scheduler.Event) {
			_ = enc.Encode(e)
		})
	}

	execCtx := graph.ExecutionContext{TaskID: flags.taskID, SessionID: flags.sessionID}
	if execCtx.TaskID == "" {
		execCtx.TaskID = id.NewTaskID()
	}

	result, err := c.Scheduler.Run(context.WithoutCancel(ctx), g, execCtx, opts)
	if err != nil {
		return err
	}
	if err := a.printJSON(result); err != nil {
		return err
	}
	switch result.Status {
	case graph.StatusSucceeded:
		return nil
	case graph.StatusCanceled:
		if ctx.Err() != nil {
			return fmt.Errorf("%w: resume with snapshot %s", errInterrupted, result.SnapshotID)
		}
	}
	return fmt.Errorf("graph %s finished %s (snapshot %s)", result.GraphID, result.Status, result.SnapshotID)
}

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.yaml>...",
		Short: "Check graph definitions for structural errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				g, err := graph.LoadFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(a.stdout, "FAIL %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(a.stdout, "ok   %s (%d nodes, signature %s)\n", path, len(g.Nodes), graph.Signature(g))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d graphs invalid", failed, len(args))
			}
			return nil
		},
	}
}
