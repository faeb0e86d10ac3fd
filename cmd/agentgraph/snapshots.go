package main

import (
	"fmt"
	"strings"
	"time"

	"agentgraph/internal/app/di"
	"agentgraph/internal/app/retention"
	"agentgraph/internal/domain/graph"
	"agentgraph/internal/shared/logging"

	"github.com/spf13/cobra"
)

func newSnapshotsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"snapshot", "snap"},
		Short:   "Inspect and prune execution snapshots",
	}
	cmd.AddCommand(newSnapshotsListCommand(a), newSnapshotsShowCommand(a), newSnapshotsPruneCommand(a))
	return cmd
}

// snapshotSummary is the list view of a snapshot.
type snapshotSummary struct {
	ID        string       `json:"id"`
	GraphID   string       `json:"graphId"`
	Status    graph.Status `json:"status"`
	Nodes     int          `json:"nodes"`
	Completed int          `json:"completed"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func summarize(s graph.ExecutionSnapshot) snapshotSummary {
	completed := 0
	for _, node := range s.Nodes {
		if node.Status == graph.NodeSucceeded {
			completed++
		}
	}
	return snapshotSummary{
		ID:        s.ID,
		GraphID:   s.GraphID,
		Status:    s.Status,
		Nodes:     len(s.Nodes),
		Completed: completed,
		UpdatedAt: s.UpdatedAt,
	}
}

func newSnapshotsListCommand(a *app) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a task's snapshots, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(taskID) == "" {
				return fmt.Errorf("--task is required")
			}
			return a.withContainer(cmd, func(c *di.Container) error {
				snapshots, err := c.Snapshots.ListByTask(cmd.Context(), taskID)
				if err != nil {
					return err
				}
				summaries := make([]snapshotSummary, 0, len(snapshots))
				for _, s := range snapshots {
					summaries = append(summaries, summarize(s))
				}
				return a.printJSON(summaries)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task id")
	return cmd
}

func newSnapshotsShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <snapshot-id>",
		Short: "Print a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, func(c *di.Container) error {
				snapshot, err := c.Snapshots.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printJSON(snapshot)
			})
		},
	}
}

type pruneFlags struct {
	maxPerTask int
	staleAfter time.Duration
	schedule   string
}

func newSnapshotsPruneCommand(a *app) *cobra.Command {
	var flags pruneFlags
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots beyond the retention policy",
		Long: "Delete snapshots beyond the retention policy. With --schedule the\n" +
			"command keeps running and prunes on the given cron expression.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withContainer(cmd, func(c *di.Container) error {
				keep := c.Config.Snapshots.Retention
				if cmd.Flags().Changed("max-per-task") {
					keep.MaxPerTask = flags.maxPerTask
				}
				if cmd.Flags().Changed("stale-after") {
					keep.StaleAfter = flags.staleAfter
				}
				schedule := keep.Schedule
				if cmd.Flags().Changed("schedule") {
					schedule = flags.schedule
				}

				logger := logging.FromObservability(c.Logger, "retention")
				pruner, err := retention.New(retention.Config{
					Schedule:   schedule,
					Policy:     keep.CleanupPolicy,
					Registerer: c.Registerer,
				}, c.Snapshots, retention.NewLogNotifier(logger), logger)
				if err != nil {
					return err
				}
				if strings.TrimSpace(schedule) == "" {
					report, err := pruner.RunOnce(cmd.Context())
					if err != nil {
						return err
					}
					return a.printJSON(report.Result)
				}
				if err := pruner.Start(cmd.Context()); err != nil {
					return err
				}
				<-pruner.Done()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&flags.maxPerTask, "max-per-task", 0, "Snapshots kept per task (0 disables the cap)")
	cmd.Flags().DurationVar(&flags.staleAfter, "stale-after", 0, "Delete snapshots not updated within this window (0 disables)")
	cmd.Flags().StringVar(&flags.schedule, "schedule", "", "Cron expression; run as a daemon until interrupted")
	return cmd
}
