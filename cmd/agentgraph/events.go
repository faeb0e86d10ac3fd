package main

import (
	"errors"
	"fmt"
	"strings"

	"agentgraph/internal/app/di"
	"agentgraph/internal/domain/task"

	"github.com/spf13/cobra"
)

func newEventsCommand(a *app) *cobra.Command {
	var (
		taskID string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List a task's audit events, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(taskID) == "" {
				return fmt.Errorf("--task is required")
			}
			return a.withContainer(cmd, func(c *di.Container) error {
				if c.Events == nil {
					return errors.New("audit backend is disabled")
				}
				events, err := c.Events.ListEvents(cmd.Context(), taskID, limit)
				if err != nil {
					return err
				}
				if events == nil {
					events = []task.Event{}
				}
				return a.printJSON(events)
			})
		},
	}
	list.Flags().StringVar(&taskID, "task", "", "Task id")
	list.Flags().IntVar(&limit, "limit", 0, "Return only the newest N events")

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the task audit trail",
	}
	cmd.AddCommand(list)
	return cmd
}
