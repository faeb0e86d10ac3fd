package main

import (
	"errors"

	"agentgraph/internal/app/di"
	"agentgraph/internal/app/resume"

	"github.com/spf13/cobra"
)

func newResumeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Preview or execute a resume from a snapshot",
	}
	cmd.AddCommand(newResumePreviewCommand(a), newResumeExecuteCommand(a))
	return cmd
}

func newResumePreviewCommand(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "preview <snapshot-id>",
		Short: "Show what a resume would run and how risky it is",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, func(c *di.Container) error {
				preview, err := c.Resume.Preview(cmd.Context(), args[0], resume.Mode(mode))
				if err != nil {
					return err
				}
				return a.printJSON(preview)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(resume.ModeSafe), "Resume mode (safe|delegate)")
	return cmd
}

func newResumeExecuteCommand(a *app) *cobra.Command {
	var (
		mode        string
		confirmed   bool
		maxParallel int
	)
	cmd := &cobra.Command{
		Use:   "execute <snapshot-id>",
		Short: "Resume a canceled or failed run",
		Long: "Resume a canceled or failed run. Safe mode marks pending nodes as\n" +
			"resumed without running agents; delegate mode runs the real agents\n" +
			"and always needs --yes.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := resume.ParseMode(mode)
			if err != nil {
				return err
			}
			return a.withContainer(cmd, func(c *di.Container) error {
				result, err := c.Resume.Execute(cmd.Context(), resume.ExecuteRequest{
					SnapshotID:  args[0],
					Confirmed:   confirmed,
					Mode:        parsed,
					MaxParallel: maxParallel,
				})
				if err != nil {
					return err
				}
				if err := a.printJSON(result); err != nil {
					return err
				}
				if !result.Executed {
					return errors.New("resume refused: " + result.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(resume.ModeSafe), "Resume mode (safe|delegate)")
	cmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm a resume that requires confirmation")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "Override scheduler.max_parallel for the resumed run")
	return cmd
}
