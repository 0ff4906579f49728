package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

func newToolsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tools [agent-id]",
		Short: "List the tool catalogue, or the tools an agent can run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []tools.ToolInfo
			if len(args) == 0 {
				for _, t := range tools.Catalog() {
					list = append(list, t.Info())
				}
			} else {
				a, err := c.services()
				if err != nil {
					return err
				}
				if list, err = a.Tools.GetAvailableTools(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("tools: %w", err)
				}
			}
			if c.asJSON {
				return c.printJSON(cmd.OutOrStdout(), list)
			}
			tw := table(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TOOL\tCAPABILITY\tLEVEL\tCONNECTIONS")
			for _, t := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", t.Name, t.Capability, t.AccessLevel, len(t.Connections))
			}
			return tw.Flush()
		},
	}
}

func newTasksCmd(c *cli) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks <agent-id>",
		Short: "List and manage scheduled workspace commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.services()
			if err != nil {
				return err
			}
			list, err := a.Scheduler.GetAgentTasks(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("tasks: %w", err)
			}
			if c.asJSON {
				return c.printJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				cmd.Printf("Agent %s has no scheduled tasks.\n", args[0])
				return nil
			}
			tw := table(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tCOMMAND\tSTATUS\tNEXT RUN\tRETRIES\tLAST ERROR")
			for _, t := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n", t.ID, t.Command.Type, t.Status, t.NextRun.Format("2006-01-02 15:04"), t.RetryCount, t.MaxRetries, t.LastError)
			}
			return tw.Flush()
		},
	}

	tasksCmd.AddCommand(&cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.services()
			if err != nil {
				return err
			}
			if err := a.Scheduler.CancelScheduledTask(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("cancel: %w", err)
			}
			cmd.Printf("🛑 Cancelled %s\n", args[0])
			return nil
		},
	})

	tasksCmd.AddCommand(&cobra.Command{
		Use:   "run-due",
		Short: "Run every due task once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.services()
			if err != nil {
				return err
			}
			report, err := a.Scheduler.ProcessDueTasks(cmd.Context())
			if err != nil {
				return fmt.Errorf("run due tasks: %w", err)
			}
			if c.asJSON {
				return c.printJSON(cmd.OutOrStdout(), report)
			}
			cmd.Printf("Due %d, completed %d, retried %d, failed %d, skipped %d\n",
				report.Due, report.Completed, report.Retried, report.Failed, report.Skipped)
			return nil
		},
	})
	return tasksCmd
}
