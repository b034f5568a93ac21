package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zenamanage/planengine/internal/ui"
)

var orderCmd = &cobra.Command{
	Use:   "order <project>",
	Short: "Print the visible tasks of a project in execution order",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		projectID, err := a.resolveProject(ctx, args[0])
		if err != nil {
			return err
		}
		tasks, err := a.tasks.ExecutionOrder(ctx, projectID)
		if err != nil {
			return err
		}
		ui.RenderTasks(cmd.OutOrStdout(), "Execution order of "+projectID, tasks)
		return nil
	}),
}

var availableCmd = &cobra.Command{
	Use:   "available <project>",
	Short: "List pending tasks whose dependencies are all completed",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		projectID, err := a.resolveProject(ctx, args[0])
		if err != nil {
			return err
		}
		tasks, err := a.tasks.AvailableTasks(ctx, projectID)
		if err != nil {
			return err
		}
		ui.RenderTasks(cmd.OutOrStdout(), "Available in "+projectID, tasks)
		return nil
	}),
}

var impactCmd = &cobra.Command{
	Use:   "impact <task> <days>",
	Short: "Show the tasks pushed back if a task slips by some days",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		days, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("days must be a whole number: %w", err)
		}
		taskID, err := a.resolveTask(ctx, args[0])
		if err != nil {
			return err
		}
		impacts, err := a.tasks.DelayImpact(ctx, taskID, days)
		if err != nil {
			return err
		}
		ui.RenderImpact(cmd.OutOrStdout(), taskID, days, impacts)
		return nil
	}),
}

var treeCmd = &cobra.Command{
	Use:   "tree <project>",
	Short: "Print the component tree of a project with rolled-up progress and cost",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		projectID, err := a.resolveProject(ctx, args[0])
		if err != nil {
			return err
		}
		if recalc, _ := cmd.Flags().GetBool("recalculate"); recalc {
			if err := a.components.RecalculateProject(ctx, actor(), projectID); err != nil {
				return err
			}
		}
		roots, err := a.components.ComponentTree(ctx, projectID)
		if err != nil {
			return err
		}
		ui.RenderTree(cmd.OutOrStdout(), roots)
		return nil
	}),
}

func init() {
	treeCmd.Flags().Bool("recalculate", false, "recompute the project's progress and cost from its root components before printing")
	rootCmd.AddCommand(orderCmd, availableCmd, impactCmd, treeCmd)
}
