package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	// Opening the store migrates it.
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		if err := a.store.Ping(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.StyleSuccess.Render("✓"), "schema up to date on", a.store.Driver())
		return nil
	}),
}

var setStatusCmd = &cobra.Command{
	Use:   "set-status <project> <status>",
	Short: "Change a project's status and resynchronize phase-tagged tasks",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		status, err := project.ParseStatus(args[1])
		if err != nil {
			return err
		}
		projectID, err := a.resolveProject(ctx, args[0])
		if err != nil {
			return err
		}
		p, err := a.projects.UpdateStatus(ctx, actor(), projectID, status)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", p.ID, p.Status)
		return nil
	}),
}

var syncVisibilityCmd = &cobra.Command{
	Use:   "sync-visibility [project...]",
	Short: "Re-evaluate conditional tags and update task visibility",
	Long: `Re-evaluates every conditional tag against live project state and flips
the hidden flag of tasks that disagree. With no arguments every project is
synchronized. With --every the sync repeats until interrupted.`,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		ids := make([]string, 0, len(args))
		for _, arg := range args {
			id, err := a.resolveProject(ctx, arg)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		every, _ := cmd.Flags().GetDuration("every")
		for {
			results, err := a.visibility.SyncProjects(ctx, actor(), ids)
			if err != nil {
				return err
			}
			ui.RenderSync(cmd.OutOrStdout(), results)
			if every <= 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(every):
			}
		}
	}),
}

func init() {
	syncVisibilityCmd.Flags().Duration("every", 0, "repeat the sync at this interval")
	rootCmd.AddCommand(migrateCmd, setStatusCmd, syncVisibilityCmd)
}
