package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenamanage/planengine/internal/ui"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the work templates in the templates directory",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		names, err := a.templates.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.StyleSubtle.Render("no templates in "+a.cfg.Templates.Dir))
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}),
}

var applyTemplateCmd = &cobra.Command{
	Use:   "apply-template <project> <name>",
	Short: "Create a template's tasks in a project",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		startFlag, _ := cmd.Flags().GetString("start")
		start, err := parseDate(startFlag)
		if err != nil {
			return err
		}
		projectID, err := a.resolveProject(ctx, args[0])
		if err != nil {
			return err
		}
		tpl, err := a.templates.Load(args[1])
		if err != nil {
			return err
		}
		res, err := a.applier.Apply(ctx, actor(), projectID, tpl, start)
		if err != nil {
			return err
		}
		ui.RenderTemplateResult(cmd.OutOrStdout(), tpl.Name, res)
		return nil
	}),
}

func init() {
	applyTemplateCmd.Flags().String("start", "", "anchor date for task offsets (YYYY-MM-DD); dates stay unset when empty")
	rootCmd.AddCommand(templatesCmd, applyTemplateCmd)
}
