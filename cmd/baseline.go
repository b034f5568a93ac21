package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenamanage/planengine/internal/baseline"
	"github.com/zenamanage/planengine/internal/ui"
)

const dateFlagLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateFlagLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("dates use YYYY-MM-DD: %w", err)
	}
	return t, nil
}

var evmCmd = &cobra.Command{
	Use:   "evm <baseline>",
	Short: "Compare a project against a baseline with earned value metrics",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		asOfFlag, _ := cmd.Flags().GetString("as-of")
		asOf, err := parseDate(asOfFlag)
		if err != nil {
			return err
		}
		id, err := a.resolveBaseline(ctx, args[0])
		if err != nil {
			return err
		}
		report, err := a.baselines.Variance(ctx, id, asOf)
		if err != nil {
			return err
		}
		ui.RenderReport(cmd.OutOrStdout(), *report)
		return nil
	}),
}

var baselineCmd = &cobra.Command{
	Use:   "baseline <project> <contract|execution> <start> <end> <planned-cost>",
	Short: "Record a new baseline version for a project",
	Args:  cobra.ExactArgs(5),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		typ, err := baseline.ParseType(args[1])
		if err != nil {
			return err
		}
		start, err := parseDate(args[2])
		if err != nil {
			return err
		}
		end, err := parseDate(args[3])
		if err != nil {
			return err
		}
		cost, err := strconv.ParseFloat(args[4], 64)
		if err != nil {
			return fmt.Errorf("planned cost must be a number: %w", err)
		}
		note, _ := cmd.Flags().GetString("note")

		projectID, err := a.resolveProject(ctx, args[0])
		if err != nil {
			return err
		}
		b, err := a.baselines.CreateBaseline(ctx, actor(), baseline.NewBaseline{
			ProjectID:   projectID,
			Type:        typ,
			StartDate:   start,
			EndDate:     end,
			PlannedCost: cost,
			Note:        note,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s v%d\n", b.ID, b.Type, b.Version)
		return nil
	}),
}

func init() {
	evmCmd.Flags().String("as-of", "", "evaluate as of this date (YYYY-MM-DD, default today)")
	baselineCmd.Flags().String("note", "", "free-text note stored with the baseline")
	rootCmd.AddCommand(evmCmd, baselineCmd)
}
