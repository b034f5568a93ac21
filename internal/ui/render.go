package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zenamanage/planengine/internal/baseline"
	"github.com/zenamanage/planengine/internal/component"
	"github.com/zenamanage/planengine/internal/task"
	"github.com/zenamanage/planengine/internal/template"
	"github.com/zenamanage/planengine/internal/visibility"
)

const dateLayout = "2006-01-02"

func date(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}

// RenderTasks writes tasks as a numbered table.
func RenderTasks(w io.Writer, title string, tasks []task.Task) {
	fmt.Fprintln(w, StyleHeader.Render(title))
	if len(tasks) == 0 {
		fmt.Fprintln(w, StyleSubtle.Render("  no tasks"))
		return
	}
	tbl := &Table{Headers: []string{"#", "ID", "Name", "Priority", "Status", "Progress", "Start"}, MaxWidth: 40}
	for i, t := range tasks {
		tbl.Rows = append(tbl.Rows, []string{
			fmt.Sprint(i + 1),
			t.ID,
			t.Name,
			string(t.Priority),
			string(t.Status),
			fmt.Sprintf("%.0f%%", t.Progress),
			date(t.StartDate),
		})
	}
	fmt.Fprint(w, tbl.Render())
}

// RenderImpact writes the tasks pushed back by a delay of days.
func RenderImpact(w io.Writer, taskID string, days int, impacts []task.Impact) {
	fmt.Fprintln(w, StyleHeader.Render(fmt.Sprintf("Delay of %d day(s) on %s", days, taskID)))
	if len(impacts) == 0 {
		fmt.Fprintln(w, StyleSubtle.Render("  no dependent tasks"))
		return
	}
	tbl := &Table{Headers: []string{"Depth", "ID", "Name", "Current start", "Projected start"}, MaxWidth: 40}
	for _, imp := range impacts {
		tbl.Rows = append(tbl.Rows, []string{
			fmt.Sprint(imp.Depth),
			imp.Task.ID,
			imp.Task.Name,
			date(imp.CurrentStart),
			date(imp.ProjectedStart),
		})
	}
	fmt.Fprint(w, tbl.Render())
}

// RenderTree writes a component forest with progress and cost per node.
func RenderTree(w io.Writer, roots []*component.Node) {
	if len(roots) == 0 {
		fmt.Fprintln(w, StyleSubtle.Render("no components"))
		return
	}
	for _, root := range roots {
		root.Walk(func(n *component.Node, depth int) {
			fmt.Fprintf(w, "%s%s %s %s\n",
				strings.Repeat("  ", depth),
				StyleTitle.Render(n.Name),
				progressBar(n.Progress, 10),
				StyleSubtle.Render(fmt.Sprintf("%.1f%%  %.2f / %.2f  %s", n.Progress, n.ActualCost, n.PlannedCost, n.ID)))
		})
	}
}

func progressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = max(0, min(width, filled))
	return StyleSuccess.Render(strings.Repeat("█", filled)) + StyleSubtle.Render(strings.Repeat("░", width-filled))
}

// RenderReport writes an earned value report.
func RenderReport(w io.Writer, r baseline.Report) {
	head := fmt.Sprintf("%s baseline v%d of %s as of %s", r.BaselineType, r.BaselineVersion, r.ProjectID, r.AsOf.Format(dateLayout))
	fmt.Fprintln(w, StyleHeader.Render(head))

	tbl := &Table{Headers: []string{"Metric", "Value"}}
	tbl.Rows = [][]string{
		{"Progress", fmt.Sprintf("%.1f%%", r.Progress)},
		{"Planned value", fmt.Sprintf("%.2f", r.PlannedValue)},
		{"Earned value", fmt.Sprintf("%.2f", r.EarnedValue)},
		{"Actual cost", fmt.Sprintf("%.2f", r.ActualCost)},
		{"CPI", fmt.Sprintf("%.2f", r.CPI)},
		{"SPI", fmt.Sprintf("%.2f", r.SPI)},
		{"EAC", fmt.Sprintf("%.2f", r.EAC)},
		{"ETC", fmt.Sprintf("%.2f", r.ETC)},
		{"Days planned / elapsed / expected", fmt.Sprintf("%d / %d / %d", r.PlannedDays, r.ElapsedDays, r.ExpectedDays)},
		{"Budget used", fmt.Sprintf("%.1f%%", r.BudgetUsedPercent)},
	}
	fmt.Fprint(w, tbl.Render())

	fmt.Fprintf(w, "\n Schedule: %s (%+d days)\n", HealthStyle(r.ScheduleStatus).Render(r.ScheduleStatus), r.ScheduleVarianceDays)
	fmt.Fprintf(w, " Cost:     %s (%+.1f%%)\n", HealthStyle(r.CostStatus).Render(r.CostStatus), r.CostVariancePercent)
	fmt.Fprintf(w, " Health:   %s (cost %s)\n\n", HealthStyle(r.Health).Render(r.Health), HealthStyle(r.CostHealth).Render(r.CostHealth))

	fmt.Fprintln(w, StyleBox.Render(strings.Join(r.Recommendations, "\n")))
}

// RenderSync writes the outcome of a visibility sync.
func RenderSync(w io.Writer, results []visibility.SyncResult) {
	tbl := &Table{Headers: []string{"Project", "Changed", "Error"}}
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		tbl.Rows = append(tbl.Rows, []string{r.ProjectID, fmt.Sprint(r.Changed), errText})
	}
	fmt.Fprint(w, tbl.Render())
}

// RenderTemplateResult writes what an applied template created and skipped.
func RenderTemplateResult(w io.Writer, name string, res *template.Result) {
	fmt.Fprintln(w, StyleHeader.Render("Applied template "+name))
	for _, c := range res.Created {
		fmt.Fprintf(w, " %s %s → %s\n", StyleSuccess.Render("✓"), c.Key, c.TaskID)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, " %s %s: %s\n", StyleError.Render("✗"), s.Key, s.Reason)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, " %s %s\n", StyleWarning.Render("!"), warn)
	}
	if res.Hidden > 0 {
		fmt.Fprintln(w, StyleSubtle.Render(fmt.Sprintf(" %d task(s) hidden by conditional tags", res.Hidden)))
	}
}
