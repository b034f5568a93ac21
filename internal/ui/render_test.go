package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	"github.com/zenamanage/planengine/internal/baseline"
	"github.com/zenamanage/planengine/internal/component"
	"github.com/zenamanage/planengine/internal/task"
	"github.com/zenamanage/planengine/internal/template"
	"github.com/zenamanage/planengine/internal/visibility"
)

func TestTable_ColumnWidths(t *testing.T) {
	table := &Table{
		Headers: []string{"ID", "Name", "Status"},
		Rows: [][]string{
			{"abc123", "First item", "active"},
			{"def456", "Second item with longer name", "pending"},
		},
	}
	assert.Equal(t, []int{6, 28, 7}, table.ColumnWidths())

	table.MaxWidth = 10
	assert.Equal(t, []int{6, 10, 7}, table.ColumnWidths())
}

func TestTable_RenderTruncates(t *testing.T) {
	table := &Table{
		Headers:  []string{"ID", "Name"},
		Rows:     [][]string{{"a", "Foundation excavation"}, {"b"}},
		MaxWidth: 8,
	}
	out := table.Render()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[2], "Foundat…")
	assert.NotContains(t, out, "excavation")
	assert.Empty(t, (&Table{}).Render())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
	assert.Equal(t, "…", truncate("abcd", 1))
	assert.Equal(t, "čá…", truncate("čáře", 3))
}

func TestRenderTasks(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	RenderTasks(&buf, "Execution order", []task.Task{
		{ID: "task-a", Name: "Survey", Priority: task.PriorityHigh, Status: task.StatusPending, StartDate: &start},
		{ID: "task-b", Name: "Design", Priority: task.PriorityLow, Status: task.StatusCompleted, Progress: 100},
	})
	out := buf.String()
	assert.Contains(t, out, "Execution order")
	assert.Contains(t, out, "task-a")
	assert.Contains(t, out, "2026-01-05")
	assert.Contains(t, out, "100%")
	assert.Less(t, strings.Index(out, "task-a"), strings.Index(out, "task-b"))

	buf.Reset()
	RenderTasks(&buf, "Available", nil)
	assert.Contains(t, buf.String(), "no tasks")
}

func TestRenderImpact(t *testing.T) {
	cur := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	proj := cur.AddDate(0, 0, 3)
	var buf bytes.Buffer
	RenderImpact(&buf, "task-a", 3, []task.Impact{
		{Task: task.Task{ID: "task-b", Name: "B"}, Depth: 1, CurrentStart: &cur, ProjectedStart: &proj},
		{Task: task.Task{ID: "task-c", Name: "C"}, Depth: 2},
	})
	out := buf.String()
	assert.Contains(t, out, "Delay of 3 day(s) on task-a")
	assert.Contains(t, out, "2026-01-08")
	assert.Contains(t, out, "task-c")
}

func TestRenderTree(t *testing.T) {
	roots := component.BuildForest([]component.Component{
		{ID: "comp-1", Name: "Structure", Progress: 50, PlannedCost: 1000, ActualCost: 400},
		{ID: "comp-2", ParentID: "comp-1", Name: "Foundation", Progress: 100},
	})
	var buf bytes.Buffer
	RenderTree(&buf, roots)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "  "), "children are indented")
	assert.Contains(t, lines[0], "400.00 / 1000.00")

	buf.Reset()
	RenderTree(&buf, nil)
	assert.Contains(t, buf.String(), "no components")
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, 10, lipgloss.Width(progressBar(37.5, 10)))
	assert.Equal(t, 10, lipgloss.Width(progressBar(150, 10)))
	assert.Equal(t, 10, lipgloss.Width(progressBar(-5, 10)))
}

func TestRenderReport(t *testing.T) {
	r := baseline.Report{
		BaselineType:    baseline.TypeContract,
		BaselineVersion: 2,
		ProjectID:       "proj-1",
		AsOf:            time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		CPI:             0.83,
		ScheduleStatus:  baseline.ScheduleBehind,
		CostStatus:      baseline.CostOverBudget,
		Health:          baseline.HealthFair,
		CostHealth:      baseline.HealthPoor,
		Recommendations: []string{"Cost performance is below plan."},
	}
	var buf bytes.Buffer
	RenderReport(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "contract baseline v2 of proj-1 as of 2026-02-01")
	assert.Contains(t, out, "0.83")
	assert.Contains(t, out, baseline.ScheduleBehind)
	assert.Contains(t, out, "Cost performance is below plan.")
}

func TestRenderSync(t *testing.T) {
	var buf bytes.Buffer
	RenderSync(&buf, []visibility.SyncResult{
		{ProjectID: "proj-1", Changed: 2},
		{ProjectID: "proj-2", Err: errors.New("project not found")},
	})
	assert.Contains(t, buf.String(), "proj-2")
	assert.Contains(t, buf.String(), "project not found")
}

func TestRenderTemplateResult(t *testing.T) {
	var buf bytes.Buffer
	RenderTemplateResult(&buf, "residential", &template.Result{
		Created:  []template.Created{{Key: "survey", TaskID: "task-1"}},
		Skipped:  []template.Skipped{{Key: "bad", Reason: "invalid priority"}},
		Warnings: []error{&task.MissingDependencyTargetError{TaskID: "build", DependsOnID: "ghost"}},
		Hidden:   1,
	})
	out := buf.String()
	assert.Contains(t, out, "survey → task-1")
	assert.Contains(t, out, "bad: invalid priority")
	assert.Contains(t, out, "ghost")
	assert.Contains(t, out, "1 task(s) hidden")
}

func TestHealthStyle(t *testing.T) {
	assert.Equal(t, StyleSuccess.GetForeground(), HealthStyle(baseline.HealthGood).GetForeground())
	assert.Equal(t, StyleWarning.GetForeground(), HealthStyle(baseline.CostOverBudget).GetForeground())
	assert.Equal(t, StyleError.GetForeground(), HealthStyle(baseline.ScheduleSignificantlyBehind).GetForeground())
	assert.Equal(t, StyleText.GetForeground(), HealthStyle(baseline.HealthNotStarted).GetForeground())
}
