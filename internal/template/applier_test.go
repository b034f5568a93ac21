package template_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/memory/memtest"
	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/task"
	"github.com/zenamanage/planengine/internal/template"
	"github.com/zenamanage/planengine/internal/util"
	"github.com/zenamanage/planengine/internal/visibility"
)

func TestApply(t *testing.T) {
	ctx := context.Background()
	store := memtest.Open(t)
	memtest.Project(t, store, "proj-1", project.StatusCompleted)

	locks := util.NewKeyedMutex()
	rec := &events.Recorder{}
	tasks := task.NewService(store, nil, locks, nil, nil)
	engine := visibility.NewEngine(store, visibility.Options{Locks: locks})
	applier := template.NewApplier(tasks, engine, rec, nil)

	tpl := &template.Template{
		Name: "residential",
		Tasks: []template.TemplateTask{
			{Key: "survey", Name: "Site survey", Priority: "high", DurationDays: 3},
			{Key: "build", Name: "Build", DependsOn: []string{"design", "ghost"}, OffsetDays: 10},
			{Key: "design", Name: "Design", DependsOn: []string{"survey"}, OffsetDays: 3, ConditionalTag: "design_phase"},
			{Key: "bad", Name: "Bad", Priority: "whenever"},
			{Key: "after-bad", Name: "After bad", DependsOn: []string{"bad"}},
			{Key: "loop-a", Name: "Loop A", DependsOn: []string{"loop-b"}},
			{Key: "loop-b", Name: "Loop B", DependsOn: []string{"loop-a"}},
		},
	}
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	res, err := applier.Apply(ctx, project.User("pm"), "proj-1", tpl, start)
	require.NoError(t, err)

	ids := make(map[string]string)
	for _, c := range res.Created {
		ids[c.Key] = c.TaskID
	}
	assert.Len(t, ids, 6)
	assert.NotContains(t, ids, "bad")
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "bad", res.Skipped[0].Key)

	var missing, cycles int
	for _, w := range res.Warnings {
		var m *task.MissingDependencyTargetError
		var c *task.CircularDependencyError
		switch {
		case errors.As(w, &m):
			missing++
		case errors.As(w, &c):
			cycles++
		}
	}
	assert.Equal(t, 2, missing, "ghost and skipped bad")
	assert.Equal(t, 1, cycles)

	survey, err := store.GetTask(ctx, ids["survey"])
	require.NoError(t, err)
	assert.Equal(t, task.PriorityHigh, survey.Priority)
	require.NotNil(t, survey.StartDate)
	require.NotNil(t, survey.EndDate)
	assert.True(t, start.Equal(*survey.StartDate))
	assert.True(t, start.AddDate(0, 0, 3).Equal(*survey.EndDate))

	build, err := store.GetTask(ctx, ids["build"])
	require.NoError(t, err)
	assert.Equal(t, []string{ids["design"]}, build.Dependencies, "created after design despite template order")
	assert.Nil(t, build.EndDate)

	afterBad, err := store.GetTask(ctx, ids["after-bad"])
	require.NoError(t, err)
	assert.Empty(t, afterBad.Dependencies)

	design, err := store.GetTask(ctx, ids["design"])
	require.NoError(t, err)
	assert.True(t, design.Hidden, "design_phase is inactive on a completed project")
	assert.Equal(t, 1, res.Hidden)

	order, err := tasks.ExecutionOrder(ctx, "proj-1")
	require.NoError(t, err, "applied graph is acyclic")
	assert.Len(t, order, 5)

	applied := rec.OfType(events.TemplateApplied)
	require.Len(t, applied, 1)
	assert.Equal(t, "residential", applied[0].EntityID)
	assert.Equal(t, "user:pm", applied[0].Actor)
	assert.Equal(t, 6, applied[0].Payload["created"])
}

func TestApply_NoStartLeavesDatesUnset(t *testing.T) {
	ctx := context.Background()
	store := memtest.Open(t)
	memtest.Project(t, store, "proj-1", project.StatusPlanning)
	applier := template.NewApplier(task.NewService(store, nil, nil, nil, nil), nil, nil, nil)

	res, err := applier.Apply(ctx, project.System(), "proj-1", &template.Template{
		Name:  "x",
		Tasks: []template.TemplateTask{{Key: "a", Name: "A", OffsetDays: 4, DurationDays: 2}},
	}, time.Time{})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)

	a, err := store.GetTask(ctx, res.Created[0].TaskID)
	require.NoError(t, err)
	assert.Nil(t, a.StartDate)
	assert.Nil(t, a.EndDate)
}

func TestApply_MissingProject(t *testing.T) {
	store := memtest.Open(t)
	rec := &events.Recorder{}
	applier := template.NewApplier(task.NewService(store, nil, nil, nil, nil), nil, rec, nil)

	_, err := applier.Apply(context.Background(), project.System(), "nope", &template.Template{
		Name:  "x",
		Tasks: []template.TemplateTask{{Key: "a", Name: "A"}},
	}, time.Time{})
	assert.ErrorIs(t, err, project.ErrProjectNotFound)
	assert.Empty(t, rec.Events())
}

func TestApply_InvalidTemplate(t *testing.T) {
	applier := template.NewApplier(nil, nil, nil, nil)
	_, err := applier.Apply(context.Background(), project.System(), "proj-1", &template.Template{Name: "x"}, time.Time{})
	assert.ErrorIs(t, err, template.ErrInvalidTemplate)
}
