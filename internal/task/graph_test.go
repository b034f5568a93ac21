package task_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/task"
	"github.com/zenamanage/planengine/internal/validate"
)

func ids(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, tk := range tasks {
		out[i] = tk.ID
	}
	return out
}

// diamond builds A <- B, A <- C, {B, C} <- D.
func diamond(t *testing.T, f *fixture) {
	t.Helper()
	f.create(t, "task-a", task.PriorityMedium)
	f.create(t, "task-b", task.PriorityLow, "task-a")
	f.create(t, "task-c", task.PriorityHigh, "task-a")
	f.create(t, "task-d", task.PriorityMedium, "task-b", "task-c")
}

func TestExecutionOrder_Diamond(t *testing.T) {
	f := setup(t)
	diamond(t, f)

	order, err := f.svc.ExecutionOrder(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-a", "task-c", "task-b", "task-d"}, ids(order))
}

func TestExecutionOrder_SkipsHiddenTasks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	diamond(t, f)
	require.NoError(t, f.store.SetTaskHidden(ctx, "task-c", true))

	order, err := f.svc.ExecutionOrder(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-a", "task-b", "task-d"}, ids(order))

	graph, err := f.svc.DependencyGraph(ctx, "proj-1")
	require.NoError(t, err)
	assert.NotContains(t, graph, "task-c")
	assert.Equal(t, []string{"task-b"}, graph["task-d"].Dependencies)
	assert.Equal(t, []string{"task-b"}, graph["task-a"].Dependents)
}

func TestExecutionOrder_CorruptStoredCycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.create(t, "task-a", task.PriorityMedium)
	f.create(t, "task-b", task.PriorityMedium, "task-a")
	// Bypass the service to plant a cycle.
	require.NoError(t, f.store.SetDependencies(ctx, "task-a", []string{"task-b"}))

	_, err := f.svc.ExecutionOrder(ctx, "proj-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrCycleDetected)
}

func TestDependencyGraph(t *testing.T) {
	f := setup(t)
	diamond(t, f)

	graph, err := f.svc.DependencyGraph(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, graph, 4)
	assert.Equal(t, []string{"task-b", "task-c"}, graph["task-a"].Dependents)
	assert.Equal(t, []string{"task-b", "task-c"}, graph["task-d"].Dependencies)
	assert.Empty(t, graph["task-d"].Dependents)
}

func TestAvailableTasks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	diamond(t, f)
	f.create(t, "task-e", task.PriorityCritical)
	f.create(t, "task-f", task.PriorityCritical)
	require.NoError(t, f.store.SetTaskHidden(ctx, "task-f", true))

	avail, err := f.svc.AvailableTasks(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-e", "task-a"}, ids(avail))

	done := task.StatusCompleted
	_, err = f.svc.UpdateTask(ctx, project.System(), "task-a", task.TaskUpdate{Status: &done})
	require.NoError(t, err)

	avail, err = f.svc.AvailableTasks(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-e", "task-c", "task-b"}, ids(avail))
}

func TestDelayImpact_DiamondReportsEachTaskOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	diamond(t, f)
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.svc.UpdateTask(ctx, project.System(), "task-d", task.TaskUpdate{StartDate: &start})
	require.NoError(t, err)

	impacts, err := f.svc.DelayImpact(ctx, "task-a", 5)
	require.NoError(t, err)
	require.Len(t, impacts, 3)

	byID := make(map[string]task.Impact)
	for _, imp := range impacts {
		byID[imp.Task.ID] = imp
	}
	assert.Equal(t, 1, byID["task-b"].Depth)
	assert.Equal(t, 1, byID["task-c"].Depth)
	assert.Equal(t, 2, byID["task-d"].Depth)
	assert.Nil(t, byID["task-b"].ProjectedStart)
	require.NotNil(t, byID["task-d"].ProjectedStart)
	assert.True(t, byID["task-d"].ProjectedStart.Equal(start.AddDate(0, 0, 5)))
}

func TestDelayImpact_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.create(t, "task-a", task.PriorityMedium)

	_, err := f.svc.DelayImpact(ctx, "task-a", -1)
	assert.ErrorIs(t, err, validate.ErrInvalidInput)

	_, err = f.svc.DelayImpact(ctx, "task-none", 3)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)

	impacts, err := f.svc.DelayImpact(ctx, "task-a", 3)
	require.NoError(t, err)
	assert.Empty(t, impacts)
}

func TestAddDependency_ConcurrentOppositeEdges(t *testing.T) {
	ctx := context.Background()
	for range 10 {
		f := setup(t)
		f.create(t, "task-a", task.PriorityMedium)
		f.create(t, "task-b", task.PriorityMedium)

		edges := [][2]string{{"task-a", "task-b"}, {"task-b", "task-a"}}
		errs := make([]error, len(edges))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i, e := range edges {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[i] = f.svc.AddDependency(ctx, project.System(), e[0], e[1])
			}()
		}
		close(start)
		wg.Wait()

		var ok, rejected int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, task.ErrCircularDependency):
				rejected++
			}
		}
		assert.Equal(t, 1, ok, "exactly one edge wins")
		assert.Equal(t, 1, rejected)

		tasks, err := f.svc.ListTasks(ctx, "proj-1")
		require.NoError(t, err)
		assert.NoError(t, task.VerifyDAG(tasks))
	}
}
