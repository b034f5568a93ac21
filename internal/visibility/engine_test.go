package visibility_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenamanage/planengine/internal/cache"
	"github.com/zenamanage/planengine/internal/component"
	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/memory"
	"github.com/zenamanage/planengine/internal/memory/memtest"
	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/task"
	"github.com/zenamanage/planengine/internal/util"
	"github.com/zenamanage/planengine/internal/visibility"
)

// countingStore counts visibility passes per project (ListTasks is only read
// by UpdateTaskVisibilityForProject) and runs beforeLoad ahead of every
// project read.
type countingStore struct {
	visibility.Store

	mu         sync.Mutex
	passes     map[string]int
	beforeLoad func(projectID string)
}

func (c *countingStore) ListTasks(ctx context.Context, projectID string) ([]task.Task, error) {
	c.mu.Lock()
	c.passes[projectID]++
	c.mu.Unlock()
	return c.Store.ListTasks(ctx, projectID)
}

func (c *countingStore) GetProject(ctx context.Context, id string) (*project.Project, error) {
	c.mu.Lock()
	hook := c.beforeLoad
	c.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	return c.Store.GetProject(ctx, id)
}

func (c *countingStore) Passes(projectID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passes[projectID]
}

func (c *countingStore) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passes = make(map[string]int)
}

type fixture struct {
	store    *memory.Store
	counts   *countingStore
	cache    *cache.Memory
	engine   *visibility.Engine
	projects *project.Service
	tasks    *task.Service
	comps    *component.RollupService
	rec      *events.Recorder
}

// setup wires the services on a shared bus and lock set the way the binary
// does, with the roll-up service and the engine subscribed.
func setup(t *testing.T) *fixture {
	t.Helper()
	store := memtest.Open(t)
	mem, err := cache.NewMemory(128)
	require.NoError(t, err)

	locks := util.NewKeyedMutex()
	bus := events.NewBus(nil, nil)
	rec := &events.Recorder{}
	bus.AddSink(rec)

	counts := &countingStore{Store: store, passes: make(map[string]int)}
	engine := visibility.NewEngine(counts, visibility.Options{Cache: mem, Publisher: bus, Locks: locks})
	comps := component.NewRollupService(store, bus, locks, nil, nil)
	bus.SubscribeBatch(comps.HandleEvents)
	bus.SubscribeBatch(engine.HandleEvents)

	return &fixture{
		store:    store,
		counts:   counts,
		cache:    mem,
		engine:   engine,
		projects: project.NewService(store, bus, locks, nil),
		tasks:    task.NewService(store, bus, locks, nil, nil),
		comps:    comps,
		rec:      rec,
	}
}

func (f *fixture) task(t *testing.T, projectID, tag string) *task.Task {
	t.Helper()
	tk := &task.Task{ProjectID: projectID, Name: "t " + tag, ConditionalTag: tag}
	require.NoError(t, f.tasks.CreateTask(context.Background(), project.System(), tk))
	got, err := f.tasks.GetTask(context.Background(), tk.ID)
	require.NoError(t, err)
	return got
}

func (f *fixture) hidden(t *testing.T, id string) bool {
	t.Helper()
	tk, err := f.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return tk.Hidden
}

func TestDesignPhaseHiddenOnCompletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	memtest.Project(t, f.store, "proj-1", project.StatusPlanning)

	design := f.task(t, "proj-1", "design_phase")
	closeout := f.task(t, "proj-1", "closeout_phase")
	plain := f.task(t, "proj-1", "")
	assert.False(t, design.Hidden)
	assert.True(t, closeout.Hidden, "created tasks are synced immediately")
	f.rec.Reset()

	_, err := f.projects.UpdateStatus(ctx, project.User("pm"), "proj-1", project.StatusCompleted)
	require.NoError(t, err)

	assert.True(t, f.hidden(t, design.ID))
	assert.False(t, f.hidden(t, closeout.ID))
	assert.False(t, f.hidden(t, plain.ID))

	var flips int
	for _, e := range f.rec.OfType(events.TaskUpdated) {
		if _, ok := e.Payload["hidden"]; ok {
			flips++
			assert.Equal(t, "user:pm", e.Actor)
		}
	}
	assert.Equal(t, 2, flips)
}

func TestUpdateTaskVisibilityForProject_Direct(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	memtest.Project(t, f.store, "proj-1", project.StatusPlanning)
	design := f.task(t, "proj-1", "design_phase")

	// Change status behind the services: no event, nothing synced yet.
	p, err := f.store.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	p.Status = project.StatusCompleted
	require.NoError(t, f.store.UpdateProject(ctx, p))
	assert.False(t, f.hidden(t, design.ID))

	n, err := f.engine.UpdateTaskVisibilityForProject(ctx, project.System(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.hidden(t, design.ID))

	n, err = f.engine.UpdateTaskVisibilityForProject(ctx, project.System(), "proj-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIsTagActive_CachesUntilInvalidated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	memtest.Project(t, f.store, "proj-1", project.StatusPlanning, "residential")

	active, err := f.engine.IsTagActive(ctx, "Residential", "proj-1")
	require.NoError(t, err)
	assert.True(t, active)
	raw, err := f.cache.Get(ctx, visibility.CacheKey("proj-1", "residential"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), raw)

	p, err := f.store.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	p.Tags = nil
	require.NoError(t, f.store.UpdateProject(ctx, p))

	active, err = f.engine.IsTagActive(ctx, "residential", "proj-1")
	require.NoError(t, err)
	assert.True(t, active, "served from cache")

	require.NoError(t, f.engine.Invalidate(ctx, "proj-1"))
	active, err = f.engine.IsTagActive(ctx, "residential", "proj-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestProjectEventsInvalidateCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	memtest.Project(t, f.store, "proj-1", project.StatusPlanning, "residential")

	active, err := f.engine.IsTagActive(ctx, "residential", "proj-1")
	require.NoError(t, err)
	require.True(t, active)

	_, err = f.projects.SetTags(ctx, project.System(), "proj-1", []string{"commercial"})
	require.NoError(t, err)

	active, err = f.engine.IsTagActive(ctx, "residential", "proj-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestFeatureAndBudgetTagsFollowComponents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	memtest.Project(t, f.store, "proj-1", project.StatusInProgress)
	basement := f.task(t, "proj-1", "has_basement")
	high := f.task(t, "proj-1", "budget_high")
	assert.True(t, basement.Hidden)
	assert.True(t, high.Hidden)

	c := &component.Component{ProjectID: "proj-1", Name: "Basement", PlannedCost: 2_000_000}
	require.NoError(t, f.comps.CreateComponent(ctx, project.System(), c))

	assert.False(t, f.hidden(t, basement.ID))
	assert.False(t, f.hidden(t, high.ID))
}

func TestTagChangeOnTaskResyncs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	memtest.Project(t, f.store, "proj-1", project.StatusCompleted)
	tk := f.task(t, "proj-1", "closeout_phase")
	assert.False(t, tk.Hidden)

	tag := "design_phase"
	_, err := f.tasks.UpdateTask(ctx, project.System(), tk.ID, task.TaskUpdate{ConditionalTag: &tag})
	require.NoError(t, err)
	assert.True(t, f.hidden(t, tk.ID))

	order, err := f.tasks.ExecutionOrder(ctx, "proj-1")
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestSyncProjects(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, id := range []string{"proj-a", "proj-b", "proj-c"} {
		memtest.Project(t, f.store, id, project.StatusPlanning)
		f.task(t, id, "execution_phase")
	}
	// Move every project behind the services so the sync has work to do.
	for _, id := range []string{"proj-a", "proj-b"} {
		p, err := f.store.GetProject(ctx, id)
		require.NoError(t, err)
		p.Status = project.StatusInProgress
		require.NoError(t, f.store.UpdateProject(ctx, p))
	}

	results, err := f.engine.SyncProjects(ctx, project.System(), nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "proj-a", results[0].ProjectID)
	assert.Equal(t, 1, results[0].Changed)
	assert.Equal(t, 1, results[1].Changed)
	assert.Equal(t, 0, results[2].Changed)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}

	results, err = f.engine.SyncProjects(ctx, project.System(), []string{"proj-missing"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, project.ErrProjectNotFound)
}

func TestRollupBatchResyncsOncePerProject(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	memtest.Project(t, f.store, "proj-1", project.StatusInProgress)
	memtest.Project(t, f.store, "proj-2", project.StatusInProgress)
	f.task(t, "proj-1", "has_slab")
	f.task(t, "proj-2", "has_slab")

	root := &component.Component{ProjectID: "proj-1", Name: "Structure"}
	require.NoError(t, f.comps.CreateComponent(ctx, project.System(), root))
	mid := &component.Component{ProjectID: "proj-1", ParentID: root.ID, Name: "Frame"}
	require.NoError(t, f.comps.CreateComponent(ctx, project.System(), mid))
	leaf := &component.Component{ProjectID: "proj-1", ParentID: mid.ID, Name: "Slab"}
	require.NoError(t, f.comps.CreateComponent(ctx, project.System(), leaf))
	other := &component.Component{ProjectID: "proj-2", Name: "Slab"}
	require.NoError(t, f.comps.CreateComponent(ctx, project.System(), other))
	f.counts.Reset()
	f.rec.Reset()

	progress := 40.0
	_, err := f.comps.UpdateComponent(ctx, project.System(), leaf.ID, component.ComponentUpdate{Progress: &progress})
	require.NoError(t, err)
	require.Greater(t, len(f.rec.Events()), 1, "the leaf and its ancestors publish together")
	assert.Equal(t, 1, f.counts.Passes("proj-1"))
	assert.Zero(t, f.counts.Passes("proj-2"))

	f.counts.Reset()
	_, err = f.comps.BulkUpdateProgress(ctx, project.System(), map[string]float64{leaf.ID: 80, other.ID: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, f.counts.Passes("proj-1"))
	assert.Equal(t, 1, f.counts.Passes("proj-2"))
}

func TestIsTagActive_InvalidationDuringEvaluationIsNotCached(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	memtest.Project(t, f.store, "proj-1", project.StatusPlanning, "residential")

	// The project changes and is invalidated after the engine missed the
	// cache but before its evaluation finishes.
	var once sync.Once
	f.counts.mu.Lock()
	f.counts.beforeLoad = func(id string) {
		once.Do(func() { require.NoError(t, f.engine.Invalidate(ctx, id)) })
	}
	f.counts.mu.Unlock()

	active, err := f.engine.IsTagActive(ctx, "residential", "proj-1")
	require.NoError(t, err)
	assert.True(t, active)
	_, err = f.cache.Get(ctx, visibility.CacheKey("proj-1", "residential"))
	assert.ErrorIs(t, err, cache.ErrMiss, "an evaluation older than the invalidation is not cached")

	active, err = f.engine.IsTagActive(ctx, "residential", "proj-1")
	require.NoError(t, err)
	assert.True(t, active)
	raw, err := f.cache.Get(ctx, visibility.CacheKey("proj-1", "residential"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), raw)
}
