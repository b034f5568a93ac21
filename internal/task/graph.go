package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/validate"
)

// GraphNode is one entry of a project's dependency graph.
type GraphNode struct {
	Task         Task     `json:"task"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// Impact is a task affected by a delay upstream.
type Impact struct {
	Task           Task       `json:"task"`
	Depth          int        `json:"depth"` // 1 = direct dependent
	CurrentStart   *time.Time `json:"current_start,omitempty"`
	ProjectedStart *time.Time `json:"projected_start,omitempty"`
}

// AddDependency adds the edge taskID -> dependsOnID. The target must be a live
// task of the same project and the edge must not close a cycle anywhere in
// the project's graph; otherwise nothing is written. Adding an existing edge
// is a no-op.
func (s *Service) AddDependency(ctx context.Context, actor project.Actor, taskID, dependsOnID string) (*Task, error) {
	if taskID == dependsOnID {
		s.metrics.DependencyRejected("self")
		return nil, ErrSelfDependency
	}
	projectID, err := s.projectOf(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var (
		updated *Task
		evts    []events.Event
	)
	err = s.locks.WithLock(projectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, projectID); err != nil {
				return err
			}
			tasks, err := s.store.ListTasks(ctx, projectID)
			if err != nil {
				return err
			}
			byID := indexTasks(tasks)
			t, ok := byID[taskID]
			if !ok {
				return ErrTaskNotFound
			}
			updated = t
			if _, ok := byID[dependsOnID]; !ok {
				return s.missingTarget(ctx, taskID, dependsOnID)
			}
			if t.DependsOn(dependsOnID) {
				return nil
			}
			if cycle := WouldCreateCycle(Adjacency(tasks), taskID, dependsOnID); cycle != nil {
				s.metrics.DependencyRejected("cycle")
				return &CircularDependencyError{TaskID: taskID, DependsOnID: dependsOnID, Path: cycle}
			}

			t.Dependencies = append(t.Dependencies, dependsOnID)
			if err := s.store.SetDependencies(ctx, taskID, t.Dependencies); err != nil {
				return err
			}
			evts = append(evts, events.New(events.TaskUpdated, projectID, events.EntityTask, taskID, actor.String()).
				WithFields("dependencies").
				WithPayload("added_dependency", dependsOnID))
			return nil
		})
	})
	if err != nil {
		s.log.Warn("Dependency rejected",
			zap.String("task_id", taskID),
			zap.String("depends_on", dependsOnID),
			zap.Error(err))
		return nil, fmt.Errorf("add dependency: %w", err)
	}

	events.Emit(ctx, s.pub, s.log, evts...)
	return updated, nil
}

// RemoveDependency removes the edge taskID -> dependsOnID. Removing an edge
// can never create a cycle, so no check runs. A missing edge is a no-op.
func (s *Service) RemoveDependency(ctx context.Context, actor project.Actor, taskID, dependsOnID string) (*Task, error) {
	projectID, err := s.projectOf(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var (
		updated *Task
		evts    []events.Event
	)
	err = s.locks.WithLock(projectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, projectID); err != nil {
				return err
			}
			t, err := s.store.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			updated = t
			if !t.DependsOn(dependsOnID) {
				return nil
			}
			t.Dependencies = withoutID(t.Dependencies, dependsOnID)
			if err := s.store.SetDependencies(ctx, taskID, t.Dependencies); err != nil {
				return err
			}
			evts = append(evts, events.New(events.TaskUpdated, projectID, events.EntityTask, taskID, actor.String()).
				WithFields("dependencies").
				WithPayload("removed_dependency", dependsOnID))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("remove dependency: %w", err)
	}

	events.Emit(ctx, s.pub, s.log, evts...)
	return updated, nil
}

// DependencyGraph returns the adjacency of every visible task in the project,
// with dependencies and computed dependents. Edges to hidden tasks are left out.
func (s *Service) DependencyGraph(ctx context.Context, projectID string) (map[string]GraphNode, error) {
	visible, err := s.visibleTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byID := indexTasks(visible)

	adj := make(map[string][]string, len(visible))
	for _, t := range visible {
		var deps []string
		for _, d := range t.Dependencies {
			if _, ok := byID[d]; ok {
				deps = append(deps, d)
			}
		}
		adj[t.ID] = deps
	}
	rev := Reverse(adj)

	graph := make(map[string]GraphNode, len(visible))
	for _, t := range visible {
		graph[t.ID] = GraphNode{
			Task:         t,
			Dependencies: adj[t.ID],
			Dependents:   rev[t.ID],
		}
	}
	return graph, nil
}

// ExecutionOrder returns the visible tasks of the project in topological order.
// A *CycleDetectedError means stored data is corrupt.
func (s *Service) ExecutionOrder(ctx context.Context, projectID string) ([]Task, error) {
	visible, err := s.visibleTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ordered, err := ExecutionOrder(visible)
	if err != nil {
		var cycleErr *CycleDetectedError
		if errors.As(err, &cycleErr) {
			cycleErr.ProjectID = projectID
			s.log.Error("Stored dependency graph is not acyclic",
				zap.String("project_id", projectID),
				zap.Strings("remaining", cycleErr.Remaining))
		}
		return nil, err
	}
	return ordered, nil
}

// AvailableTasks returns pending, visible tasks whose every dependency is
// completed, highest priority first.
func (s *Service) AvailableTasks(ctx context.Context, projectID string) ([]Task, error) {
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byID := indexTasks(tasks)

	var out []Task
	for _, t := range tasks {
		if t.Hidden || t.Status != StatusPending {
			continue
		}
		ready := true
		for _, d := range t.Dependencies {
			dep, ok := byID[d]
			if !ok || dep.Status != StatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := out[i].Priority.Weight(), out[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DelayImpact walks every task that transitively depends on taskID and returns
// its projected start if taskID slips by delayDays. Each task is reported once,
// at its shortest distance, even when reachable over several paths.
func (s *Service) DelayImpact(ctx context.Context, taskID string, delayDays int) ([]Impact, error) {
	if delayDays < 0 {
		return nil, fmt.Errorf("%w: delay days must be >= 0", validate.ErrInvalidInput)
	}
	root, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, root.ProjectID)
	if err != nil {
		return nil, err
	}
	byID := indexTasks(tasks)
	dependents := Reverse(Adjacency(tasks))

	type item struct {
		id    string
		depth int
	}
	visited := map[string]bool{taskID: true}
	queue := []item{{id: taskID}}
	var impacts []Impact
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range dependents[cur.id] {
			if visited[next] {
				continue
			}
			visited[next] = true
			t, ok := byID[next]
			if !ok {
				continue
			}
			imp := Impact{Task: *t, Depth: cur.depth + 1, CurrentStart: t.StartDate}
			if t.StartDate != nil {
				projected := t.StartDate.AddDate(0, 0, delayDays)
				imp.ProjectedStart = &projected
			}
			impacts = append(impacts, imp)
			queue = append(queue, item{id: next, depth: cur.depth + 1})
		}
	}
	return impacts, nil
}

func (s *Service) visibleTasks(ctx context.Context, projectID string) ([]Task, error) {
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	visible := tasks[:0]
	for _, t := range tasks {
		if t.Visible() {
			visible = append(visible, t)
		}
	}
	return visible, nil
}
