package component

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/task"
	"github.com/zenamanage/planengine/internal/telemetry"
	"github.com/zenamanage/planengine/internal/util"
	"github.com/zenamanage/planengine/internal/validate"
)

// epsilon below which a recalculated value counts as unchanged.
const epsilon = 1e-9

// Store defines the data access methods required by the RollupService.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockProject(ctx context.Context, projectID string) error

	GetComponent(ctx context.Context, id string) (*Component, error)
	ListComponents(ctx context.Context, projectID string) ([]Component, error)
	CreateComponent(ctx context.Context, c *Component) error
	UpdateComponent(ctx context.Context, c *Component) error
	DeleteComponent(ctx context.Context, id string) error
	CountTasksByComponent(ctx context.Context, componentID string) (int, error)

	GetProject(ctx context.Context, id string) (*project.Project, error)
	UpdateProjectRollup(ctx context.Context, projectID string, progress, actualCost float64) error
	ListTasks(ctx context.Context, projectID string) ([]task.Task, error)
}

// RollupService mutates component trees and propagates every change up the
// ancestor chain to the project aggregate within the same transaction.
type RollupService struct {
	store   Store
	pub     events.Publisher
	locks   *util.KeyedMutex
	log     *zap.Logger
	metrics *telemetry.Metrics
}

// NewRollupService creates a RollupService.
func NewRollupService(store Store, pub events.Publisher, locks *util.KeyedMutex, log *zap.Logger, metrics *telemetry.Metrics) *RollupService {
	if pub == nil {
		pub = events.Discard
	}
	if locks == nil {
		locks = util.NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RollupService{store: store, pub: pub, locks: locks, log: log, metrics: metrics}
}

// ComponentTree returns the project's forest of root components with every
// descendant loaded.
func (s *RollupService) ComponentTree(ctx context.Context, projectID string) ([]*Node, error) {
	comps, err := s.store.ListComponents(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	return BuildForest(comps), nil
}

// CreateComponent inserts c and recalculates its new ancestors.
func (s *RollupService) CreateComponent(ctx context.Context, actor project.Actor, c *Component) error {
	if c.ID == "" {
		c.ID = util.NewID(util.ComponentPrefix)
	}
	c.Name = strings.TrimSpace(c.Name)
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate component: %w", err)
	}

	var evts []events.Event
	err := s.locks.WithLock(c.ProjectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, c.ProjectID); err != nil {
				return err
			}
			if !c.IsRoot() {
				parent, err := s.store.GetComponent(ctx, c.ParentID)
				if err != nil {
					return err
				}
				if parent.ProjectID != c.ProjectID {
					return fmt.Errorf("%w: parent %s is in another project", ErrInvalidParent, parent.ID)
				}
			}
			now := time.Now().UTC()
			c.CreatedAt, c.UpdatedAt = now, now
			if err := s.store.CreateComponent(ctx, c); err != nil {
				return err
			}
			evts = append(evts, events.New(events.ComponentCreated, c.ProjectID, events.EntityComponent, c.ID, actor.String()).
				WithPayload("name", c.Name))

			rolled, err := s.rollup(ctx, actor, c.ProjectID, []string{c.ParentID})
			if err != nil {
				return err
			}
			evts = append(evts, rolled...)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("create component: %w", err)
	}

	events.Emit(ctx, s.pub, s.log, evts...)
	return nil
}

// UpdateComponent applies a partial update. Progress and actual cost can only
// be written on leaves. Moving a component recalculates both the old and the
// new ancestor chains.
func (s *RollupService) UpdateComponent(ctx context.Context, actor project.Actor, id string, u ComponentUpdate) (*Component, error) {
	if u.Progress != nil {
		if err := validate.Progress(*u.Progress); err != nil {
			return nil, err
		}
	}
	current, err := s.store.GetComponent(ctx, id)
	if err != nil {
		return nil, err
	}
	projectID := current.ProjectID

	var (
		updated *Component
		evts    []events.Event
	)
	err = s.locks.WithLock(projectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, projectID); err != nil {
				return err
			}
			comps, err := s.store.ListComponents(ctx, projectID)
			if err != nil {
				return err
			}
			tree := index(comps)
			c, ok := tree.byID[id]
			if !ok {
				return ErrComponentNotFound
			}
			isLeaf := len(tree.children[id]) == 0
			if (u.Progress != nil || u.ActualCost != nil) && !isLeaf {
				return fmt.Errorf("%w: %s", ErrComponentNotLeaf, id)
			}

			oldParent, oldProgress, oldCost := c.ParentID, c.Progress, c.ActualCost
			var changed []string
			if u.Name != nil && strings.TrimSpace(*u.Name) != c.Name {
				c.Name = strings.TrimSpace(*u.Name)
				changed = append(changed, "name")
			}
			if u.PlannedCost != nil && *u.PlannedCost != c.PlannedCost {
				c.PlannedCost = *u.PlannedCost
				changed = append(changed, "planned_cost")
			}
			if u.Progress != nil && *u.Progress != c.Progress {
				c.Progress = *u.Progress
				changed = append(changed, "progress")
			}
			if u.ActualCost != nil && *u.ActualCost != c.ActualCost {
				c.ActualCost = *u.ActualCost
				changed = append(changed, "actual_cost")
			}
			if u.ParentID != nil && *u.ParentID != c.ParentID {
				if err := tree.checkParent(id, *u.ParentID); err != nil {
					return err
				}
				c.ParentID = *u.ParentID
				changed = append(changed, "parent_id")
			}
			updated = c
			if len(changed) == 0 {
				return nil
			}
			if err := validate.Struct(c); err != nil {
				return fmt.Errorf("validate component: %w", err)
			}
			c.UpdatedAt = time.Now().UTC()
			if err := s.store.UpdateComponent(ctx, c); err != nil {
				return err
			}

			evt := events.New(events.ComponentUpdated, projectID, events.EntityComponent, id, actor.String()).
				WithFields(changed...)
			if c.Progress != oldProgress {
				evt = evt.WithProgress(oldProgress, c.Progress)
			}
			if c.ActualCost != oldCost {
				evt = evt.WithCost(oldCost, c.ActualCost)
			}
			evts = append(evts, evt)

			starts := []string{c.ParentID}
			if oldParent != c.ParentID {
				starts = append(starts, oldParent)
			}
			rolled, err := s.rollup(ctx, actor, projectID, starts)
			if err != nil {
				return err
			}
			evts = append(evts, rolled...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update component: %w", err)
	}

	events.Emit(ctx, s.pub, s.log, evts...)
	return updated, nil
}

// RecalculateFromChildren recomputes id from its children (a no-op for a
// leaf) and then every ancestor up to the root, followed by the project
// aggregate. One event is emitted per component whose values changed.
func (s *RollupService) RecalculateFromChildren(ctx context.Context, actor project.Actor, id string) (*Component, error) {
	current, err := s.store.GetComponent(ctx, id)
	if err != nil {
		return nil, err
	}
	projectID := current.ProjectID

	var evts []events.Event
	err = s.locks.WithLock(projectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, projectID); err != nil {
				return err
			}
			rolled, err := s.rollup(ctx, actor, projectID, []string{id})
			if err != nil {
				return err
			}
			evts = rolled
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("recalculate component: %w", err)
	}

	events.Emit(ctx, s.pub, s.log, evts...)
	return s.store.GetComponent(ctx, id)
}

// BulkUpdateProgress sets the progress of several leaf components in one
// transaction. Every ID must exist and be a leaf, and every value must be in
// 0–100; otherwise nothing is written. Components may span projects.
func (s *RollupService) BulkUpdateProgress(ctx context.Context, actor project.Actor, updates map[string]float64) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(updates))
	for id, p := range updates {
		if err := validate.Progress(p); err != nil {
			return 0, fmt.Errorf("component %s: %w", id, err)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	projectOf := make(map[string]string, len(ids))
	var projectIDs []string
	for _, id := range ids {
		c, err := s.store.GetComponent(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("component %s: %w", id, err)
		}
		projectOf[id] = c.ProjectID
		projectIDs = append(projectIDs, c.ProjectID)
	}

	var (
		evts    []events.Event
		updated int
	)
	// Locks are released before events go out: bus subscribers take them again.
	err := func() error {
		unlock := s.locks.LockAll(projectIDs)
		defer unlock()
		return s.store.InTx(ctx, func(ctx context.Context) error {
			evts, updated = nil, 0
			byProject := make(map[string][]string)
			for _, id := range ids {
				byProject[projectOf[id]] = append(byProject[projectOf[id]], id)
			}
			pids := make([]string, 0, len(byProject))
			for pid := range byProject {
				pids = append(pids, pid)
			}
			sort.Strings(pids)

			for _, pid := range pids {
				if err := s.store.LockProject(ctx, pid); err != nil {
					return err
				}
				comps, err := s.store.ListComponents(ctx, pid)
				if err != nil {
					return err
				}
				tree := index(comps)

				var starts []string
				for _, id := range byProject[pid] {
					c, ok := tree.byID[id]
					if !ok {
						return fmt.Errorf("component %s: %w", id, ErrComponentNotFound)
					}
					if len(tree.children[id]) > 0 {
						return fmt.Errorf("%w: %s", ErrComponentNotLeaf, id)
					}
					next := updates[id]
					if math.Abs(next-c.Progress) < epsilon {
						continue
					}
					old := c.Progress
					c.Progress = next
					c.UpdatedAt = time.Now().UTC()
					if err := s.store.UpdateComponent(ctx, c); err != nil {
						return err
					}
					updated++
					evts = append(evts, events.New(events.ProgressChanged, pid, events.EntityComponent, id, actor.String()).
						WithProgress(old, next).
						WithFields("progress"))
					starts = append(starts, c.ParentID)
				}

				rolled, err := s.rollup(ctx, actor, pid, starts)
				if err != nil {
					return err
				}
				evts = append(evts, rolled...)
			}
			return nil
		})
	}()
	if err != nil {
		return 0, fmt.Errorf("bulk update progress: %w", err)
	}

	s.log.Info("Bulk progress update applied", zap.Int("requested", len(ids)), zap.Int("updated", updated))
	events.Emit(ctx, s.pub, s.log, evts...)
	return updated, nil
}

// DeleteComponent removes a leaf component with no linked tasks. Anything
// else fails with *ComponentHasChildrenError or *ComponentHasTasksError and
// leaves the store untouched.
func (s *RollupService) DeleteComponent(ctx context.Context, actor project.Actor, id string) error {
	current, err := s.store.GetComponent(ctx, id)
	if err != nil {
		return err
	}
	projectID := current.ProjectID

	var evts []events.Event
	err = s.locks.WithLock(projectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, projectID); err != nil {
				return err
			}
			comps, err := s.store.ListComponents(ctx, projectID)
			if err != nil {
				return err
			}
			tree := index(comps)
			c, ok := tree.byID[id]
			if !ok {
				return ErrComponentNotFound
			}
			if n := len(tree.children[id]); n > 0 {
				return &ComponentHasChildrenError{ComponentID: id, Children: n}
			}
			n, err := s.store.CountTasksByComponent(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return &ComponentHasTasksError{ComponentID: id, Tasks: n}
			}
			if err := s.store.DeleteComponent(ctx, id); err != nil {
				return err
			}
			evts = append(evts, events.New(events.ComponentDeleted, projectID, events.EntityComponent, id, actor.String()).
				WithPayload("name", c.Name))

			rolled, err := s.rollup(ctx, actor, projectID, []string{c.ParentID})
			if err != nil {
				return err
			}
			evts = append(evts, rolled...)
			return nil
		})
	})
	if err != nil {
		s.log.Warn("Component delete rejected", zap.String("component_id", id), zap.Error(err))
		return fmt.Errorf("delete component: %w", err)
	}

	events.Emit(ctx, s.pub, s.log, evts...)
	return nil
}

// RecalculateProject refreshes the project aggregate only. It is used when
// task progress changes in a project without components.
func (s *RollupService) RecalculateProject(ctx context.Context, actor project.Actor, projectID string) error {
	var evts []events.Event
	err := s.locks.WithLock(projectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, projectID); err != nil {
				return err
			}
			rolled, err := s.rollup(ctx, actor, projectID, nil)
			if err != nil {
				return err
			}
			evts = rolled
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("recalculate project: %w", err)
	}
	events.Emit(ctx, s.pub, s.log, evts...)
	return nil
}

// HandleEvents keeps the project aggregate current when task progress moves,
// recalculating each affected project once per batch. Subscribe it to the
// in-process bus with SubscribeBatch.
func (s *RollupService) HandleEvents(ctx context.Context, evts []events.Event) {
	var order []string
	actors := make(map[string]string)
	for _, evt := range evts {
		if !movesTaskProgress(evt) {
			continue
		}
		if _, seen := actors[evt.ProjectID]; seen {
			continue
		}
		actors[evt.ProjectID] = evt.Actor
		order = append(order, evt.ProjectID)
	}
	for _, projectID := range order {
		if err := s.RecalculateProject(ctx, project.ParseActor(actors[projectID]), projectID); err != nil {
			s.log.Error("Project recalculation failed", zap.String("project_id", projectID), zap.Error(err))
		}
	}
}

// HandleEvent is HandleEvents for a single event.
func (s *RollupService) HandleEvent(ctx context.Context, evt events.Event) {
	s.HandleEvents(ctx, []events.Event{evt})
}

func movesTaskProgress(evt events.Event) bool {
	if evt.EntityType != events.EntityTask {
		return false
	}
	switch evt.Type {
	case events.TaskCreated, events.TaskDeleted:
		return true
	case events.TaskUpdated:
		return evt.NewProgress != nil
	}
	return false
}

// rollup recalculates the union of the ancestor chains that start at starts,
// deepest first so each node sees final child values, then the project
// aggregate. It must run inside the caller's transaction.
func (s *RollupService) rollup(ctx context.Context, actor project.Actor, projectID string, starts []string) ([]events.Event, error) {
	comps, err := s.store.ListComponents(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tree := index(comps)

	depth := make(map[string]int)
	for _, start := range starts {
		for _, id := range tree.ancestry(start) {
			if _, seen := depth[id]; !seen {
				depth[id] = tree.depth(id)
			}
		}
	}
	order := make([]string, 0, len(depth))
	for id := range depth {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		if depth[order[i]] != depth[order[j]] {
			return depth[order[i]] > depth[order[j]]
		}
		return order[i] < order[j]
	})

	var evts []events.Event
	for _, id := range order {
		c := tree.byID[id]
		kids := tree.children[id]
		if len(kids) == 0 {
			continue
		}
		s.metrics.Recalculated()

		var progressSum, costSum float64
		for _, k := range kids {
			progressSum += k.Progress
			costSum += k.ActualCost
		}
		newProgress := progressSum / float64(len(kids))

		var changed []string
		if math.Abs(newProgress-c.Progress) >= epsilon {
			changed = append(changed, "progress")
		}
		if math.Abs(costSum-c.ActualCost) >= epsilon {
			changed = append(changed, "actual_cost")
		}
		if len(changed) == 0 {
			continue
		}

		oldProgress, oldCost := c.Progress, c.ActualCost
		c.Progress, c.ActualCost = newProgress, costSum
		c.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateComponent(ctx, c); err != nil {
			return nil, fmt.Errorf("update component %s: %w", id, err)
		}
		evts = append(evts, changeEvent(projectID, events.EntityComponent, id, actor, changed, oldProgress, newProgress, oldCost, costSum))
	}

	projectEvt, err := s.rollupProject(ctx, actor, projectID, tree)
	if err != nil {
		return nil, err
	}
	if projectEvt != nil {
		evts = append(evts, *projectEvt)
	}
	return evts, nil
}

// rollupProject derives the project's progress and actual cost from its root
// components, or the mean task progress when it has no components.
func (s *RollupService) rollupProject(ctx context.Context, actor project.Actor, projectID string, tree *forest) (*events.Event, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	newProgress, newCost := p.Progress, p.ActualCost
	roots := tree.children[""]
	if len(roots) > 0 {
		var progressSum, costSum float64
		for _, r := range roots {
			progressSum += r.Progress
			costSum += r.ActualCost
		}
		newProgress, newCost = progressSum/float64(len(roots)), costSum
	} else {
		tasks, err := s.store.ListTasks(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if len(tasks) > 0 {
			var sum float64
			for _, t := range tasks {
				sum += t.Progress
			}
			newProgress = sum / float64(len(tasks))
		}
	}

	var changed []string
	if math.Abs(newProgress-p.Progress) >= epsilon {
		changed = append(changed, "progress")
	}
	if math.Abs(newCost-p.ActualCost) >= epsilon {
		changed = append(changed, "actual_cost")
	}
	if len(changed) == 0 {
		return nil, nil
	}
	if err := s.store.UpdateProjectRollup(ctx, projectID, newProgress, newCost); err != nil {
		return nil, fmt.Errorf("update project rollup: %w", err)
	}
	evt := changeEvent(projectID, events.EntityProject, projectID, actor, changed, p.Progress, newProgress, p.ActualCost, newCost)
	return &evt, nil
}

func changeEvent(projectID, entityType, entityID string, actor project.Actor, changed []string, oldP, newP, oldC, newC float64) events.Event {
	t := events.CostChanged
	if changed[0] == "progress" {
		t = events.ProgressChanged
	}
	return events.New(t, projectID, entityType, entityID, actor.String()).
		WithProgress(oldP, newP).
		WithCost(oldC, newC).
		WithFields(changed...)
}

// forest indexes a project's components by ID and by parent ("" for roots).
type forest struct {
	byID     map[string]*Component
	children map[string][]*Component
}

func index(comps []Component) *forest {
	f := &forest{
		byID:     make(map[string]*Component, len(comps)),
		children: make(map[string][]*Component),
	}
	for i := range comps {
		f.byID[comps[i].ID] = &comps[i]
	}
	for i := range comps {
		c := &comps[i]
		parent := c.ParentID
		if _, ok := f.byID[parent]; !ok {
			parent = ""
		}
		f.children[parent] = append(f.children[parent], c)
	}
	return f
}

// ancestry returns id followed by its ancestors up to the root. The loop is
// bounded by the number of components so corrupt parent links cannot spin.
func (f *forest) ancestry(id string) []string {
	var chain []string
	for steps := 0; id != "" && steps <= len(f.byID); steps++ {
		c, ok := f.byID[id]
		if !ok {
			break
		}
		chain = append(chain, id)
		id = c.ParentID
	}
	return chain
}

func (f *forest) depth(id string) int {
	return len(f.ancestry(id)) - 1
}

// checkParent rejects a parent that is missing, in another project, the
// component itself, or one of its descendants.
func (f *forest) checkParent(id, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == id {
		return fmt.Errorf("%w: component cannot be its own parent", ErrInvalidParent)
	}
	if _, ok := f.byID[parentID]; !ok {
		return fmt.Errorf("%w: %s is not a component of this project", ErrInvalidParent, parentID)
	}
	for _, anc := range f.ancestry(parentID) {
		if anc == id {
			return fmt.Errorf("%w: %s is a descendant of %s", ErrInvalidParent, parentID, id)
		}
	}
	return nil
}
