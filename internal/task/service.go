package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/telemetry"
	"github.com/zenamanage/planengine/internal/util"
	"github.com/zenamanage/planengine/internal/validate"
)

// Store defines the data access methods required by the task Service.
// Soft-deleted tasks are invisible to every method.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockProject(ctx context.Context, projectID string) error

	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, projectID string) ([]Task, error)
	CreateTask(ctx context.Context, t *Task) error
	UpdateTask(ctx context.Context, t *Task) error
	SetDependencies(ctx context.Context, taskID string, deps []string) error
	SoftDeleteTask(ctx context.Context, id string, at time.Time) error

	ComponentInProject(ctx context.Context, componentID, projectID string) (bool, error)
}

// Service owns the task lifecycle and the dependency graph of each project.
// Every write runs under the project's lock inside one store transaction;
// events are published after commit.
type Service struct {
	store   Store
	pub     events.Publisher
	locks   *util.KeyedMutex
	log     *zap.Logger
	metrics *telemetry.Metrics
}

// NewService creates a new task Service.
func NewService(store Store, pub events.Publisher, locks *util.KeyedMutex, log *zap.Logger, metrics *telemetry.Metrics) *Service {
	if pub == nil {
		pub = events.Discard
	}
	if locks == nil {
		locks = util.NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, pub: pub, locks: locks, log: log, metrics: metrics}
}

// GetTask retrieves a live task by ID.
func (s *Service) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks returns every live task in the project, hidden ones included.
func (s *Service) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	return s.store.ListTasks(ctx, projectID)
}

// CreateTask validates and inserts t. Dependency targets must be live tasks of
// the same project.
func (s *Service) CreateTask(ctx context.Context, actor project.Actor, t *Task) error {
	normalize(t)
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("validate task: %w", err)
	}
	if err := checkDates(t.StartDate, t.EndDate); err != nil {
		return err
	}
	if t.DependsOn(t.ID) {
		s.metrics.DependencyRejected("self")
		return ErrSelfDependency
	}

	var evts []events.Event
	err := s.locks.WithLock(t.ProjectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, t.ProjectID); err != nil {
				return err
			}
			if err := s.checkComponent(ctx, t.ComponentID, t.ProjectID); err != nil {
				return err
			}
			existing, err := s.store.ListTasks(ctx, t.ProjectID)
			if err != nil {
				return err
			}
			byID := indexTasks(existing)
			for _, dep := range t.Dependencies {
				if _, ok := byID[dep]; !ok {
					return s.missingTarget(ctx, t.ID, dep)
				}
			}
			adj := Adjacency(existing)
			adj[t.ID] = t.Dependencies
			if cycle := DetectCycle(adj); cycle != nil {
				s.metrics.DependencyRejected("cycle")
				n := len(cycle)
				return &CircularDependencyError{TaskID: cycle[n-2], DependsOnID: cycle[n-1], Path: cycle}
			}

			now := time.Now().UTC()
			t.CreatedAt, t.UpdatedAt = now, now
			if err := s.store.CreateTask(ctx, t); err != nil {
				return err
			}
			evt := events.New(events.TaskCreated, t.ProjectID, events.EntityTask, t.ID, actor.String()).
				WithProgress(0, t.Progress)
			if t.ConditionalTag != "" {
				evt = evt.WithPayload("conditional_tag", t.ConditionalTag)
			}
			evts = append(evts, evt)
			return nil
		})
	})
	if err != nil {
		s.log.Warn("Task create rejected", zap.String("project_id", t.ProjectID), zap.String("task_id", t.ID), zap.Error(err))
		return fmt.Errorf("create task: %w", err)
	}

	events.Emit(ctx, s.pub, s.log, evts...)
	return nil
}

// UpdateTask applies a partial update and returns the stored task.
// Dependencies are changed through AddDependency and RemoveDependency.
func (s *Service) UpdateTask(ctx context.Context, actor project.Actor, id string, u TaskUpdate) (*Task, error) {
	if u.Progress != nil {
		if err := validate.Progress(*u.Progress); err != nil {
			return nil, err
		}
	}
	projectID, err := s.projectOf(ctx, id)
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
			t, err := s.store.GetTask(ctx, id)
			if err != nil {
				return err
			}
			oldProgress := t.Progress
			changed := u.apply(t)
			updated = t
			if len(changed) == 0 {
				return nil
			}
			if err := validate.Struct(t); err != nil {
				return fmt.Errorf("validate task: %w", err)
			}
			if err := checkDates(t.StartDate, t.EndDate); err != nil {
				return err
			}
			if u.ComponentID != nil {
				if err := s.checkComponent(ctx, t.ComponentID, t.ProjectID); err != nil {
					return err
				}
			}
			t.UpdatedAt = time.Now().UTC()
			if err := s.store.UpdateTask(ctx, t); err != nil {
				return err
			}

			evt := events.New(events.TaskUpdated, t.ProjectID, events.EntityTask, t.ID, actor.String()).
				WithFields(changed...)
			if t.Progress != oldProgress {
				evt = evt.WithProgress(oldProgress, t.Progress)
			}
			if u.ConditionalTag != nil {
				evt = evt.WithPayload("conditional_tag", t.ConditionalTag)
			}
			evts = append(evts, evt)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	events.Emit(ctx, s.pub, s.log, evts...)
	return updated, nil
}

// DeleteTask soft-deletes a task. The ID is removed from every sibling's
// dependency list in the same transaction, so no live task is left pointing
// at a deleted one.
func (s *Service) DeleteTask(ctx context.Context, actor project.Actor, id string) error {
	projectID, err := s.projectOf(ctx, id)
	if err != nil {
		return err
	}

	var evts []events.Event
	err = s.locks.WithLock(projectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, projectID); err != nil {
				return err
			}
			tasks, err := s.store.ListTasks(ctx, projectID)
			if err != nil {
				return err
			}
			if _, ok := indexTasks(tasks)[id]; !ok {
				return ErrTaskNotFound
			}
			for _, sib := range tasks {
				if sib.ID == id || !sib.DependsOn(id) {
					continue
				}
				deps := withoutID(sib.Dependencies, id)
				if err := s.store.SetDependencies(ctx, sib.ID, deps); err != nil {
					return err
				}
				evts = append(evts, events.New(events.TaskUpdated, projectID, events.EntityTask, sib.ID, actor.String()).
					WithFields("dependencies").
					WithPayload("removed_dependency", id))
			}
			if err := s.store.SoftDeleteTask(ctx, id, time.Now().UTC()); err != nil {
				return err
			}
			evts = append(evts, events.New(events.TaskDeleted, projectID, events.EntityTask, id, actor.String()))
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	s.log.Info("Task deleted", zap.String("task_id", id), zap.Int("dependents_updated", len(evts)-1))
	events.Emit(ctx, s.pub, s.log, evts...)
	return nil
}

// projectOf reads a task's project outside the lock so the right key can be
// taken; the task is re-read inside the transaction.
func (s *Service) projectOf(ctx context.Context, id string) (string, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	return t.ProjectID, nil
}

func (s *Service) checkComponent(ctx context.Context, componentID, projectID string) error {
	if componentID == "" {
		return nil
	}
	ok, err := s.store.ComponentInProject(ctx, componentID, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: component %s is not in project %s", validate.ErrInvalidInput, componentID, projectID)
	}
	return nil
}

// missingTarget classifies a dependency ID that is not a live task of the
// project: a task in another project, or no task at all.
func (s *Service) missingTarget(ctx context.Context, taskID, depID string) error {
	other, err := s.store.GetTask(ctx, depID)
	switch {
	case err == nil && other != nil:
		s.metrics.DependencyRejected("cross_project")
		return fmt.Errorf("%w: %s belongs to project %s", ErrCrossProjectDependency, depID, other.ProjectID)
	case err != nil && !errors.Is(err, ErrTaskNotFound):
		return err
	}
	s.metrics.DependencyRejected("missing_target")
	return &MissingDependencyTargetError{TaskID: taskID, DependsOnID: depID}
}

func normalize(t *Task) {
	if t.ID == "" {
		t.ID = util.NewID(util.TaskPrefix)
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	t.Name = strings.TrimSpace(t.Name)
	t.ConditionalTag = strings.ToLower(strings.TrimSpace(t.ConditionalTag))
	t.Dependencies = dedupe(t.Dependencies)
}

func checkDates(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("%w: end date before start date", validate.ErrInvalidInput)
	}
	return nil
}

func indexTasks(tasks []Task) map[string]*Task {
	m := make(map[string]*Task, len(tasks))
	for i := range tasks {
		m[tasks[i].ID] = &tasks[i]
	}
	return m
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func withoutID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, d := range ids {
		if d != id {
			out = append(out, d)
		}
	}
	return out
}
