package template

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/task"
)

// TaskCreator creates tasks; satisfied by *task.Service.
type TaskCreator interface {
	CreateTask(ctx context.Context, actor project.Actor, t *task.Task) error
}

// VisibilitySyncer resynchronizes task visibility; satisfied by
// *visibility.Engine.
type VisibilitySyncer interface {
	UpdateTaskVisibilityForProject(ctx context.Context, actor project.Actor, projectID string) (int, error)
}

// Created pairs a template key with the task created for it.
type Created struct {
	Key    string
	TaskID string
}

// Skipped is a template task that was not created.
type Skipped struct {
	Key    string
	Reason string
}

// Result summarizes an Apply call. Warnings hold
// *task.MissingDependencyTargetError for dropped edges to unknown or skipped
// keys and *task.CircularDependencyError for edges dropped to break a cycle.
// Their task fields carry template keys, not task IDs.
type Result struct {
	Created  []Created
	Skipped  []Skipped
	Warnings []error
	Hidden   int // tasks hidden by the visibility resync
}

// Applier instantiates templates in a project.
type Applier struct {
	tasks TaskCreator
	vis   VisibilitySyncer
	pub   events.Publisher
	log   *zap.Logger
}

// NewApplier creates an Applier. vis may be nil.
func NewApplier(tasks TaskCreator, vis VisibilitySyncer, pub events.Publisher, log *zap.Logger) *Applier {
	if pub == nil {
		pub = events.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Applier{tasks: tasks, vis: vis, pub: pub, log: log}
}

// Apply creates the template's tasks in projectID. Tasks are created once
// their dependencies exist, in template order otherwise. A zero start leaves
// task dates unset. Individual tasks that fail validation are skipped; a
// missing project aborts the whole call.
func (a *Applier) Apply(ctx context.Context, actor project.Actor, projectID string, tpl *Template, start time.Time) (*Result, error) {
	if err := tpl.Check(); err != nil {
		return nil, err
	}

	res := &Result{}
	deps := a.prune(tpl, res)

	ids := make(map[string]string, len(tpl.Tasks))
	done := make(map[string]bool, len(tpl.Tasks))
	for progressed := true; progressed; {
		progressed = false
		for _, tt := range tpl.Tasks {
			if done[tt.Key] || !ready(deps[tt.Key], done) {
				continue
			}
			done[tt.Key] = true
			progressed = true

			var depIDs []string
			for _, d := range deps[tt.Key] {
				if id, ok := ids[d]; ok {
					depIDs = append(depIDs, id)
					continue
				}
				res.Warnings = append(res.Warnings, &task.MissingDependencyTargetError{TaskID: tt.Key, DependsOnID: d})
			}

			t, err := a.build(tt, projectID, depIDs, start)
			if err == nil {
				err = a.tasks.CreateTask(ctx, actor, t)
			}
			if errors.Is(err, project.ErrProjectNotFound) {
				return nil, err
			}
			if err != nil {
				res.Skipped = append(res.Skipped, Skipped{Key: tt.Key, Reason: err.Error()})
				continue
			}
			ids[tt.Key] = t.ID
			res.Created = append(res.Created, Created{Key: tt.Key, TaskID: t.ID})
		}
	}

	a.log.Info("Template applied",
		zap.String("project_id", projectID),
		zap.String("template", tpl.Name),
		zap.Int("created", len(res.Created)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("warnings", len(res.Warnings)))

	events.Emit(ctx, a.pub, a.log, events.New(events.TemplateApplied, projectID, events.EntityTemplate, tpl.Name, actor.String()).
		WithPayload("created", len(res.Created)).
		WithPayload("skipped", len(res.Skipped)).
		WithPayload("warnings", len(res.Warnings)))

	if a.vis != nil && len(res.Created) > 0 {
		n, err := a.vis.UpdateTaskVisibilityForProject(ctx, actor, projectID)
		if err != nil {
			return res, fmt.Errorf("sync visibility: %w", err)
		}
		res.Hidden = n
	}
	return res, nil
}

// prune returns the template's dependency lists with edges to unknown keys
// and edges closing a cycle removed, recording a warning for each.
func (a *Applier) prune(tpl *Template, res *Result) map[string][]string {
	known := make(map[string]bool, len(tpl.Tasks))
	for _, tt := range tpl.Tasks {
		known[tt.Key] = true
	}

	adj := make(map[string][]string, len(tpl.Tasks))
	for _, tt := range tpl.Tasks {
		seen := make(map[string]bool)
		for _, d := range tt.DependsOn {
			if seen[d] {
				continue
			}
			seen[d] = true
			if !known[d] || d == tt.Key {
				res.Warnings = append(res.Warnings, &task.MissingDependencyTargetError{TaskID: tt.Key, DependsOnID: d})
				continue
			}
			adj[tt.Key] = append(adj[tt.Key], d)
		}
	}

	for {
		cycle := task.DetectCycle(adj)
		if cycle == nil {
			return adj
		}
		n := len(cycle)
		from, to := cycle[n-2], cycle[n-1]
		adj[from] = without(adj[from], to)
		res.Warnings = append(res.Warnings, &task.CircularDependencyError{TaskID: from, DependsOnID: to, Path: cycle})
	}
}

func (a *Applier) build(tt TemplateTask, projectID string, deps []string, start time.Time) (*task.Task, error) {
	prio, err := task.ParsePriority(tt.Priority)
	if err != nil {
		return nil, err
	}
	t := &task.Task{
		ProjectID:      projectID,
		Name:           tt.Name,
		Priority:       prio,
		Dependencies:   deps,
		ConditionalTag: tt.ConditionalTag,
		EstimatedHours: tt.EstimatedHours,
	}
	if !start.IsZero() {
		s := start.AddDate(0, 0, tt.OffsetDays)
		t.StartDate = &s
		if tt.DurationDays > 0 {
			e := s.AddDate(0, 0, tt.DurationDays)
			t.EndDate = &e
		}
	}
	return t, nil
}

// ready reports whether every dependency has been processed, created or not.
func ready(deps []string, done map[string]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
