package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/zenamanage/planengine/internal/task"
)

var taskColumns = []string{
	"id", "project_id", "component_id", "name", "status", "priority",
	"conditional_tag", "hidden", "progress", "estimated_hours", "actual_hours",
	"start_date", "end_date", "created_at", "updated_at", "deleted_at",
}

// CreateTask inserts a task and its dependency edges.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		_, err := s.exec(ctx, s.sb.Insert("tasks").
			Columns(taskColumns...).
			Values(t.ID, t.ProjectID, nullString(t.ComponentID), t.Name, string(t.Status), string(t.Priority),
				t.ConditionalTag, t.Hidden, t.Progress, t.EstimatedHours, t.ActualHours,
				nullTime(t.StartDate), nullTime(t.EndDate), formatTime(t.CreatedAt), formatTime(t.UpdatedAt), nil))
		if isUniqueViolation(err) {
			// Soft-deleted rows keep their ID.
			return fmt.Errorf("%w: %s", task.ErrDuplicateTask, t.ID)
		}
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.Name, err)
		}
		return s.insertDependencies(ctx, t.ID, t.Dependencies)
	})
}

// GetTask retrieves a live task with its dependencies.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row, err := s.queryRow(ctx, s.sb.Select(taskColumns...).From("tasks").
		Where(squirrel.Eq{"id": id, "deleted_at": nil}))
	if err != nil {
		return nil, err
	}
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	deps, err := s.dependencies(ctx, squirrel.Eq{"task_id": id})
	if err != nil {
		return nil, err
	}
	t.Dependencies = deps[id]
	return t, nil
}

// ListTasks returns the live tasks of a project ordered by creation, with
// dependencies loaded.
func (s *Store) ListTasks(ctx context.Context, projectID string) ([]task.Task, error) {
	rows, err := s.query(ctx, s.sb.Select(taskColumns...).From("tasks").
		Where(squirrel.Eq{"project_id": projectID, "deleted_at": nil}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := checkRowsErr(rows); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	deps, err := s.dependencies(ctx, squirrel.Expr(
		"task_id IN (SELECT id FROM tasks WHERE project_id = ? AND deleted_at IS NULL)", projectID))
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Dependencies = deps[tasks[i].ID]
	}
	return tasks, nil
}

// UpdateTask writes every mutable column of t except the dependency list.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	return s.execAffecting(ctx, s.sb.Update("tasks").
		Set("component_id", nullString(t.ComponentID)).
		Set("name", t.Name).
		Set("status", string(t.Status)).
		Set("priority", string(t.Priority)).
		Set("conditional_tag", t.ConditionalTag).
		Set("hidden", t.Hidden).
		Set("progress", t.Progress).
		Set("estimated_hours", t.EstimatedHours).
		Set("actual_hours", t.ActualHours).
		Set("start_date", nullTime(t.StartDate)).
		Set("end_date", nullTime(t.EndDate)).
		Set("updated_at", formatTime(t.UpdatedAt)).
		Where(squirrel.Eq{"id": t.ID, "deleted_at": nil}),
		fmt.Errorf("%w: %s", task.ErrTaskNotFound, t.ID))
}

// SetDependencies replaces a task's dependency list, keeping its order.
func (s *Store) SetDependencies(ctx context.Context, taskID string, deps []string) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, s.sb.Delete("task_dependencies").Where(squirrel.Eq{"task_id": taskID})); err != nil {
			return fmt.Errorf("clear dependencies of %s: %w", taskID, err)
		}
		if err := s.insertDependencies(ctx, taskID, deps); err != nil {
			return err
		}
		return s.execAffecting(ctx, s.sb.Update("tasks").
			Set("updated_at", formatTime(now())).
			Where(squirrel.Eq{"id": taskID, "deleted_at": nil}),
			fmt.Errorf("%w: %s", task.ErrTaskNotFound, taskID))
	})
}

// SetTaskHidden stores the visibility flag of a task.
func (s *Store) SetTaskHidden(ctx context.Context, taskID string, hidden bool) error {
	return s.execAffecting(ctx, s.sb.Update("tasks").
		Set("hidden", hidden).
		Set("updated_at", formatTime(now())).
		Where(squirrel.Eq{"id": taskID, "deleted_at": nil}),
		fmt.Errorf("%w: %s", task.ErrTaskNotFound, taskID))
}

// SoftDeleteTask marks a task deleted and drops its own outgoing edges.
// Edges pointing at it are the caller's responsibility.
func (s *Store) SoftDeleteTask(ctx context.Context, id string, at time.Time) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if err := s.execAffecting(ctx, s.sb.Update("tasks").
			Set("deleted_at", formatTime(at)).
			Set("updated_at", formatTime(at)).
			Where(squirrel.Eq{"id": id, "deleted_at": nil}),
			fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)); err != nil {
			return err
		}
		_, err := s.exec(ctx, s.sb.Delete("task_dependencies").Where(squirrel.Eq{"task_id": id}))
		return err
	})
}

// CountTasksByComponent counts live tasks linked to a component.
func (s *Store) CountTasksByComponent(ctx context.Context, componentID string) (int, error) {
	row, err := s.queryRow(ctx, s.sb.Select("COUNT(*)").From("tasks").
		Where(squirrel.Eq{"component_id": componentID, "deleted_at": nil}))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// ComponentInProject reports whether componentID exists in projectID.
func (s *Store) ComponentInProject(ctx context.Context, componentID, projectID string) (bool, error) {
	row, err := s.queryRow(ctx, s.sb.Select("COUNT(*)").From("components").
		Where(squirrel.Eq{"id": componentID, "project_id": projectID}))
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check component: %w", err)
	}
	return n > 0, nil
}

func (s *Store) insertDependencies(ctx context.Context, taskID string, deps []string) error {
	for i, depID := range deps {
		if _, err := s.exec(ctx, s.sb.Insert("task_dependencies").
			Columns("task_id", "depends_on", "position").
			Values(taskID, depID, i).
			Suffix("ON CONFLICT DO NOTHING")); err != nil {
			return fmt.Errorf("insert dependency %s -> %s: %w", taskID, depID, err)
		}
	}
	return nil
}

// dependencies loads edges matching where, grouped by task, in stored order.
func (s *Store) dependencies(ctx context.Context, where squirrel.Sqlizer) (map[string][]string, error) {
	rows, err := s.query(ctx, s.sb.Select("task_id", "depends_on").From("task_dependencies").
		Where(where).
		OrderBy("task_id", "position"))
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	deps := make(map[string][]string)
	for rows.Next() {
		var taskID, dependsOn string
		if err := rows.Scan(&taskID, &dependsOn); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		deps[taskID] = append(deps[taskID], dependsOn)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, err
	}
	return deps, nil
}

func scanTask(row interface{ Scan(...any) error }) (*task.Task, error) {
	var (
		t                   task.Task
		componentID         sql.NullString
		status, priority    string
		start, end, deleted sql.NullString
		created, updated    string
	)
	if err := row.Scan(&t.ID, &t.ProjectID, &componentID, &t.Name, &status, &priority,
		&t.ConditionalTag, &t.Hidden, &t.Progress, &t.EstimatedHours, &t.ActualHours,
		&start, &end, &created, &updated, &deleted); err != nil {
		return nil, err
	}
	t.ComponentID = componentID.String
	t.Status = task.TaskStatus(status)
	t.Priority = task.Priority(priority)

	var err error
	if t.StartDate, err = parseNullTime(start); err != nil {
		return nil, err
	}
	if t.EndDate, err = parseNullTime(end); err != nil {
		return nil, err
	}
	if t.DeletedAt, err = parseNullTime(deleted); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &t, nil
}
