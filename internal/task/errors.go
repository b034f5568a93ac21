package task

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTaskNotFound            = errors.New("task not found")
	ErrSelfDependency          = errors.New("task cannot depend on itself")
	ErrCrossProjectDependency  = errors.New("dependency must belong to the same project")
	ErrCircularDependency      = errors.New("circular dependency")
	ErrCycleDetected           = errors.New("dependency cycle detected")
	ErrMissingDependencyTarget = errors.New("dependency target not found")
	ErrDuplicateTask           = errors.New("task ID already in use")
)

// CircularDependencyError is returned when adding an edge would close a cycle.
// The edge is not persisted.
type CircularDependencyError struct {
	TaskID      string
	DependsOnID string
	Path        []string // cycle, first node repeated at the end
}

func (e *CircularDependencyError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("circular dependency: %s -> %s", e.TaskID, e.DependsOnID)
	}
	return fmt.Sprintf("circular dependency: %s -> %s closes cycle %s",
		e.TaskID, e.DependsOnID, strings.Join(e.Path, " -> "))
}

func (e *CircularDependencyError) Unwrap() error { return ErrCircularDependency }

// CycleDetectedError reports stored data that is not a DAG. Execution order
// cannot be computed until the cycle is broken.
type CycleDetectedError struct {
	ProjectID string
	Remaining []string // tasks never released by Kahn's algorithm
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle detected in project %s: %d task(s) unordered (%s)",
		e.ProjectID, len(e.Remaining), strings.Join(e.Remaining, ", "))
}

func (e *CycleDetectedError) Unwrap() error { return ErrCycleDetected }

// MissingDependencyTargetError is returned when a dependency ID does not
// resolve to a live task in the project.
type MissingDependencyTargetError struct {
	TaskID      string
	DependsOnID string
}

func (e *MissingDependencyTargetError) Error() string {
	return fmt.Sprintf("task %s: dependency target %s not found in project", e.TaskID, e.DependsOnID)
}

func (e *MissingDependencyTargetError) Unwrap() error { return ErrMissingDependencyTarget }
