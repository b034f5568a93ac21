package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"     // Not started
	StatusInProgress TaskStatus = "in_progress" // Being worked on
	StatusCompleted  TaskStatus = "completed"   // Done; unblocks dependents
	StatusCancelled  TaskStatus = "cancelled"   // Abandoned; does not unblock dependents
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Priority orders tasks that are ready at the same time.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ErrInvalidPriority is returned by ParsePriority for unknown input.
var ErrInvalidPriority = errors.New("invalid priority")

// Weight maps priorities to sortable integer weights (higher = more urgent).
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ParsePriority maps common inputs and typos to canonical priorities.
// Empty input yields medium.
func ParsePriority(input string) (Priority, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	switch s {
	case "":
		return PriorityMedium, nil
	case "low", "medium", "high", "critical":
		return Priority(s), nil
	case "lo", "l", "minor", "p3", "p4":
		return PriorityLow, nil
	case "med", "m", "normal", "regular", "p2":
		return PriorityMedium, nil
	case "hi", "h", "important", "p1":
		return PriorityHigh, nil
	case "crit", "c", "urgent", "asap", "blocker", "p0":
		return PriorityCritical, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPriority, input)
}

// ParseStatus converts user input to a TaskStatus.
func ParseStatus(input string) (TaskStatus, error) {
	s := TaskStatus(strings.ToLower(strings.TrimSpace(input)))
	switch s {
	case "todo", "open":
		return StatusPending, nil
	case "doing", "started":
		return StatusInProgress, nil
	case "done":
		return StatusCompleted, nil
	}
	if !s.Valid() {
		return "", fmt.Errorf("invalid task status %q", input)
	}
	return s, nil
}

// Task represents a unit of work inside a project.
type Task struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id" validate:"required"`
	ComponentID    string     `json:"component_id,omitempty"`
	Name           string     `json:"name" validate:"required,max=255"`
	Status         TaskStatus `json:"status" validate:"required,oneof=pending in_progress completed cancelled"`
	Priority       Priority   `json:"priority" validate:"required,oneof=low medium high critical"`
	Dependencies   []string   `json:"dependencies"` // IDs of tasks in the same project
	ConditionalTag string     `json:"conditional_tag,omitempty"`
	Hidden         bool       `json:"hidden"`
	Progress       float64    `json:"progress" validate:"progress"`
	EstimatedHours float64    `json:"estimated_hours" validate:"gte=0"`
	ActualHours    float64    `json:"actual_hours" validate:"gte=0"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// DependsOn reports whether id is one of t's dependencies.
func (t *Task) DependsOn(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// Visible reports whether the task is shown (not hidden by its conditional tag).
func (t *Task) Visible() bool { return !t.Hidden }

// TaskUpdate carries a partial update; nil fields are left unchanged.
type TaskUpdate struct {
	Name           *string
	Status         *TaskStatus
	Priority       *Priority
	Progress       *float64
	EstimatedHours *float64
	ActualHours    *float64
	StartDate      *time.Time
	EndDate        *time.Time
	ConditionalTag *string
	ComponentID    *string
	ClearDates     bool
}

// apply mutates t and returns the names of fields that changed.
func (u TaskUpdate) apply(t *Task) []string {
	var changed []string
	if u.Name != nil && *u.Name != t.Name {
		t.Name = *u.Name
		changed = append(changed, "name")
	}
	if u.Status != nil && *u.Status != t.Status {
		t.Status = *u.Status
		changed = append(changed, "status")
	}
	if u.Priority != nil && *u.Priority != t.Priority {
		t.Priority = *u.Priority
		changed = append(changed, "priority")
	}
	if u.Progress != nil && *u.Progress != t.Progress {
		t.Progress = *u.Progress
		changed = append(changed, "progress")
	}
	if u.EstimatedHours != nil && *u.EstimatedHours != t.EstimatedHours {
		t.EstimatedHours = *u.EstimatedHours
		changed = append(changed, "estimated_hours")
	}
	if u.ActualHours != nil && *u.ActualHours != t.ActualHours {
		t.ActualHours = *u.ActualHours
		changed = append(changed, "actual_hours")
	}
	if u.ClearDates {
		if t.StartDate != nil || t.EndDate != nil {
			t.StartDate, t.EndDate = nil, nil
			changed = append(changed, "start_date", "end_date")
		}
	} else {
		if u.StartDate != nil && !sameTime(t.StartDate, u.StartDate) {
			d := *u.StartDate
			t.StartDate = &d
			changed = append(changed, "start_date")
		}
		if u.EndDate != nil && !sameTime(t.EndDate, u.EndDate) {
			d := *u.EndDate
			t.EndDate = &d
			changed = append(changed, "end_date")
		}
	}
	if u.ConditionalTag != nil {
		tag := strings.ToLower(strings.TrimSpace(*u.ConditionalTag))
		if tag != t.ConditionalTag {
			t.ConditionalTag = tag
			changed = append(changed, "conditional_tag")
		}
	}
	if u.ComponentID != nil && *u.ComponentID != t.ComponentID {
		t.ComponentID = *u.ComponentID
		changed = append(changed, "component_id")
	}
	return changed
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
