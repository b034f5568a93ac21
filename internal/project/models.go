// Package project holds the Project aggregate root, the Actor performing a
// change, and the service for project-level mutations.
package project

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a project.
type Status string

const (
	StatusPlanning   Status = "planning"
	StatusDesign     Status = "design"
	StatusInProgress Status = "in_progress"
	StatusOnHold     Status = "on_hold"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrInvalidStatus    = errors.New("invalid project status")
	ErrDuplicateProject = errors.New("project ID already in use")
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanning, StatusDesign, StatusInProgress, StatusOnHold, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus converts user input to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Project is the aggregate root. Progress and ActualCost are derived from the
// component tree (or the task set when there are no components).
type Project struct {
	ID         string     `json:"id"`
	Name       string     `json:"name" validate:"required,max=255"`
	Status     Status     `json:"status" validate:"required,oneof=planning design in_progress on_hold completed cancelled"`
	Tags       []string   `json:"tags,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Progress   float64    `json:"progress" validate:"progress"`
	ActualCost float64    `json:"actual_cost" validate:"gte=0"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HasTag reports whether the project's tag set contains tag (case-insensitive).
func (p *Project) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Snapshot is the read-only view of a project used by the EVM calculator.
type Snapshot struct {
	ProjectID  string
	Progress   float64
	ActualCost float64
	StartDate  *time.Time
	EndDate    *time.Time
}

// Snapshot returns the current derived values.
func (p *Project) Snapshot() Snapshot {
	return Snapshot{
		ProjectID:  p.ID,
		Progress:   p.Progress,
		ActualCost: p.ActualCost,
		StartDate:  p.StartDate,
		EndDate:    p.EndDate,
	}
}

// NormalizeTags lowercases, trims and de-duplicates tags, keeping order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
