// Package baseline stores immutable, versioned plan snapshots and computes
// Earned Value Management variance against them.
package baseline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type distinguishes the contractual baseline from the working one.
type Type string

const (
	TypeContract  Type = "contract"
	TypeExecution Type = "execution"
)

// Valid reports whether t is a known baseline type.
func (t Type) Valid() bool {
	return t == TypeContract || t == TypeExecution
}

// ParseType converts user input to a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidBaseline, s)
	}
	return t, nil
}

var (
	ErrBaselineNotFound = errors.New("baseline not found")
	ErrInvalidBaseline  = errors.New("invalid baseline")
)

// Baseline is a snapshot of planned schedule and cost. Versions increase per
// (project, type); a baseline is never updated, only superseded.
type Baseline struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id" validate:"required"`
	Type        Type      `json:"type" validate:"required,oneof=contract execution"`
	Version     int       `json:"version"`
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required"`
	PlannedCost float64   `json:"planned_cost" validate:"gte=0"`
	Note        string    `json:"note,omitempty" validate:"max=1000"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// PlannedDays is the whole number of days between start and end.
func (b Baseline) PlannedDays() int {
	return wholeDays(b.StartDate, b.EndDate)
}

func wholeDays(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
