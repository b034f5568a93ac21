package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/zenamanage/planengine/internal/component"
)

var componentColumns = []string{
	"id", "project_id", "parent_id", "name", "progress",
	"planned_cost", "actual_cost", "created_at", "updated_at",
}

// CreateComponent inserts a component.
func (s *Store) CreateComponent(ctx context.Context, c *component.Component) error {
	_, err := s.exec(ctx, s.sb.Insert("components").
		Columns(componentColumns...).
		Values(c.ID, c.ProjectID, nullString(c.ParentID), c.Name, c.Progress,
			c.PlannedCost, c.ActualCost, formatTime(c.CreatedAt), formatTime(c.UpdatedAt)))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", component.ErrDuplicateComponent, c.ID)
	}
	if err != nil {
		return fmt.Errorf("insert component %s: %w", c.Name, err)
	}
	return nil
}

// GetComponent retrieves a component by ID.
func (s *Store) GetComponent(ctx context.Context, id string) (*component.Component, error) {
	row, err := s.queryRow(ctx, s.sb.Select(componentColumns...).From("components").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	c, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", component.ErrComponentNotFound, id)
	}
	return c, err
}

// ListComponents returns every component of a project ordered by creation.
func (s *Store) ListComponents(ctx context.Context, projectID string) ([]component.Component, error) {
	rows, err := s.query(ctx, s.sb.Select(componentColumns...).From("components").
		Where(squirrel.Eq{"project_id": projectID}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comps []component.Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		comps = append(comps, *c)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, err
	}
	return comps, nil
}

// UpdateComponent writes every mutable column of c.
func (s *Store) UpdateComponent(ctx context.Context, c *component.Component) error {
	return s.execAffecting(ctx, s.sb.Update("components").
		Set("parent_id", nullString(c.ParentID)).
		Set("name", c.Name).
		Set("progress", c.Progress).
		Set("planned_cost", c.PlannedCost).
		Set("actual_cost", c.ActualCost).
		Set("updated_at", formatTime(c.UpdatedAt)).
		Where(squirrel.Eq{"id": c.ID}),
		fmt.Errorf("%w: %s", component.ErrComponentNotFound, c.ID))
}

// DeleteComponent removes a component. Soft-deleted tasks still pointing at
// it are unlinked first so the foreign key holds.
func (s *Store) DeleteComponent(ctx context.Context, id string) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, s.sb.Update("tasks").
			Set("component_id", nil).
			Where(squirrel.And{
				squirrel.Eq{"component_id": id},
				squirrel.NotEq{"deleted_at": nil},
			})); err != nil {
			return fmt.Errorf("unlink deleted tasks: %w", err)
		}
		return s.execAffecting(ctx, s.sb.Delete("components").Where(squirrel.Eq{"id": id}),
			fmt.Errorf("%w: %s", component.ErrComponentNotFound, id))
	})
}

func scanComponent(row interface{ Scan(...any) error }) (*component.Component, error) {
	var (
		c                component.Component
		parentID         sql.NullString
		created, updated string
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &parentID, &c.Name, &c.Progress,
		&c.PlannedCost, &c.ActualCost, &created, &updated); err != nil {
		return nil, err
	}
	c.ParentID = parentID.String

	var err error
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}
