package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/util"
)

var projectColumns = []string{
	"id", "name", "status", "tags", "start_date", "end_date",
	"progress", "actual_cost", "created_at", "updated_at",
}

// LockProject takes the project's write lock for the current transaction by
// bumping its lock_version. It fails with project.ErrProjectNotFound.
func (s *Store) LockProject(ctx context.Context, id string) error {
	return s.execAffecting(ctx, s.sb.Update("projects").
		Set("lock_version", squirrel.Expr("lock_version + 1")).
		Where(squirrel.Eq{"id": id}),
		fmt.Errorf("%w: %s", project.ErrProjectNotFound, id))
}

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	tags, err := json.Marshal(nonNil(p.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.exec(ctx, s.sb.Insert("projects").
		Columns(projectColumns...).
		Values(p.ID, p.Name, string(p.Status), string(tags), nullTime(p.StartDate), nullTime(p.EndDate),
			p.Progress, p.ActualCost, formatTime(p.CreatedAt), formatTime(p.UpdatedAt)))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", project.ErrDuplicateProject, p.ID)
	}
	if err != nil {
		return fmt.Errorf("insert project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row, err := s.queryRow(ctx, s.sb.Select(projectColumns...).From("projects").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", project.ErrProjectNotFound, id)
	}
	return p, err
}

// UpdateProject writes every mutable column of p.
func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	tags, err := json.Marshal(nonNil(p.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	return s.execAffecting(ctx, s.sb.Update("projects").
		Set("name", p.Name).
		Set("status", string(p.Status)).
		Set("tags", string(tags)).
		Set("start_date", nullTime(p.StartDate)).
		Set("end_date", nullTime(p.EndDate)).
		Set("progress", p.Progress).
		Set("actual_cost", p.ActualCost).
		Set("updated_at", formatTime(p.UpdatedAt)).
		Where(squirrel.Eq{"id": p.ID}),
		fmt.Errorf("%w: %s", project.ErrProjectNotFound, p.ID))
}

// UpdateProjectRollup stores the derived progress and actual cost.
func (s *Store) UpdateProjectRollup(ctx context.Context, projectID string, progress, actualCost float64) error {
	return s.execAffecting(ctx, s.sb.Update("projects").
		Set("progress", progress).
		Set("actual_cost", actualCost).
		Set("updated_at", formatTime(now())).
		Where(squirrel.Eq{"id": projectID}),
		fmt.Errorf("%w: %s", project.ErrProjectNotFound, projectID))
}

// ListProjectIDs returns every project ID in ascending order.
func (s *Store) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, s.sb.Select("id").From("projects").OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

// FindIDsByPrefix implements util.IDPrefixResolver. The entity prefix of the
// argument selects the table; anything else is looked up among projects.
func (s *Store) FindIDsByPrefix(ctx context.Context, prefix string) ([]string, error) {
	table := "projects"
	where := squirrel.Like{"id": prefix + "%"}
	var extra squirrel.Sqlizer
	switch {
	case strings.HasPrefix(prefix, util.TaskPrefix):
		table = "tasks"
		extra = squirrel.Eq{"deleted_at": nil}
	case strings.HasPrefix(prefix, util.ComponentPrefix):
		table = "components"
	case strings.HasPrefix(prefix, util.BaselinePrefix):
		table = "baselines"
	}

	q := s.sb.Select("id").From(table).Where(where).OrderBy("id")
	if extra != nil {
		q = q.Where(extra)
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

func scanProject(row interface{ Scan(...any) error }) (*project.Project, error) {
	var (
		p                project.Project
		status, tags     string
		start, end       sql.NullString
		created, updated string
	)
	if err := row.Scan(&p.ID, &p.Name, &status, &tags, &start, &end,
		&p.Progress, &p.ActualCost, &created, &updated); err != nil {
		return nil, err
	}
	p.Status = project.Status(status)
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags of %s: %w", p.ID, err)
	}
	var err error
	if p.StartDate, err = parseNullTime(start); err != nil {
		return nil, err
	}
	if p.EndDate, err = parseNullTime(end); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}
