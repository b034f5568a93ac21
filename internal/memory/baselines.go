package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/zenamanage/planengine/internal/baseline"
)

var baselineColumns = []string{
	"id", "project_id", "type", "version", "start_date", "end_date",
	"planned_cost", "note", "created_by", "created_at",
}

// CreateBaseline inserts a baseline. The (project, type, version) triple is
// unique; a duplicate fails.
func (s *Store) CreateBaseline(ctx context.Context, b *baseline.Baseline) error {
	_, err := s.exec(ctx, s.sb.Insert("baselines").
		Columns(baselineColumns...).
		Values(b.ID, b.ProjectID, string(b.Type), b.Version, formatTime(b.StartDate), formatTime(b.EndDate),
			b.PlannedCost, b.Note, b.CreatedBy, formatTime(b.CreatedAt)))
	if err != nil {
		return fmt.Errorf("insert baseline %s v%d: %w", b.Type, b.Version, err)
	}
	return nil
}

// GetBaseline retrieves a baseline by ID.
func (s *Store) GetBaseline(ctx context.Context, id string) (*baseline.Baseline, error) {
	row, err := s.queryRow(ctx, s.sb.Select(baselineColumns...).From("baselines").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	b, err := scanBaseline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", baseline.ErrBaselineNotFound, id)
	}
	return b, err
}

// LatestBaseline returns the highest version of a project's baseline type.
func (s *Store) LatestBaseline(ctx context.Context, projectID string, typ baseline.Type) (*baseline.Baseline, error) {
	row, err := s.queryRow(ctx, s.sb.Select(baselineColumns...).From("baselines").
		Where(squirrel.Eq{"project_id": projectID, "type": string(typ)}).
		OrderBy("version DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	b, err := scanBaseline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no %s baseline for %s", baseline.ErrBaselineNotFound, typ, projectID)
	}
	return b, err
}

// ListBaselines returns every baseline of a project ordered by type and version.
func (s *Store) ListBaselines(ctx context.Context, projectID string) ([]baseline.Baseline, error) {
	rows, err := s.query(ctx, s.sb.Select(baselineColumns...).From("baselines").
		Where(squirrel.Eq{"project_id": projectID}).
		OrderBy("type", "version"))
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []baseline.Baseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		out = append(out, *b)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, err
	}
	return out, nil
}

func scanBaseline(row interface{ Scan(...any) error }) (*baseline.Baseline, error) {
	var (
		b                   baseline.Baseline
		typ                 string
		start, end, created string
	)
	if err := row.Scan(&b.ID, &b.ProjectID, &typ, &b.Version, &start, &end,
		&b.PlannedCost, &b.Note, &b.CreatedBy, &created); err != nil {
		return nil, err
	}
	b.Type = baseline.Type(typ)

	var err error
	if b.StartDate, err = parseTime(start); err != nil {
		return nil, err
	}
	if b.EndDate, err = parseTime(end); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &b, nil
}
