package project

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/util"
	"github.com/zenamanage/planengine/internal/validate"
)

// Store defines the data access methods required by the project Service.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockProject(ctx context.Context, id string) error
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	UpdateProject(ctx context.Context, p *Project) error
}

// Service handles project-level mutations.
type Service struct {
	store Store
	pub   events.Publisher
	locks *util.KeyedMutex
	log   *zap.Logger
}

// NewService creates a project Service. locks must be shared with the other
// engines so one project's writes are serialized across all of them.
func NewService(store Store, pub events.Publisher, locks *util.KeyedMutex, log *zap.Logger) *Service {
	if pub == nil {
		pub = events.Discard
	}
	if locks == nil {
		locks = util.NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, pub: pub, locks: locks, log: log}
}

// Create inserts a new project.
func (s *Service) Create(ctx context.Context, actor Actor, p *Project) error {
	if p.ID == "" {
		p.ID = util.NewID(util.ProjectPrefix)
	}
	if p.Status == "" {
		p.Status = StatusPlanning
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Tags = NormalizeTags(p.Tags)
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("validate project: %w", err)
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return fmt.Errorf("%w: end date before start date", validate.ErrInvalidInput)
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	if err := s.store.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	s.log.Info("Project created", zap.String("project_id", p.ID), zap.String("actor", actor.String()))
	return nil
}

// Get retrieves a project by ID.
func (s *Service) Get(ctx context.Context, id string) (*Project, error) {
	return s.store.GetProject(ctx, id)
}

// UpdateStatus transitions a project's status. Unchanged status is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id string, status Status) (*Project, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var (
		updated *Project
		evts    []events.Event
	)
	err := s.locks.WithLock(id, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, id); err != nil {
				return err
			}
			p, err := s.store.GetProject(ctx, id)
			if err != nil {
				return err
			}
			updated = p
			if p.Status == status {
				return nil
			}
			old := p.Status
			p.Status = status
			p.UpdatedAt = time.Now().UTC()
			if err := s.store.UpdateProject(ctx, p); err != nil {
				return err
			}
			evts = append(evts, events.New(events.ProjectStatusChanged, p.ID, events.EntityProject, p.ID, actor.String()).
				WithFields("status").
				WithPayload("old_status", string(old)).
				WithPayload("new_status", string(status)))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update project status: %w", err)
	}

	events.Emit(ctx, s.pub, s.log, evts...)
	return updated, nil
}

// SetTags replaces the project's category tag set.
func (s *Service) SetTags(ctx context.Context, actor Actor, id string, tags []string) (*Project, error) {
	tags = NormalizeTags(tags)

	var (
		updated *Project
		evts    []events.Event
	)
	err := s.locks.WithLock(id, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, id); err != nil {
				return err
			}
			p, err := s.store.GetProject(ctx, id)
			if err != nil {
				return err
			}
			p.Tags = tags
			p.UpdatedAt = time.Now().UTC()
			if err := s.store.UpdateProject(ctx, p); err != nil {
				return err
			}
			updated = p
			evts = append(evts, events.New(events.ProjectUpdated, p.ID, events.EntityProject, p.ID, actor.String()).
				WithFields("tags"))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("set project tags: %w", err)
	}

	events.Emit(ctx, s.pub, s.log, evts...)
	return updated, nil
}
