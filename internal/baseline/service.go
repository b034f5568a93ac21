package baseline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/telemetry"
	"github.com/zenamanage/planengine/internal/util"
	"github.com/zenamanage/planengine/internal/validate"
)

// Store defines the data access methods required by the baseline Service.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockProject(ctx context.Context, projectID string) error
	GetProject(ctx context.Context, id string) (*project.Project, error)

	CreateBaseline(ctx context.Context, b *Baseline) error
	GetBaseline(ctx context.Context, id string) (*Baseline, error)
	LatestBaseline(ctx context.Context, projectID string, t Type) (*Baseline, error)
	ListBaselines(ctx context.Context, projectID string) ([]Baseline, error)
}

// NewBaseline is the input to CreateBaseline.
type NewBaseline struct {
	ProjectID   string
	Type        Type
	StartDate   time.Time
	EndDate     time.Time
	PlannedCost float64
	Note        string
}

// Service creates baselines and reports variance against them.
type Service struct {
	store   Store
	pub     events.Publisher
	locks   *util.KeyedMutex
	log     *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewService creates a baseline Service.
func NewService(store Store, pub events.Publisher, locks *util.KeyedMutex, log *zap.Logger, metrics *telemetry.Metrics) *Service {
	if pub == nil {
		pub = events.Discard
	}
	if locks == nil {
		locks = util.NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, pub: pub, locks: locks, log: log, metrics: metrics, now: time.Now}
}

// CreateBaseline snapshots a plan as the next version of its type.
func (s *Service) CreateBaseline(ctx context.Context, actor project.Actor, in NewBaseline) (*Baseline, error) {
	b := &Baseline{
		ID:          util.NewID(util.BaselinePrefix),
		ProjectID:   in.ProjectID,
		Type:        in.Type,
		StartDate:   in.StartDate.UTC(),
		EndDate:     in.EndDate.UTC(),
		PlannedCost: in.PlannedCost,
		Note:        strings.TrimSpace(in.Note),
		CreatedBy:   actor.String(),
	}
	if err := validate.Struct(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseline, err)
	}
	if b.EndDate.Before(b.StartDate) {
		return nil, fmt.Errorf("%w: end date before start date", ErrInvalidBaseline)
	}

	err := s.locks.WithLock(b.ProjectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockProject(ctx, b.ProjectID); err != nil {
				return err
			}
			latest, err := s.store.LatestBaseline(ctx, b.ProjectID, b.Type)
			switch {
			case errors.Is(err, ErrBaselineNotFound):
				b.Version = 1
			case err != nil:
				return err
			default:
				b.Version = latest.Version + 1
			}
			b.CreatedAt = s.now().UTC()
			return s.store.CreateBaseline(ctx, b)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create baseline: %w", err)
	}

	s.log.Info("Baseline created",
		zap.String("project_id", b.ProjectID),
		zap.String("type", string(b.Type)),
		zap.Int("version", b.Version))
	events.Emit(ctx, s.pub, s.log, events.New(events.BaselineCreated, b.ProjectID, events.EntityBaseline, b.ID, actor.String()).
		WithPayload("type", string(b.Type)).
		WithPayload("version", b.Version))
	return b, nil
}

// Get returns a baseline by ID.
func (s *Service) Get(ctx context.Context, id string) (*Baseline, error) {
	return s.store.GetBaseline(ctx, id)
}

// Latest returns the highest version of the given type.
func (s *Service) Latest(ctx context.Context, projectID string, t Type) (*Baseline, error) {
	return s.store.LatestBaseline(ctx, projectID, t)
}

// List returns every baseline of the project, oldest first within a type.
func (s *Service) List(ctx context.Context, projectID string) ([]Baseline, error) {
	return s.store.ListBaselines(ctx, projectID)
}

// Variance computes the EVM report of the baseline's project as of now.
// A zero now means the current time.
func (s *Service) Variance(ctx context.Context, baselineID string, now time.Time) (*Report, error) {
	b, err := s.store.GetBaseline(ctx, baselineID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProject(ctx, b.ProjectID)
	if err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = s.now()
	}
	r := Calculate(*b, p.Snapshot(), now.UTC())
	s.metrics.EVMReported(r.Health)
	s.log.Debug("Variance computed",
		zap.String("baseline_id", b.ID),
		zap.Float64("cpi", r.CPI),
		zap.Float64("spi", r.SPI),
		zap.String("health", r.Health))
	return &r, nil
}
