package visibility

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zenamanage/planengine/internal/cache"
	"github.com/zenamanage/planengine/internal/component"
	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/task"
	"github.com/zenamanage/planengine/internal/telemetry"
	"github.com/zenamanage/planengine/internal/util"
)

// DefaultTTL bounds how long a cached tag state may be served. Event-driven
// invalidation normally drops entries long before this.
const DefaultTTL = time.Hour

// Store defines the data access methods required by the Engine.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockProject(ctx context.Context, projectID string) error

	GetProject(ctx context.Context, id string) (*project.Project, error)
	ListProjectIDs(ctx context.Context) ([]string, error)
	ListComponents(ctx context.Context, projectID string) ([]component.Component, error)
	ListTasks(ctx context.Context, projectID string) ([]task.Task, error)
	SetTaskHidden(ctx context.Context, taskID string, hidden bool) error
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Cache      cache.Cache
	TTL        time.Duration
	Thresholds Thresholds
	Workers    int
	Publisher  events.Publisher
	Locks      *util.KeyedMutex
	Logger     *zap.Logger
	Metrics    *telemetry.Metrics
}

// Engine evaluates conditional tags and synchronizes task visibility.
type Engine struct {
	store      Store
	cache      cache.Cache
	ttl        time.Duration
	thresholds Thresholds
	workers    int
	pub        events.Publisher
	locks      *util.KeyedMutex
	log        *zap.Logger
	metrics    *telemetry.Metrics

	// gens counts invalidations per project. A cache fill computed under an
	// older generation is dropped.
	genMu sync.Mutex
	gens  map[string]uint64
}

// NewEngine creates an Engine.
func NewEngine(store Store, opts Options) *Engine {
	e := &Engine{
		store:      store,
		cache:      opts.Cache,
		ttl:        opts.TTL,
		thresholds: opts.Thresholds,
		workers:    opts.Workers,
		pub:        opts.Publisher,
		locks:      opts.Locks,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		gens:       make(map[string]uint64),
	}
	if e.cache == nil {
		e.cache = cache.Noop{}
	}
	if e.ttl <= 0 {
		e.ttl = DefaultTTL
	}
	if e.thresholds == (Thresholds{}) {
		e.thresholds = DefaultThresholds()
	}
	if e.workers <= 0 {
		e.workers = 4
	}
	if e.pub == nil {
		e.pub = events.Discard
	}
	if e.locks == nil {
		e.locks = util.NewKeyedMutex()
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// CacheKey returns the cache key of a tag's state for a project.
func CacheKey(projectID, tag string) string {
	return cacheKeyPrefix(projectID) + NormalizeTag(tag)
}

func cacheKeyPrefix(projectID string) string {
	return "visibility:" + projectID + ":"
}

// IsTagActive reports whether tag is active for the project, serving a cached
// answer when one exists. Cache failures fall through to evaluation.
func (e *Engine) IsTagActive(ctx context.Context, tag, projectID string) (bool, error) {
	tag = NormalizeTag(tag)
	key := CacheKey(projectID, tag)

	raw, err := e.cache.Get(ctx, key)
	switch {
	case err == nil && len(raw) == 1:
		e.metrics.CacheLookup(true)
		return raw[0] == '1', nil
	case err != nil && !errors.Is(err, cache.ErrMiss):
		e.log.Warn("Visibility cache read failed", zap.String("key", key), zap.Error(err))
	}
	e.metrics.CacheLookup(false)

	gen := e.generation(projectID)
	st, err := e.loadState(ctx, projectID, needsComponents(tag))
	if err != nil {
		return false, err
	}
	active := Evaluate(tag, st, e.thresholds)
	e.remember(ctx, projectID, gen, map[string]bool{tag: active})
	return active, nil
}

// UpdateTaskVisibilityForProject flips the hidden flag of every tagged task
// whose current flag disagrees with its tag's state and returns how many
// changed. Tags are evaluated against the store, never the cache, and the
// fresh answers are written back to the cache.
func (e *Engine) UpdateTaskVisibilityForProject(ctx context.Context, actor project.Actor, projectID string) (int, error) {
	start := time.Now()
	var (
		evts  []events.Event
		fresh map[string]bool
		gen   uint64
	)
	err := e.locks.WithLock(projectID, func() error {
		gen = e.generation(projectID)
		return e.store.InTx(ctx, func(ctx context.Context) error {
			evts, fresh = nil, make(map[string]bool)
			if err := e.store.LockProject(ctx, projectID); err != nil {
				return err
			}
			tasks, err := e.store.ListTasks(ctx, projectID)
			if err != nil {
				return err
			}

			var st State
			loaded := false
			for _, t := range tasks {
				if t.ConditionalTag == "" {
					continue
				}
				tag := NormalizeTag(t.ConditionalTag)
				active, ok := fresh[tag]
				if !ok {
					if !loaded {
						if st, err = e.loadState(ctx, projectID, true); err != nil {
							return err
						}
						loaded = true
					}
					active = Evaluate(tag, st, e.thresholds)
					fresh[tag] = active
				}

				hidden := !active
				if t.Hidden == hidden {
					continue
				}
				if err := e.store.SetTaskHidden(ctx, t.ID, hidden); err != nil {
					return fmt.Errorf("set hidden on %s: %w", t.ID, err)
				}
				evts = append(evts, events.New(events.TaskUpdated, projectID, events.EntityTask, t.ID, actor.String()).
					WithFields("hidden").
					WithPayload("tag", tag).
					WithPayload("hidden", hidden))
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("sync visibility for %s: %w", projectID, err)
	}

	e.remember(ctx, projectID, gen, fresh)
	e.metrics.VisibilityFlipped(len(evts))
	e.metrics.ObserveSync(time.Since(start))
	if len(evts) > 0 {
		e.log.Info("Task visibility updated",
			zap.String("project_id", projectID),
			zap.Int("changed", len(evts)))
	}
	events.Emit(ctx, e.pub, e.log, evts...)
	return len(evts), nil
}

// Invalidate drops every cached tag state of the project. Evaluations that
// started before the call do not repopulate the cache.
func (e *Engine) Invalidate(ctx context.Context, projectID string) error {
	e.genMu.Lock()
	e.gens[projectID]++
	e.genMu.Unlock()
	if err := e.cache.DeletePrefix(ctx, cacheKeyPrefix(projectID)); err != nil {
		return fmt.Errorf("invalidate visibility cache: %w", err)
	}
	return nil
}

// HandleEvents invalidates and resynchronizes every project whose tag inputs
// may have changed in evts, once per project however many of its events
// qualify. Subscribe it to the in-process bus with SubscribeBatch.
func (e *Engine) HandleEvents(ctx context.Context, evts []events.Event) {
	var order []string
	trigger := make(map[string]events.Event)
	for _, evt := range evts {
		if !affectsTags(evt) {
			continue
		}
		if _, seen := trigger[evt.ProjectID]; seen {
			continue
		}
		trigger[evt.ProjectID] = evt
		order = append(order, evt.ProjectID)
	}
	for _, projectID := range order {
		e.resync(ctx, trigger[projectID])
	}
}

// HandleEvent is HandleEvents for a single event.
func (e *Engine) HandleEvent(ctx context.Context, evt events.Event) {
	e.HandleEvents(ctx, []events.Event{evt})
}

func (e *Engine) resync(ctx context.Context, evt events.Event) {
	if err := e.Invalidate(ctx, evt.ProjectID); err != nil {
		e.log.Warn("Visibility cache invalidation failed", zap.String("project_id", evt.ProjectID), zap.Error(err))
	}
	if _, err := e.UpdateTaskVisibilityForProject(ctx, project.ParseActor(evt.Actor), evt.ProjectID); err != nil {
		e.log.Error("Visibility resync failed",
			zap.String("project_id", evt.ProjectID),
			zap.String("trigger", string(evt.Type)),
			zap.Error(err))
	}
}

func affectsTags(evt events.Event) bool {
	switch evt.Type {
	case events.ProjectStatusChanged, events.ProjectUpdated,
		events.ComponentCreated, events.ComponentUpdated, events.ComponentDeleted,
		events.ProgressChanged, events.CostChanged:
		return true
	case events.TaskCreated, events.TaskUpdated:
		_, ok := evt.Payload["conditional_tag"]
		return ok
	}
	return false
}

// SyncResult is the outcome of one project in SyncProjects.
type SyncResult struct {
	ProjectID string
	Changed   int
	Err       error
}

// SyncProjects resynchronizes several projects in parallel, bounded by the
// configured worker count. An empty list means every project. Per-project
// failures are reported in the results; the returned error is only set when
// the project list cannot be loaded or ctx is cancelled.
func (e *Engine) SyncProjects(ctx context.Context, actor project.Actor, projectIDs []string) ([]SyncResult, error) {
	if len(projectIDs) == 0 {
		ids, err := e.store.ListProjectIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		projectIDs = ids
	}

	results := make([]SyncResult, len(projectIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, id := range projectIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = SyncResult{ProjectID: id, Err: err}
				return err
			}
			n, err := e.UpdateTaskVisibilityForProject(gctx, actor, id)
			results[i] = SyncResult{ProjectID: id, Changed: n, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].ProjectID < results[j].ProjectID })
	return results, nil
}

func (e *Engine) loadState(ctx context.Context, projectID string, withComponents bool) (State, error) {
	p, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return State{}, err
	}
	st := State{Project: p}
	if withComponents {
		comps, err := e.store.ListComponents(ctx, projectID)
		if err != nil {
			return State{}, err
		}
		st.Components = comps
	}
	return st, nil
}

func (e *Engine) generation(projectID string) uint64 {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	return e.gens[projectID]
}

// remember caches tag states evaluated under generation gen. Nothing is
// written once the project has been invalidated since.
func (e *Engine) remember(ctx context.Context, projectID string, gen uint64, states map[string]bool) {
	if len(states) == 0 {
		return
	}
	e.genMu.Lock()
	defer e.genMu.Unlock()
	if e.gens[projectID] != gen {
		e.log.Debug("Skipping stale visibility cache fill", zap.String("project_id", projectID))
		return
	}
	for tag, active := range states {
		v := []byte{'0'}
		if active {
			v[0] = '1'
		}
		if err := e.cache.Set(ctx, CacheKey(projectID, tag), v, e.ttl); err != nil {
			e.log.Warn("Visibility cache write failed", zap.String("project_id", projectID), zap.String("tag", tag), zap.Error(err))
		}
	}
}
