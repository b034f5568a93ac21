package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/zenamanage/planengine/internal/baseline"
	"github.com/zenamanage/planengine/internal/cache"
	"github.com/zenamanage/planengine/internal/component"
	"github.com/zenamanage/planengine/internal/config"
	"github.com/zenamanage/planengine/internal/events"
	"github.com/zenamanage/planengine/internal/logger"
	"github.com/zenamanage/planengine/internal/memory"
	"github.com/zenamanage/planengine/internal/project"
	"github.com/zenamanage/planengine/internal/task"
	"github.com/zenamanage/planengine/internal/telemetry"
	"github.com/zenamanage/planengine/internal/template"
	"github.com/zenamanage/planengine/internal/util"
	"github.com/zenamanage/planengine/internal/visibility"
)

// app is the composition root shared by every command.
type app struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	store    *memory.Store
	bus      *events.Bus
	registry *prometheus.Registry

	projects   *project.Service
	tasks      *task.Service
	components *component.RollupService
	visibility *visibility.Engine
	baselines  *baseline.Service
	templates  *template.Loader
	applier    *template.Applier

	closers []func() error
}

// newApp loads configuration and wires the engines onto one bus. The engines
// that react to each other's events are subscribed in-process; external
// sinks only observe.
func newApp(ctx context.Context, cfgPath string, verbose bool) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.loadConfig(cfgPath, verbose); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.New(a.registry)

	a.store, err = memory.Open(ctx, memory.Options{
		Driver:   a.cfg.Database.Driver,
		Path:     a.cfg.Database.Path,
		DSN:      a.cfg.Database.DSN,
		MaxConns: a.cfg.Database.MaxConns,
		Trace:    a.cfg.Database.Trace,
		Logger:   a.log.Named("store"),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	c, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}

	a.bus = events.NewBus(a.log.Named("events"), metrics)
	if err := a.openSink(); err != nil {
		return nil, err
	}

	locks := util.NewKeyedMutex()
	a.projects = project.NewService(a.store, a.bus, locks, a.log.Named("project"))
	a.tasks = task.NewService(a.store, a.bus, locks, a.log.Named("task"), metrics)
	a.components = component.NewRollupService(a.store, a.bus, locks, a.log.Named("rollup"), metrics)
	a.visibility = visibility.NewEngine(a.store, visibility.Options{
		Cache: c,
		TTL:   a.cfg.Cache.TTL,
		Thresholds: visibility.Thresholds{
			High: a.cfg.Visibility.BudgetHigh,
			Low:  a.cfg.Visibility.BudgetLow,
		},
		Workers:   a.cfg.Visibility.SyncWorkers,
		Publisher: a.bus,
		Locks:     locks,
		Logger:    a.log.Named("visibility"),
		Metrics:   metrics,
	})
	a.baselines = baseline.NewService(a.store, a.bus, locks, a.log.Named("baseline"), metrics)
	a.templates = template.NewOsLoader(a.cfg.Templates.Dir)
	a.applier = template.NewApplier(a.tasks, a.visibility, a.bus, a.log.Named("template"))

	a.bus.SubscribeBatch(a.components.HandleEvents)
	a.bus.SubscribeBatch(a.visibility.HandleEvents)
	return a, nil
}

func (a *app) loadConfig(cfgPath string, verbose bool) error {
	path := config.ResolveConfigPath(cfgPath)

	var err error
	if a.cfg, err = config.Load(path); err != nil {
		return err
	}
	if a.log, err = logger.Build(a.cfg.Logger); err != nil {
		return err
	}
	zap.ReplaceGlobals(a.log)
	a.closers = append(a.closers, func() error { _ = a.log.Sync(); return nil })

	if path != "" {
		// Keep the log level in step with the file during long runs.
		if a.cfg, err = config.Watch(path, a.log, nil); err != nil {
			return err
		}
	}
	if verbose {
		_ = logger.SetLevel("debug")
	}

	if a.cfg.Database.Driver == memory.DriverSQLite {
		logger.SetBasePath(filepath.Dir(a.cfg.Database.Path))
	}
	a.log.Debug("Config loaded", zap.String("file", path), zap.String("driver", a.cfg.Database.Driver))
	return nil
}

func (a *app) openCache(ctx context.Context) (cache.Cache, error) {
	switch a.cfg.Cache.Backend {
	case "redis":
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     a.cfg.Cache.Redis.Addr,
			Password: a.cfg.Cache.Redis.Password,
			DB:       a.cfg.Cache.Redis.DB,
		}, a.log.Named("cache"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	case "none":
		return cache.Noop{}, nil
	default:
		return cache.NewMemory(a.cfg.Cache.Size)
	}
}

func (a *app) openSink() error {
	ec := a.cfg.Events
	switch ec.Backend {
	case "nats":
		sink, err := events.DialNATS(ec.URL, ec.SubjectPrefix, a.log.Named("nats"))
		if err != nil {
			return err
		}
		a.bus.AddSink(sink)
		a.closers = append(a.closers, sink.Close)
	case "amqp":
		sink, err := events.DialAMQP(ec.URL, ec.Exchange, ec.MaxRetries, a.log.Named("amqp"))
		if err != nil {
			return err
		}
		a.bus.AddSink(sink)
		a.closers = append(a.closers, sink.Close)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// resolveProject accepts a full project ID or a unique prefix of one.
func (a *app) resolveProject(ctx context.Context, idOrPrefix string) (string, error) {
	if _, err := a.store.GetProject(ctx, idOrPrefix); err == nil {
		return idOrPrefix, nil
	} else if !errors.Is(err, project.ErrProjectNotFound) {
		return "", err
	}
	return util.ResolveID(ctx, a.store, util.ProjectPrefix, idOrPrefix)
}

func (a *app) resolveTask(ctx context.Context, idOrPrefix string) (string, error) {
	return util.ResolveID(ctx, a.store, util.TaskPrefix, idOrPrefix)
}

func (a *app) resolveBaseline(ctx context.Context, idOrPrefix string) (string, error) {
	return util.ResolveID(ctx, a.store, util.BaselinePrefix, idOrPrefix)
}
