// Package config loads the planengine configuration from an optional YAML
// file, a .env file and PLANENGINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zenamanage/planengine/internal/logger"
	"github.com/zenamanage/planengine/internal/validate"
)

const envPrefix = "PLANENGINE"

// AppConfig is the root configuration.
type AppConfig struct {
	Database   Database      `mapstructure:"database"`
	Cache      Cache         `mapstructure:"cache"`
	Events     Events        `mapstructure:"events"`
	Logger     logger.Config `mapstructure:"logger"`
	Visibility Visibility    `mapstructure:"visibility"`
	Templates  Templates     `mapstructure:"templates"`
}

type (
	// Database selects and configures the store dialect.
	Database struct {
		Driver   string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
		Path     string `mapstructure:"path" validate:"required_if=Driver sqlite"`
		DSN      string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
		MaxConns int    `mapstructure:"max_conns" validate:"gte=0"`
		Trace    bool   `mapstructure:"trace"`
	}

	// Cache configures the tag state cache.
	Cache struct {
		Backend string        `mapstructure:"backend" validate:"oneof=memory redis none"`
		TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
		Size    int           `mapstructure:"size" validate:"gte=0"`
		Redis   Redis         `mapstructure:"redis"`
	}

	// Redis holds the connection settings of the redis cache backend.
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db" validate:"gte=0"`
	}

	// Events configures the external event sink.
	Events struct {
		Backend       string `mapstructure:"backend" validate:"oneof=none nats amqp"`
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
		Exchange      string `mapstructure:"exchange"`
		MaxRetries    int    `mapstructure:"max_retries" validate:"gte=0"`
	}

	// Visibility configures the conditional visibility engine.
	Visibility struct {
		BudgetHigh  float64 `mapstructure:"budget_high" validate:"gtefield=BudgetLow"`
		BudgetLow   float64 `mapstructure:"budget_low" validate:"gte=0"`
		SyncWorkers int     `mapstructure:"sync_workers" validate:"gte=1"`
	}

	// Templates points at the work template directory.
	Templates struct {
		Dir string `mapstructure:"dir"`
	}
)

// Default returns the configuration used when nothing overrides it.
func Default() *AppConfig {
	return &AppConfig{
		Database: Database{
			Driver: "sqlite",
			Path:   DataDir + "/planengine.db",
		},
		Cache: Cache{
			Backend: "memory",
			TTL:     time.Hour,
			Size:    1024,
			Redis:   Redis{Addr: "localhost:6379"},
		},
		Events: Events{
			Backend:       "none",
			SubjectPrefix: "planengine.events",
			Exchange:      "planengine.events",
			MaxRetries:    5,
		},
		Logger: logger.Config{Level: "info", Encoding: "json"},
		Visibility: Visibility{
			BudgetHigh:  1_000_000,
			BudgetLow:   100_000,
			SyncWorkers: 4,
		},
		Templates: Templates{Dir: "templates"},
	}
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_conns", d.Database.MaxConns)
	v.SetDefault("database.trace", d.Database.Trace)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.redis.addr", d.Cache.Redis.Addr)
	v.SetDefault("cache.redis.password", d.Cache.Redis.Password)
	v.SetDefault("cache.redis.db", d.Cache.Redis.DB)

	v.SetDefault("events.backend", d.Events.Backend)
	v.SetDefault("events.url", d.Events.URL)
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)
	v.SetDefault("events.exchange", d.Events.Exchange)
	v.SetDefault("events.max_retries", d.Events.MaxRetries)

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.encoding", d.Logger.Encoding)
	v.SetDefault("logger.development", d.Logger.Development)

	v.SetDefault("visibility.budget_high", d.Visibility.BudgetHigh)
	v.SetDefault("visibility.budget_low", d.Visibility.BudgetLow)
	v.SetDefault("visibility.sync_workers", d.Visibility.SyncWorkers)

	v.SetDefault("templates.dir", d.Templates.Dir)
}

// newViper builds a viper instance over defaults, environment and the
// config file at path. An empty path skips the file.
func newViper(path string) (*viper.Viper, error) {
	// Load .env first; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.Cache.Backend = strings.ToLower(cfg.Cache.Backend)
	cfg.Events.Backend = strings.ToLower(cfg.Events.Backend)
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*AppConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration at path and calls onChange with every
// valid revision written to the file afterwards. The logger level follows
// the file without a restart. Invalid revisions are logged and skipped.
func Watch(path string, log *zap.Logger, onChange func(*AppConfig)) (*AppConfig, error) {
	if path == "" {
		return nil, errors.New("watch requires a config file")
	}
	if log == nil {
		log = zap.NewNop()
	}
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(in fsnotify.Event) {
		if in.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		next, err := decode(v)
		if err != nil {
			log.Warn("Ignoring invalid config change", zap.String("file", in.Name), zap.Error(err))
			return
		}
		if err := logger.SetLevel(next.Logger.Level); err != nil {
			log.Warn("Couldn't apply log level", zap.Error(err))
		} else {
			log.Info("Config reloaded", zap.String("file", in.Name), zap.String("log_level", next.Logger.Level))
		}
		if onChange != nil {
			onChange(next)
		}
	})
	v.WatchConfig()
	return cfg, nil
}
