package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/writefactory/internal/archive"
	"github.com/lucasnoah/writefactory/internal/cache"
	"github.com/lucasnoah/writefactory/internal/config"
	"github.com/lucasnoah/writefactory/internal/db"
	"github.com/lucasnoah/writefactory/internal/logging"
	"github.com/lucasnoah/writefactory/internal/orchestrator"
	"github.com/lucasnoah/writefactory/internal/pipeline"
	"github.com/lucasnoah/writefactory/internal/progress"
	"github.com/lucasnoah/writefactory/internal/prompt"
	"github.com/lucasnoah/writefactory/internal/provider"
	"github.com/lucasnoah/writefactory/internal/registry"
	"github.com/lucasnoah/writefactory/internal/stage"
)

// loadConfig loads .env, then the configuration, and validates it.
func loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	cfg, path, err := config.LoadDefault(configFile)
	if err != nil {
		return nil, "", err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, path, nil
}

func loadValidConfig() (*config.Config, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		where := path
		if where == "" {
			where = "built-in defaults"
		}
		return nil, fmt.Errorf("invalid config (%s):\n%s", where, config.Summary(errs))
	}
	return cfg, nil
}

// app is the fully wired generation stack.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	pool     *provider.Pool
	exec     *stage.Executor
	cache    *cache.Cache
	history  archive.Store
	database *db.DB
	svc      *orchestrator.Service
	closers  []io.Closer
}

func buildPool(cfg *config.Config, log zerolog.Logger) (*provider.Pool, error) {
	pool := provider.NewPool(cfg.PoolOptions(), log)
	for _, s := range cfg.ProviderSettings() {
		p, err := provider.New(s)
		if err != nil {
			return nil, fmt.Errorf("create provider: %w", err)
		}
		if err := pool.Register(p, s.Weight, s.Params); err != nil {
			return nil, fmt.Errorf("register provider: %w", err)
		}
	}
	return pool, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	if a.pool, err = buildPool(cfg, log); err != nil {
		a.Close()
		return nil, err
	}

	opts := cache.Options{Capacity: cfg.Cache.Capacity, TTL: cfg.Cache.TTLDuration()}
	if cfg.Cache.RedisURL != "" {
		rb, err := cache.NewRedisBackend(ctx, cfg.Cache.RedisURL, cfg.Cache.RedisPrefix)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		opts.Backend = rb
		a.closers = append(a.closers, rb)
	}
	a.cache = cache.New(opts, log)

	var recorder registry.Recorder
	var events orchestrator.EventLog
	var runs orchestrator.RunArchive
	if cfg.Storage.DatabaseURL != "" {
		database, err := db.Open(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.database = database
		a.history, recorder, events, runs = database, database, database, database
	} else {
		files := archive.NewFileStore(filepath.Join(cfg.Storage.Dir, "generations"))
		a.history, recorder, runs = files, files, files
	}

	a.exec = stage.NewExecutor(a.pool, a.cache, cfg.RetryPolicy(), log)
	driver := pipeline.NewDriver(a.exec, prompt.NewRenderer(cfg.Templates), cfg.Pipeline.Concurrency, log)
	a.svc = orchestrator.New(orchestrator.Options{
		Runner:      driver,
		Store:       a.history,
		Registry:    registry.New(recorder, log),
		Broadcaster: progress.NewBroadcaster(cfg.EventGrace()),
		Profiles:    cfg,
		Events:      events,
		Runs:        runs,
		Log:         log,
	})
	return a, nil
}

// Close releases the database, the redis client and the log file.
func (a *app) Close() {
	if a.database != nil {
		a.database.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// openHistory opens only the history store, without providers.
func openHistory(ctx context.Context, cfg *config.Config) (archive.Store, func(), error) {
	if cfg.Storage.DatabaseURL == "" {
		return archive.NewFileStore(filepath.Join(cfg.Storage.Dir, "generations")), func() {}, nil
	}
	database, err := db.Open(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return database, database.Close, nil
}
