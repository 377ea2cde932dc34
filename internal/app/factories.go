// Package app wires configuration into the merge service, its pipeline and
// its dispatcher.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/danjuanyang/psm-merge/internal/assemble"
	"github.com/danjuanyang/psm-merge/internal/cache"
	"github.com/danjuanyang/psm-merge/internal/config"
	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/layout"
	"github.com/danjuanyang/psm-merge/internal/lifecycle"
	"github.com/danjuanyang/psm-merge/internal/merge"
	"github.com/danjuanyang/psm-merge/internal/observability"
	"github.com/danjuanyang/psm-merge/internal/pdf"
	"github.com/danjuanyang/psm-merge/internal/queue"
	"github.com/danjuanyang/psm-merge/internal/resolver"
	"github.com/danjuanyang/psm-merge/internal/storage"
)

// cacheStore is what the service needs from the cache backend.
type cacheStore interface {
	cache.Client
	cache.PubSub
}

// App holds every long-lived component of a merge process.
type App struct {
	Config    *config.Config
	Logger    *observability.Logger
	DB        *sql.DB
	Jobs      *storage.JobRepository
	Catalog   *storage.CatalogRepository
	Cache     cacheStore
	Lifecycle *lifecycle.Manager
	Runner    *merge.Runner
	Service   *merge.Service

	redisQueue *queue.RedisQueue
	dispatcher queue.Dispatcher
	redis      *redis.Client
}

// Options selects what a process builds.
type Options struct {
	// LocalWorkers runs jobs in this process when the queue driver is local.
	// Set it to false for processes that only inspect state.
	LocalWorkers bool
}

// New opens storage, runs migrations when configured and builds the
// pipeline and service.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts Options) (*App, error) {
	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, DB: db}

	if cfg.Database.AutoMigrate {
		status, err := storage.NewMigrationManager(db, cfg.Database.Driver).Migrate(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if len(status.Pending) > 0 {
			logger.Info().Interface("applied", status.Pending).Msg("Applied migrations")
		}
	}

	a.Jobs = storage.NewJobRepository(db)
	a.Catalog = storage.NewCatalogRepository(db)

	if a.Cache, err = a.newCache(); err != nil {
		a.Close()
		return nil, err
	}

	if a.Lifecycle, err = lifecycle.NewManager(cfg.Storage, logger); err != nil {
		a.Close()
		return nil, err
	}

	a.Runner = NewRunner(cfg, a.Jobs, a.Catalog, a.Lifecycle, a.Cache, logger)

	if a.dispatcher, err = a.newDispatcher(opts); err != nil {
		a.Close()
		return nil, err
	}

	a.Service = merge.NewService(merge.ServiceDeps{
		Store:      a.Jobs,
		Catalog:    a.Catalog,
		Authorizer: a.Catalog,
		Dispatcher: a.dispatcher,
		Lifecycle:  a.Lifecycle,
		Cache:      a.Cache,
		PubSub:     a.Cache,
		CacheTTL:   cfg.Cache.TTL,
	}, logger)

	return a, nil
}

// NewRunner builds the job pipeline over the given stores.
func NewRunner(
	cfg *config.Config,
	jobs domain.JobStore,
	catalog domain.DocumentCatalog,
	life *lifecycle.Manager,
	publisher domain.ProgressPublisher,
	logger *observability.Logger,
) *merge.Runner {
	accountant := layout.NewAccountant(layout.PDFCPUCounter{}, logger)
	return merge.NewRunner(merge.RunnerDeps{
		Store:            jobs,
		Catalog:          catalog,
		Resolver:         resolver.New(catalog, logger),
		Assembler:        assemble.New(accountant, assemble.Options{FontPath: cfg.Assembly.FontPath}, logger),
		Renderer:         pdf.NewRenderer(cfg.Render.DPI, cfg.Render.Workers, logger),
		Lifecycle:        life,
		Publisher:        publisher,
		PreviewURLPrefix: cfg.API.PreviewURLPrefix,
	}, logger)
}

// Consume starts queue consumers in this process. Only the redis driver
// needs it; local queues start their workers on creation.
func (a *App) Consume(ctx context.Context) error {
	if a.redisQueue == nil {
		return domain.ConfigError("worker mode requires the redis queue driver", nil)
	}
	a.redisQueue.Consume(ctx, a.Runner.Handle,
		queue.WithWorkers(a.Config.Queue.Workers),
		queue.WithJobTimeout(a.Config.Queue.JobTimeout),
	)
	return nil
}

// Shutdown drains the dispatcher.
func (a *App) Shutdown(ctx context.Context) {
	if a.dispatcher != nil {
		a.dispatcher.Shutdown(ctx)
	}
}

// Close releases connections. Call Shutdown first.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close cache")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

func (a *App) newCache() (cacheStore, error) {
	switch a.Config.Cache.Driver {
	case "redis":
		rc := a.Config.Cache.Redis
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			PoolSize: rc.PoolSize,
			Prefix:   rc.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		return client, nil
	default:
		return cache.NewMemoryClient(a.Config.Cache.MaxEntries), nil
	}
}

func (a *App) newDispatcher(opts Options) (queue.Dispatcher, error) {
	qc := a.Config.Queue
	switch qc.Driver {
	case "redis":
		client, err := a.redisConn()
		if err != nil {
			return nil, err
		}
		a.redisQueue = queue.NewRedisQueue(client, qc.Name, qc.PollTimeout, a.Logger)
		return a.redisQueue, nil
	default:
		if !opts.LocalWorkers {
			return noopDispatcher{}, nil
		}
		return queue.NewLocalQueue(a.Runner.Handle, a.Logger,
			queue.WithWorkers(qc.Workers),
			queue.WithQueueSize(qc.Size),
			queue.WithJobTimeout(qc.JobTimeout),
		), nil
	}
}

// redisConn reuses the cache connection when the cache is redis-backed.
func (a *App) redisConn() (*redis.Client, error) {
	if rc, ok := a.Cache.(*cache.RedisClient); ok {
		return rc.Redis(), nil
	}
	cfg := a.Config.Cache.Redis
	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := a.redis.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect queue redis: %w", err)
	}
	return a.redis, nil
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(_ context.Context, task queue.Task) error {
	return domain.ConfigError("this process does not run merge jobs", nil)
}

func (noopDispatcher) Shutdown(context.Context) {}
