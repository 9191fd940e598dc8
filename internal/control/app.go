package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/taskgraph/internal/core/clock"
	"github.com/vietddude/taskgraph/internal/core/config"
	"github.com/vietddude/taskgraph/internal/core/dependency"
	"github.com/vietddude/taskgraph/internal/core/events"
	"github.com/vietddude/taskgraph/internal/core/worker"
	"github.com/vietddude/taskgraph/internal/health"
	"github.com/vietddude/taskgraph/internal/infra/cache"
	"github.com/vietddude/taskgraph/internal/infra/lock"
	redisclient "github.com/vietddude/taskgraph/internal/infra/redis"
	"github.com/vietddude/taskgraph/internal/infra/resilience"
	"github.com/vietddude/taskgraph/internal/infra/storage"
	"github.com/vietddude/taskgraph/internal/infra/storage/memory"
	"github.com/vietddude/taskgraph/internal/infra/storage/postgres"
)

// App owns the process-wide components and their lifecycle.
type App struct {
	cfg          *config.AppConfig
	repo         *storage.Repository
	manager      *dependency.Manager
	bus          *events.Bus
	sweeper      *worker.Sweeper
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	broadcaster  *redisclient.Broadcaster
	log          *slog.Logger

	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

// New creates an App with all dependencies initialized. An empty database
// URL selects the in-memory store; an empty Redis URL keeps locking and
// cache invalidation in-process.
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default()
	clk := clock.Real()

	policies, err := cfg.Resilience.BuildPolicies()
	if err != nil {
		return nil, err
	}

	// 1. Initialize Storage
	var store storage.Store
	var db *postgres.DB
	if cfg.Database.URL != "" {
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		store = postgres.NewStore(db)
		log.Info("Using PostgreSQL storage", "driver", cfg.Database.Driver)
	} else {
		store = memory.NewStore()
		log.Info("Using Memory storage")
	}

	// 2. Initialize Redis (optional)
	var locker lock.Locker = lock.NewLocal()
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			if db != nil {
				_ = db.Close()
			}
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		locker = redisclient.NewLocker(redisClient, 0, clk, log)
	}

	// 3. Initialize Shared Components
	bus := events.NewBus()
	origin := uuid.NewString()
	breakers := resilience.NewBreakerSet(cfg.Resilience.Breaker, clk, log)
	repo := storage.NewRepository(storage.Deps{
		Store:    store,
		Cache:    cache.New(clk),
		Executor: resilience.NewExecutor(clk, log),
		Breakers: breakers,
		Policies: policies,
		Bus:      bus,
		Locker:   locker,
		Clock:    clk,
		Logger:   log,
	}, storage.Config{
		TTL:    cfg.Cache.TTL.Map(),
		Origin: origin,
	})

	var broadcaster *redisclient.Broadcaster
	if redisClient != nil {
		broadcaster = redisclient.NewBroadcaster(redisClient, bus, origin, repo.ApplyChange, log)
		log.Info("Using Redis for locks and change broadcast", "origin", origin)
	}

	manager := dependency.NewManager(repo, clk, log)

	// 4. Background workers and HTTP surface
	sweeper := worker.NewSweeper(repo.Cache(), breakers, cfg.Cache.SweepInterval, clk, log)
	monitor := health.NewMonitor(repo, breakers, repo.Cache(), clk)
	healthServer := health.NewServer(monitor, manager, cfg.Server.Port)

	return &App{
		cfg:          cfg,
		repo:         repo,
		manager:      manager,
		bus:          bus,
		sweeper:      sweeper,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		broadcaster:  broadcaster,
		log:          log,
	}, nil
}

// Repository returns the data-access façade.
func (a *App) Repository() *storage.Repository { return a.repo }

// Manager returns the dependency graph manager.
func (a *App) Manager() *dependency.Manager { return a.manager }

// Start launches the HTTP server and background workers. It returns
// immediately; use Stop to shut down.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan error, 1)

	g, gctx := errgroup.WithContext(ctx)

	// Start Health Server
	g.Go(func() error {
		a.log.Info("Starting health server", "port", a.cfg.Server.Port)
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error { return a.sweeper.Run(gctx) })

	// Start DB Metrics Collector
	if a.db != nil {
		g.Go(func() error { return a.db.CollectMetrics(gctx, 0) })
	}

	if a.broadcaster != nil {
		g.Go(func() error { return a.broadcaster.Run(gctx) })
	}

	changes, unsubscribe := a.bus.Subscribe(events.DefaultBuffer)
	g.Go(func() error {
		defer unsubscribe()
		return a.manager.Watch(gctx, changes)
	})

	go func() {
		err := g.Wait()
		if err != nil {
			a.log.Error("Background component failed", "error", err)
		}
		a.done <- err
	}()
	return nil
}

// Stop shuts down the HTTP server, waits for the workers and releases
// connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping taskgraph...")

	var errs []error
	if a.done != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		a.cancel()
		select {
		case err := <-a.done:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	errs = append(errs, a.Close())
	return errors.Join(errs...)
}

// Close releases the store and Redis connections without touching the
// background workers. One-shot commands use it directly.
func (a *App) Close() error {
	var errs []error
	a.once.Do(func() {
		a.bus.Close()
		if a.redisClient != nil {
			if err := a.redisClient.Close(); err != nil {
				a.log.Warn("Failed to close Redis", "error", err)
				errs = append(errs, err)
			}
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
