// Package app assembles the server from configuration: store, optional
// Redis, services, background workers and the HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yuv-man/asd-server/internal/config"
	"github.com/yuv-man/asd-server/internal/database"
	"github.com/yuv-man/asd-server/internal/handlers"
	"github.com/yuv-man/asd-server/internal/logger"
	"github.com/yuv-man/asd-server/internal/middleware"
	"github.com/yuv-man/asd-server/internal/progress"
	"github.com/yuv-man/asd-server/internal/router"
	"github.com/yuv-man/asd-server/internal/services"
	"github.com/yuv-man/asd-server/internal/websocket"
	"github.com/yuv-man/asd-server/internal/worker"
)

type App struct {
	Config *config.Config
	Log    *logger.Logger
	Store  *Store
	Redis  *database.RedisClients // nil when REDIS_URL is unset

	Attempts  *services.AttemptService
	Users     *services.UserService
	Catalog   *services.CatalogService
	Dashboard *services.DashboardService
	Selector  *services.SessionSelector

	Hub         *websocket.Hub
	Queue       *worker.Queue // nil without Redis
	Pool        *worker.Pool  // nil without Redis
	Sweeper     *worker.Sweeper
	AuthLimiter *middleware.RateLimiter
	Handler     http.Handler
}

// New wires every component. Call Start to launch background work and
// Shutdown to release it.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("✓ Store ready", "driver", store.Driver)

	a := &App{Config: cfg, Log: log, Store: store}

	var locker services.Locker = services.NewKeyedMutex()
	if cfg.RedisURL != "" {
		a.Redis, err = database.NewRedisClients(ctx, cfg.RedisURL)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		locker = services.NewRedisLocker(a.Redis.PubSub, cfg.Tuning.LockTTL)
		log.Info("✓ Redis connected")
	} else {
		log.Warn("REDIS_URL not set, locks and notifications stay in-process")
	}

	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	a.Dashboard = services.NewDashboardService(store.Summaries, store.Users, store.Activity, store.Usage, loc)

	// The hub publishes through Redis when it has a client, and to its own
	// connections otherwise, so it serves as the notifier either way.
	var pubsub *redis.Client
	if a.Redis != nil {
		pubsub = a.Redis.PubSub
	}
	a.Hub = websocket.NewHub(pubsub, jwtAuth, a.Dashboard, log.With("component", "ws"), splitOrigins(cfg.FrontendURL)...)

	a.Attempts = services.NewAttemptService(services.AttemptDeps{
		Attempts:   store.Attempts,
		Aggregates: store.Aggregates,
		Exercises:  store.Exercises,
		Notifier:   a.Hub,
		Locker:     locker,
		Log:        log.With("component", "attempts"),
		Location:   loc,
		Limits: progress.Limits{
			DailyRecent:  cfg.Tuning.DailyRecentLimit,
			WeeklyRecent: cfg.Tuning.WeeklyRecentLimit,
		},
		NotifyTimeout: cfg.Tuning.NotifyTimeout,
	})
	a.Users = services.NewUserService(store.Users, jwtAuth, log.With("component", "users"))
	a.Catalog = services.NewCatalogService(store.Exercises)
	a.Selector = services.NewSessionSelector(store.Exercises)

	// Without Redis there is no queue and reprocess runs inline.
	attemptHandler := handlers.NewAttemptHandler(a.Attempts, nil)
	if a.Redis != nil {
		a.Queue = worker.NewQueue(a.Redis.Queue)
		a.Pool = worker.NewPool(a.Redis.Queue, a.Attempts, a.Hub, log.With("component", "worker"), cfg.WorkerCount)
		attemptHandler = handlers.NewAttemptHandler(a.Attempts, a.Queue)
	}

	a.Sweeper = worker.NewSweeper(store.Pending, a.Attempts, log.With("component", "sweeper"), cfg.SweepInterval)

	a.AuthLimiter = middleware.NewRateLimiter(10, time.Minute)
	a.Handler = router.New(router.Deps{
		JWTAuth:     jwtAuth,
		AuthLimiter: a.AuthLimiter,
		Auth:        handlers.NewAuthHandler(a.Users),
		Users:       handlers.NewUserHandler(a.Users),
		Attempts:    attemptHandler,
		Exercises:   handlers.NewExerciseHandler(a.Catalog, a.Selector, a.Dashboard, store.Users, cfg.Tuning.DefaultSession),
		Dashboard:   handlers.NewDashboardHandler(a.Dashboard),
		Hub:         a.Hub,
		Health:      store.Ping,
		FrontendURL: cfg.FrontendURL,
	})
	return a, nil
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Start launches the worker pool, the sweeper and the rate limiter janitor.
// They stop when ctx is cancelled or on Shutdown.
func (a *App) Start(ctx context.Context) {
	go a.AuthLimiter.Run(ctx)
	a.Sweeper.Start(ctx)
	if a.Pool != nil {
		a.Pool.Start(ctx)
		a.Log.Info("✓ Worker pool started", "workers", a.Config.WorkerCount)
	}
}

// Shutdown stops background work, waits for in-flight notifications and
// closes connections.
func (a *App) Shutdown(ctx context.Context) error {
	a.Sweeper.Stop()
	if a.Pool != nil {
		a.Pool.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.Attempts.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Log.Warn("gave up waiting for notifications", "error", ctx.Err())
	}

	a.Hub.Close()
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	errs = append(errs, a.Store.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
