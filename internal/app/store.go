package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/config"
	"github.com/yuv-man/asd-server/internal/database"
	"github.com/yuv-man/asd-server/internal/logger"
	"github.com/yuv-man/asd-server/internal/repository"
	"github.com/yuv-man/asd-server/internal/repository/sqlite"
	"github.com/yuv-man/asd-server/internal/services"
)

// PendingLister finds attempts whose aggregation never completed.
type PendingLister interface {
	ListPendingAttempts(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error)
}

// Store bundles the ports of whichever backend is configured.
type Store struct {
	Driver     string
	Users      services.UserStore
	Usage      services.UsageStore
	Attempts   services.AttemptStore
	Activity   services.ActivityReader
	Pending    PendingLister
	Aggregates services.AggregateStore
	Summaries  services.SummaryReader
	Exercises  services.ExerciseCatalog
	Ping       func(ctx context.Context) error
	Close      func() error
}

// OpenStore connects to the configured backend and brings its schema up to
// date.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Store, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		return openSQLite(cfg.SQLitePath)
	case "postgres", "":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
}

func openSQLite(path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	return &Store{
		Driver:     "sqlite",
		Users:      db,
		Usage:      db,
		Attempts:   db,
		Activity:   db,
		Pending:    db,
		Aggregates: db,
		Summaries:  db,
		Exercises:  db,
		Ping:       db.Ping,
		Close:      db.Close,
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Store, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if _, err := database.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		pool.Close()
		return nil, err
	}

	users := repository.NewUserRepo(pool)
	attempts := repository.NewAttemptRepo(pool)
	aggregates := repository.NewAggregateRepo(pool)
	return &Store{
		Driver:     "postgres",
		Users:      users,
		Usage:      users,
		Attempts:   attempts,
		Activity:   attempts,
		Pending:    attempts,
		Aggregates: aggregates,
		Summaries:  aggregates,
		Exercises:  repository.NewExerciseRepo(pool),
		Ping:       pool.Ping,
		Close: func() error {
			pool.Close()
			return nil
		},
	}, nil
}
