package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/models"
)

type AttemptStore interface {
	CreateAttempt(ctx context.Context, a *models.Attempt) error
	GetAttempt(ctx context.Context, id uuid.UUID) (*models.Attempt, error)
}

// AggregateStore applies one attempt to the user's area progress, daily and
// weekly summaries. Implementations load (creating when absent) the three
// documents addressed by key, call fn, and persist the result atomically.
// They must refuse an attempt that was already applied.
type AggregateStore interface {
	ApplyAttempt(ctx context.Context, key models.AggregateKey, fn func(*models.AggregateSet) error) error
}

type ExerciseLookup interface {
	GetExercise(ctx context.Context, id uuid.UUID) (*models.Exercise, error)
}

// ExerciseLister returns the catalog for one area, or all of it for "".
type ExerciseLister interface {
	ListExercises(ctx context.Context, area models.Area) ([]models.Exercise, error)
}

// Notifier publishes an event to every connection of one user.
type Notifier interface {
	Publish(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error
}

// Locker serializes work on a key across goroutines (and processes, for the
// Redis implementation).
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
	ListAreaProgress(ctx context.Context, userID uuid.UUID) ([]models.AreaProgress, error)
	UpdateAreaSettings(ctx context.Context, userID uuid.UUID, area models.Area, req models.UpdateAreaRequest) (*models.AreaProgress, error)
}

type SummaryReader interface {
	ListSummaries(ctx context.Context, userID uuid.UUID, period models.Period, since time.Time) ([]models.PeriodSummary, error)
	LatestSummary(ctx context.Context, userID uuid.UUID, period models.Period) (*models.PeriodSummary, error)
}

type ActivityReader interface {
	ListRecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.RecentActivity, error)
	ListCompletedAttempts(ctx context.Context, userID uuid.UUID, area models.Area, since time.Time) ([]models.Attempt, error)
	ListAttemptsForExercise(ctx context.Context, userID, exerciseID uuid.UUID, limit int) ([]models.Attempt, error)
}

type UsageStore interface {
	RecordSessionUsage(ctx context.Context, userID uuid.UUID, day time.Time, minutes float64) error
	ListDailyUsage(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.DailyUsage, error)
}
