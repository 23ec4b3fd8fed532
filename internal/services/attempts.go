package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yuv-man/asd-server/internal/logger"
	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/progress"
	"github.com/yuv-man/asd-server/internal/repository"
)

const (
	maxScore         = 100
	userLockPrefix   = "lock:progress:"
	defaultNotifyTTL = 5 * time.Second
)

type AttemptDeps struct {
	Attempts      AttemptStore
	Aggregates    AggregateStore
	Exercises     ExerciseLookup
	Notifier      Notifier
	Locker        Locker
	Log           *logger.Logger
	Location      *time.Location
	Limits        progress.Limits
	NotifyTimeout time.Duration
	Now           func() time.Time
}

// AttemptService records attempts and keeps the rolling aggregates current.
type AttemptService struct {
	attempts      AttemptStore
	aggregates    AggregateStore
	exercises     ExerciseLookup
	notifier      Notifier
	locker        Locker
	log           *logger.Logger
	loc           *time.Location
	limits        progress.Limits
	notifyTimeout time.Duration
	now           func() time.Time
	tracer        trace.Tracer
	inflight      sync.WaitGroup
}

func NewAttemptService(d AttemptDeps) *AttemptService {
	s := &AttemptService{
		attempts:      d.Attempts,
		aggregates:    d.Aggregates,
		exercises:     d.Exercises,
		notifier:      d.Notifier,
		locker:        d.Locker,
		log:           d.Log,
		loc:           d.Location,
		limits:        d.Limits,
		notifyTimeout: d.NotifyTimeout,
		now:           d.Now,
		tracer:        otel.Tracer("asd-server/attempts"),
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.limits.DailyRecent <= 0 || s.limits.WeeklyRecent <= 0 {
		s.limits = progress.DefaultLimits()
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = defaultNotifyTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	return s
}

// RecordAttempt persists the attempt, folds it into the user's aggregates and
// publishes a progress event. A nil error means the attempt row is durable
// and the aggregates reflect it. An *AggregationError still carries a valid
// ack: the attempt is durable, the aggregates are not.
func (s *AttemptService) RecordAttempt(ctx context.Context, userID uuid.UUID, req models.RecordAttemptRequest) (*models.AttemptAck, error) {
	attempt, err := s.buildAttempt(userID, req)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "attempts.record", trace.WithAttributes(
		attribute.String("attempt.id", attempt.ID.String()),
		attribute.String("attempt.area", string(attempt.Area)),
		attribute.String("attempt.status", string(attempt.CompletionStatus)),
	))
	defer span.End()

	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failure")
		s.log.Error("attempt write failed", "attempt_id", attempt.ID, "error", err)
		return nil, &StorageError{Op: "create attempt", Err: err}
	}

	ack := &models.AttemptAck{AttemptID: attempt.ID}
	if err := s.aggregate(ctx, attempt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregation failure")
		s.log.Error("aggregation failed, attempt kept for reprocessing", "attempt_id", attempt.ID, "error", err)
		return ack, &AggregationError{AttemptID: attempt.ID, Err: err}
	}
	ack.Aggregated = true

	s.publish(attempt)
	return ack, nil
}

// Reaggregate replays a stored attempt whose aggregation failed.
func (s *AttemptService) Reaggregate(ctx context.Context, attemptID uuid.UUID) (*models.Attempt, error) {
	ctx, span := s.tracer.Start(ctx, "attempts.reaggregate", trace.WithAttributes(
		attribute.String("attempt.id", attemptID.String()),
	))
	defer span.End()

	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Attempt not found"}
	}
	if err != nil {
		return nil, &StorageError{Op: "get attempt", Err: err}
	}
	if attempt.AggregatedAt != nil {
		return attempt, &ConflictError{Message: "Attempt is already aggregated"}
	}

	if err := s.aggregate(ctx, attempt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregation failure")
		if errors.Is(err, repository.ErrAlreadyAggregated) {
			return attempt, &ConflictError{Message: "Attempt is already aggregated"}
		}
		return attempt, &AggregationError{AttemptID: attempt.ID, Err: err}
	}

	s.log.Info("attempt reaggregated", "attempt_id", attempt.ID)
	s.publish(attempt)
	return attempt, nil
}

// Get returns one of the user's attempts. Attempts of other users read as
// missing.
func (s *AttemptService) Get(ctx context.Context, userID, attemptID uuid.UUID) (*models.Attempt, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && attempt.UserID != userID) {
		return nil, &NotFoundError{Message: "Attempt not found"}
	}
	if err != nil {
		return nil, &StorageError{Op: "get attempt", Err: err}
	}
	return attempt, nil
}

// Wait blocks until in-flight notifications finish.
func (s *AttemptService) Wait() {
	s.inflight.Wait()
}

func (s *AttemptService) aggregate(ctx context.Context, a *models.Attempt) error {
	release, err := s.locker.Acquire(ctx, userLockPrefix+a.UserID.String())
	if err != nil {
		return fmt.Errorf("acquire user lock: %w", err)
	}
	defer release()

	c := progress.NewContribution(a, s.exerciseTitle(ctx, a.ExerciseID), s.now())
	return s.aggregates.ApplyAttempt(ctx, progress.KeyFor(a, s.loc), func(set *models.AggregateSet) error {
		progress.Apply(set, c, s.limits)
		return nil
	})
}

// exerciseTitle is best effort; recent-exercise entries go without a title
// when the catalog can't answer.
func (s *AttemptService) exerciseTitle(ctx context.Context, id uuid.UUID) string {
	if s.exercises == nil {
		return ""
	}
	ex, err := s.exercises.GetExercise(ctx, id)
	if err != nil {
		s.log.Warn("exercise lookup failed, recording without title", "exercise_id", id, "error", err)
		return ""
	}
	return ex.Title
}

func (s *AttemptService) publish(a *models.Attempt) {
	if s.notifier == nil {
		return
	}

	event := models.EventExerciseCompleted
	payload := models.ExerciseEvent{
		AttemptID:  a.ID,
		ExerciseID: a.ExerciseID,
		Score:      a.Score,
		Area:       a.Area,
	}
	if !a.Completed() {
		event = models.EventExerciseAttempted
		payload.CompletionStatus = a.CompletionStatus
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Publish(ctx, a.UserID, event, payload); err != nil {
			s.log.Warn("progress notification dropped", "attempt_id", a.ID, "event", event, "error", err)
		}
	}()
}

func (s *AttemptService) buildAttempt(userID uuid.UUID, req models.RecordAttemptRequest) (*models.Attempt, error) {
	fieldErrors := make(map[string]string)
	now := s.now()

	if userID == uuid.Nil {
		fieldErrors["user_id"] = "User is required"
	}

	exerciseID, err := uuid.Parse(req.ExerciseID)
	if err != nil {
		fieldErrors["exercise_id"] = "Invalid exercise_id"
	}

	area, ok := models.ParseArea(req.Area)
	if !ok {
		fieldErrors["area"] = "area must be occupationalTherapy, speechTherapy, or cognitive"
	}

	level := req.DifficultyLevel
	if level == 0 {
		level = 1
	}
	if level < 0 {
		fieldErrors["difficulty_level"] = "difficulty_level must be a positive integer"
	}

	status := models.CompletionStatus(req.CompletionStatus)
	if status == "" {
		status = models.StatusCompleted
	}
	if !status.Valid() {
		fieldErrors["completion_status"] = "completion_status must be completed, abandoned, or in-progress"
	}

	if req.Score != nil && (math.IsNaN(*req.Score) || *req.Score < 0 || *req.Score > maxScore) {
		fieldErrors["score"] = "score must be between 0 and 100"
	} else if req.Score == nil && status == models.StatusCompleted {
		fieldErrors["score"] = "score is required for completed attempts"
	}

	end := now
	if req.EndTime != nil {
		end = *req.EndTime
	}
	start := end
	if req.StartTime != nil {
		start = *req.StartTime
	}
	if end.Before(start) {
		fieldErrors["end_time"] = "end_time must not be before start_time"
	}

	if req.Metrics != nil && (req.Metrics.TimeSpentSeconds < 0 || req.Metrics.AttemptsCount < 0) {
		fieldErrors["metrics"] = "metrics must not be negative"
	}

	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	return &models.Attempt{
		ID:               uuid.New(),
		UserID:           userID,
		ExerciseID:       exerciseID,
		Area:             area,
		DifficultyLevel:  level,
		Score:            req.Score,
		CompletionStatus: status,
		StartTime:        start,
		EndTime:          end,
		IsTest:           req.IsTest,
		Metrics:          req.Metrics,
		Notes:            req.Notes,
		CreatedAt:        now,
	}, nil
}
