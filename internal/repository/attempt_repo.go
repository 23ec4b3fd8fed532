package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yuv-man/asd-server/internal/models"
)

type AttemptRepo struct {
	pool *pgxpool.Pool
}

func NewAttemptRepo(pool *pgxpool.Pool) *AttemptRepo {
	return &AttemptRepo{pool: pool}
}

const attemptColumns = `a.id, a.user_id, a.exercise_id, a.area, a.difficulty_level, a.score, a.completion_status,
	a.start_time, a.end_time, a.is_test, a.metrics, a.notes, a.aggregated_at, a.created_at`

func (r *AttemptRepo) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	var metrics []byte
	if a.Metrics != nil {
		var err error
		if metrics, err = json.Marshal(a.Metrics); err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}

	return r.pool.QueryRow(ctx, `
		INSERT INTO exercise_attempts (id, user_id, exercise_id, area, difficulty_level, score, completion_status,
			start_time, end_time, is_test, metrics, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		a.ID, a.UserID, a.ExerciseID, string(a.Area), a.DifficultyLevel, a.Score, string(a.CompletionStatus),
		a.StartTime, a.EndTime, a.IsTest, metrics, a.Notes,
	).Scan(&a.CreatedAt)
}

func (r *AttemptRepo) GetAttempt(ctx context.Context, id uuid.UUID) (*models.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM exercise_attempts a WHERE a.id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (r *AttemptRepo) ListAttemptsForExercise(ctx context.Context, userID, exerciseID uuid.UUID, limit int) ([]models.Attempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM exercise_attempts a
		WHERE a.user_id = $1 AND a.exercise_id = $2
		ORDER BY a.start_time DESC
		LIMIT $3`, userID, exerciseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (r *AttemptRepo) ListCompletedAttempts(ctx context.Context, userID uuid.UUID, area models.Area, since time.Time) ([]models.Attempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM exercise_attempts a
		WHERE a.user_id = $1 AND a.area = $2 AND a.completion_status = 'completed' AND a.end_time >= $3
		ORDER BY a.end_time`, userID, string(area), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (r *AttemptRepo) ListRecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.RecentActivity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attemptColumns+`, COALESCE(e.title, '')
		FROM exercise_attempts a
		LEFT JOIN exercises e ON e.id = a.exercise_id
		WHERE a.user_id = $1
		ORDER BY a.start_time DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.RecentActivity
	for rows.Next() {
		var item models.RecentActivity
		a, err := scanAttempt(rows, &item.ExerciseTitle)
		if err != nil {
			return nil, err
		}
		item.Attempt = *a
		list = append(list, item)
	}
	return list, rows.Err()
}

func collectAttempts(rows pgx.Rows) ([]models.Attempt, error) {
	var list []models.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

func scanAttempt(row pgx.Row, extra ...any) (*models.Attempt, error) {
	a := &models.Attempt{}
	var area, status string
	var metrics []byte
	dest := []any{
		&a.ID, &a.UserID, &a.ExerciseID, &area, &a.DifficultyLevel, &a.Score, &status,
		&a.StartTime, &a.EndTime, &a.IsTest, &metrics, &a.Notes, &a.AggregatedAt, &a.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	a.Area = models.Area(area)
	a.CompletionStatus = models.CompletionStatus(status)
	if len(metrics) > 0 {
		a.Metrics = &models.AttemptMetrics{}
		if err := json.Unmarshal(metrics, a.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}
	}
	return a, nil
}

// ListPendingAttempts returns attempts created before createdBefore that were
// stored but never aggregated,
// oldest first.
func (r *AttemptRepo) ListPendingAttempts(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM exercise_attempts
		WHERE aggregated_at IS NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
