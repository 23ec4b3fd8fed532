package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/models"
)

const attemptColumns = `a.id, a.user_id, a.exercise_id, a.area, a.difficulty_level, a.score, a.completion_status,
	a.start_time, a.end_time, a.is_test, a.metrics, a.notes, a.aggregated_at, a.created_at`

func (s *Store) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	var metrics any
	if a.Metrics != nil {
		b, err := json.Marshal(a.Metrics)
		if err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
		metrics = string(b)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exercise_attempts (id, user_id, exercise_id, area, difficulty_level, score, completion_status,
			start_time, end_time, is_test, metrics, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ExerciseID, string(a.Area), a.DifficultyLevel, a.Score, string(a.CompletionStatus),
		formatTime(a.StartTime), formatTime(a.EndTime), a.IsTest, metrics, a.Notes, formatTime(a.CreatedAt))
	return mapError(err)
}

func (s *Store) GetAttempt(ctx context.Context, id uuid.UUID) (*models.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM exercise_attempts a WHERE a.id = ?`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (s *Store) ListAttemptsForExercise(ctx context.Context, userID, exerciseID uuid.UUID, limit int) ([]models.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM exercise_attempts a
		WHERE a.user_id = ? AND a.exercise_id = ?
		ORDER BY a.start_time DESC
		LIMIT ?`, userID, exerciseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *Store) ListCompletedAttempts(ctx context.Context, userID uuid.UUID, area models.Area, since time.Time) ([]models.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM exercise_attempts a
		WHERE a.user_id = ? AND a.area = ? AND a.completion_status = 'completed' AND a.end_time >= ?
		ORDER BY a.end_time`, userID, string(area), formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *Store) ListRecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.RecentActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`, COALESCE(e.title, '')
		FROM exercise_attempts a
		LEFT JOIN exercises e ON e.id = a.exercise_id
		WHERE a.user_id = ?
		ORDER BY a.start_time DESC
		LIMIT ?`, userID, limit)
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

// ListPendingAttempts returns attempts created before createdBefore that were
// stored but never aggregated,
// oldest first.
func (s *Store) ListPendingAttempts(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM exercise_attempts
		WHERE aggregated_at IS NULL AND created_at < ?
		ORDER BY created_at
		LIMIT ?`, formatTime(createdBefore), limit)
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

func collectAttempts(rows *sql.Rows) ([]models.Attempt, error) {
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

func scanAttempt(row scanner, extra ...any) (*models.Attempt, error) {
	a := &models.Attempt{}
	var area, status, start, end, created string
	var metrics, aggregated sql.NullString
	dest := []any{
		&a.ID, &a.UserID, &a.ExerciseID, &area, &a.DifficultyLevel, &a.Score, &status,
		&start, &end, &a.IsTest, &metrics, &a.Notes, &aggregated, &created,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	a.Area = models.Area(area)
	a.CompletionStatus = models.CompletionStatus(status)

	var err error
	if a.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if a.EndTime, err = parseTime(end); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if a.AggregatedAt, err = parseNullTime(aggregated); err != nil {
		return nil, err
	}
	if metrics.Valid && metrics.String != "" {
		a.Metrics = &models.AttemptMetrics{}
		if err := json.Unmarshal([]byte(metrics.String), a.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}
	}
	return a, nil
}
