package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/repository"
)

func summaryTable(p models.Period) string {
	if p == models.PeriodWeek {
		return "weekly_summaries"
	}
	return "daily_summaries"
}

// ApplyAttempt loads (creating when absent) the area progress, daily and
// weekly rows for key, runs fn and writes all three back in one immediate
// transaction, then marks the attempt aggregated.
func (s *Store) ApplyAttempt(ctx context.Context, key models.AggregateKey, fn func(*models.AggregateSet) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var aggregated sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT aggregated_at FROM exercise_attempts WHERE id = ?`, key.AttemptID).Scan(&aggregated)
		if err != nil {
			return fmt.Errorf("attempt %s: %w", key.AttemptID, mapError(err))
		}
		if aggregated.Valid {
			return repository.ErrAlreadyAggregated
		}

		if err := s.ensureAreaRows(ctx, tx, key.UserID, key.Area); err != nil {
			return err
		}
		progress, err := scanProgress(tx.QueryRowContext(ctx, `
			SELECT `+progressColumns+` FROM user_area_progress WHERE user_id = ? AND area = ?`,
			key.UserID, string(key.Area)), key.UserID)
		if err != nil {
			return fmt.Errorf("user %s: %w", key.UserID, mapError(err))
		}

		daily, err := s.loadSummary(ctx, tx, key.UserID, models.PeriodDay, key.Day)
		if err != nil {
			return err
		}
		weekly, err := s.loadSummary(ctx, tx, key.UserID, models.PeriodWeek, key.WeekStart)
		if err != nil {
			return err
		}

		set := &models.AggregateSet{Progress: progress, Daily: daily, Weekly: weekly}
		if err := fn(set); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE user_area_progress
			SET overall_score = ?, exercises_completed = ?, last_activity = ?
			WHERE user_id = ? AND area = ?`,
			set.Progress.OverallScore, set.Progress.ExercisesCompleted, formatNullTime(set.Progress.LastActivity),
			key.UserID, string(key.Area)); err != nil {
			return fmt.Errorf("failed to save area progress: %w", err)
		}
		if err := s.saveSummary(ctx, tx, set.Daily); err != nil {
			return err
		}
		if err := s.saveSummary(ctx, tx, set.Weekly); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE exercise_attempts SET aggregated_at = ? WHERE id = ?`,
			formatTime(s.now()), key.AttemptID)
		return err
	})
}

const summaryColumns = `id, user_id, date, total_time_spent_minutes, exercises_completed, exercise_attempts,
	area_breakdown, recent_exercises, created_at, updated_at`

func (s *Store) loadSummary(ctx context.Context, tx *sql.Tx, userID uuid.UUID, period models.Period, start time.Time) (*models.PeriodSummary, error) {
	table := summaryTable(period)
	now := formatTime(s.now())
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (id, user_id, date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`, table), uuid.New(), userID, formatTime(start), now, now); err != nil {
		return nil, fmt.Errorf("failed to create %s row: %w", table, mapError(err))
	}

	summary, err := scanSummary(tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE user_id = ? AND date = ?`, summaryColumns, table),
		userID, formatTime(start)), period)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s row: %w", table, mapError(err))
	}
	return summary, nil
}

func (s *Store) saveSummary(ctx context.Context, tx *sql.Tx, sum *models.PeriodSummary) error {
	breakdown, err := json.Marshal(sum.AreaBreakdown)
	if err != nil {
		return fmt.Errorf("failed to encode area breakdown: %w", err)
	}
	recent, err := json.Marshal(sum.RecentExercises)
	if err != nil {
		return fmt.Errorf("failed to encode recent exercises: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET total_time_spent_minutes = ?,
			exercises_completed = ?,
			exercise_attempts = ?,
			area_breakdown = ?,
			recent_exercises = ?,
			updated_at = ?
		WHERE id = ?`, summaryTable(sum.Period)),
		sum.TotalTimeSpentMinutes, sum.ExercisesCompleted, sum.ExerciseAttempts,
		string(breakdown), string(recent), formatTime(s.now()), sum.ID)
	if err != nil {
		return fmt.Errorf("failed to save %s summary: %w", sum.Period, err)
	}
	return nil
}

func (s *Store) ListSummaries(ctx context.Context, userID uuid.UUID, period models.Period, since time.Time) ([]models.PeriodSummary, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = ? AND date >= ?
		ORDER BY date DESC`, summaryColumns, summaryTable(period)), userID, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.PeriodSummary
	for rows.Next() {
		sum, err := scanSummary(rows, period)
		if err != nil {
			return nil, err
		}
		list = append(list, *sum)
	}
	return list, rows.Err()
}

func (s *Store) LatestSummary(ctx context.Context, userID uuid.UUID, period models.Period) (*models.PeriodSummary, error) {
	sum, err := scanSummary(s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = ?
		ORDER BY date DESC
		LIMIT 1`, summaryColumns, summaryTable(period)), userID), period)
	if err != nil {
		return nil, mapError(err)
	}
	return sum, nil
}

func scanSummary(row scanner, period models.Period) (*models.PeriodSummary, error) {
	sum := &models.PeriodSummary{Period: period}
	var date, breakdown, recent, created, updated string
	err := row.Scan(
		&sum.ID, &sum.UserID, &date, &sum.TotalTimeSpentMinutes, &sum.ExercisesCompleted, &sum.ExerciseAttempts,
		&breakdown, &recent, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if sum.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if sum.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sum.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(breakdown), &sum.AreaBreakdown); err != nil {
		return nil, fmt.Errorf("failed to decode area breakdown: %w", err)
	}
	if err := json.Unmarshal([]byte(recent), &sum.RecentExercises); err != nil {
		return nil, fmt.Errorf("failed to decode recent exercises: %w", err)
	}
	sum.Normalize()
	return sum, nil
}
