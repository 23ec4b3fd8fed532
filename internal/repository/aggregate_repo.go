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

// AggregateRepo owns the area-progress rows and the daily/weekly summaries.
type AggregateRepo struct {
	pool *pgxpool.Pool
}

func NewAggregateRepo(pool *pgxpool.Pool) *AggregateRepo {
	return &AggregateRepo{pool: pool}
}

func summaryTable(p models.Period) string {
	if p == models.PeriodWeek {
		return "weekly_summaries"
	}
	return "daily_summaries"
}

// ApplyAttempt locks the attempt row, then the area progress, daily and
// weekly rows in that order, runs fn and writes everything back in the same
// transaction. Missing summary and progress rows are created first.
func (r *AggregateRepo) ApplyAttempt(ctx context.Context, key models.AggregateKey, fn func(*models.AggregateSet) error) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var aggregatedAt *time.Time
		err := tx.QueryRow(ctx, `SELECT aggregated_at FROM exercise_attempts WHERE id = $1 FOR UPDATE`, key.AttemptID).Scan(&aggregatedAt)
		if err != nil {
			return fmt.Errorf("attempt %s: %w", key.AttemptID, mapError(err))
		}
		if aggregatedAt != nil {
			return ErrAlreadyAggregated
		}

		progress, err := lockAreaProgress(ctx, tx, key.UserID, key.Area)
		if err != nil {
			return err
		}
		daily, err := lockSummary(ctx, tx, key.UserID, models.PeriodDay, key.Day)
		if err != nil {
			return err
		}
		weekly, err := lockSummary(ctx, tx, key.UserID, models.PeriodWeek, key.WeekStart)
		if err != nil {
			return err
		}

		set := &models.AggregateSet{Progress: progress, Daily: daily, Weekly: weekly}
		if err := fn(set); err != nil {
			return err
		}

		if err := saveAreaProgress(ctx, tx, set.Progress); err != nil {
			return err
		}
		if err := saveSummary(ctx, tx, set.Daily); err != nil {
			return err
		}
		if err := saveSummary(ctx, tx, set.Weekly); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE exercise_attempts SET aggregated_at = NOW() WHERE id = $1`, key.AttemptID)
		return err
	})
}

func lockAreaProgress(ctx context.Context, tx pgx.Tx, userID uuid.UUID, area models.Area) (*models.AreaProgress, error) {
	// Only users that exist get a lazily created row.
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_area_progress (user_id, area)
		SELECT id, $2 FROM users WHERE id = $1
		ON CONFLICT (user_id, area) DO NOTHING`, userID, string(area)); err != nil {
		return nil, fmt.Errorf("failed to create area progress: %w", err)
	}

	p := &models.AreaProgress{UserID: userID, Area: area}
	err := tx.QueryRow(ctx, `
		SELECT enabled, difficulty_level, overall_score, exercises_completed, last_activity
		FROM user_area_progress
		WHERE user_id = $1 AND area = $2
		FOR UPDATE`, userID, string(area),
	).Scan(&p.Enabled, &p.DifficultyLevel, &p.OverallScore, &p.ExercisesCompleted, &p.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, mapError(err))
	}
	return p, nil
}

func saveAreaProgress(ctx context.Context, tx pgx.Tx, p *models.AreaProgress) error {
	_, err := tx.Exec(ctx, `
		UPDATE user_area_progress
		SET overall_score = $3, exercises_completed = $4, last_activity = $5
		WHERE user_id = $1 AND area = $2`,
		p.UserID, string(p.Area), p.OverallScore, p.ExercisesCompleted, p.LastActivity)
	if err != nil {
		return fmt.Errorf("failed to save area progress: %w", err)
	}
	return nil
}

const summaryColumns = `id, user_id, date, total_time_spent_minutes, exercises_completed, exercise_attempts,
	area_breakdown, recent_exercises, created_at, updated_at`

func lockSummary(ctx context.Context, tx pgx.Tx, userID uuid.UUID, period models.Period, start time.Time) (*models.PeriodSummary, error) {
	table := summaryTable(period)
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, date)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, date) DO NOTHING`, table), uuid.New(), userID, start); err != nil {
		return nil, fmt.Errorf("failed to create %s row: %w", table, err)
	}

	s, err := scanSummary(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = $1 AND date = $2
		FOR UPDATE`, summaryColumns, table), userID, start), period)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s row: %w", table, mapError(err))
	}
	return s, nil
}

func saveSummary(ctx context.Context, tx pgx.Tx, s *models.PeriodSummary) error {
	breakdown, err := json.Marshal(s.AreaBreakdown)
	if err != nil {
		return fmt.Errorf("failed to encode area breakdown: %w", err)
	}
	recent, err := json.Marshal(s.RecentExercises)
	if err != nil {
		return fmt.Errorf("failed to encode recent exercises: %w", err)
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET total_time_spent_minutes = $2,
			exercises_completed = $3,
			exercise_attempts = $4,
			area_breakdown = $5,
			recent_exercises = $6,
			updated_at = NOW()
		WHERE id = $1`, summaryTable(s.Period)),
		s.ID, s.TotalTimeSpentMinutes, s.ExercisesCompleted, s.ExerciseAttempts, breakdown, recent)
	if err != nil {
		return fmt.Errorf("failed to save %s summary: %w", s.Period, err)
	}
	return nil
}

func (r *AggregateRepo) ListSummaries(ctx context.Context, userID uuid.UUID, period models.Period, since time.Time) ([]models.PeriodSummary, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = $1 AND date >= $2
		ORDER BY date DESC`, summaryColumns, summaryTable(period)), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.PeriodSummary
	for rows.Next() {
		s, err := scanSummary(rows, period)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (r *AggregateRepo) LatestSummary(ctx context.Context, userID uuid.UUID, period models.Period) (*models.PeriodSummary, error) {
	s, err := scanSummary(r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = $1
		ORDER BY date DESC
		LIMIT 1`, summaryColumns, summaryTable(period)), userID), period)
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

func scanSummary(row pgx.Row, period models.Period) (*models.PeriodSummary, error) {
	s := &models.PeriodSummary{Period: period}
	var breakdown, recent []byte
	err := row.Scan(
		&s.ID, &s.UserID, &s.Date, &s.TotalTimeSpentMinutes, &s.ExercisesCompleted, &s.ExerciseAttempts,
		&breakdown, &recent, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeSummaryJSON(s, breakdown, recent); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeSummaryJSON(s *models.PeriodSummary, breakdown, recent []byte) error {
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &s.AreaBreakdown); err != nil {
			return fmt.Errorf("failed to decode area breakdown: %w", err)
		}
	}
	if len(recent) > 0 {
		if err := json.Unmarshal(recent, &s.RecentExercises); err != nil {
			return fmt.Errorf("failed to decode recent exercises: %w", err)
		}
	}
	s.Normalize()
	return nil
}
