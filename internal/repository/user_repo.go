package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yuv-man/asd-server/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// CreateUser inserts the user together with a progress row for every area.
func (r *UserRepo) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (id, name, age, email, password_hash, role, language, num_of_exercises)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at`,
			user.ID, user.Name, user.Age, user.Email, user.PasswordHash, user.Role, user.Language, user.NumOfExercises,
		).Scan(&user.CreatedAt)
		if err != nil {
			return mapError(err)
		}

		for _, area := range models.AllAreas {
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_area_progress (user_id, area)
				VALUES ($1, $2)
				ON CONFLICT (user_id, area) DO NOTHING`, user.ID, string(area)); err != nil {
				return err
			}
		}
		return nil
	})
}

const userColumns = `id, name, age, email, password_hash, role, language, num_of_exercises, stars, created_at, last_login_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Name, &user.Age, &user.Email, &user.PasswordHash, &user.Role,
		&user.Language, &user.NumOfExercises, &user.Stars, &user.CreatedAt, &user.LastLoginAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *UserRepo) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) TouchLastLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE users SET last_login_at = NOW() WHERE id = $1", userID)
	return err
}

func (r *UserRepo) ListAreaProgress(ctx context.Context, userID uuid.UUID) ([]models.AreaProgress, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT area, enabled, difficulty_level, overall_score, exercises_completed, last_activity
		FROM user_area_progress
		WHERE user_id = $1
		ORDER BY area`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.AreaProgress
	for rows.Next() {
		p := models.AreaProgress{UserID: userID}
		var area string
		if err := rows.Scan(&area, &p.Enabled, &p.DifficultyLevel, &p.OverallScore, &p.ExercisesCompleted, &p.LastActivity); err != nil {
			return nil, err
		}
		p.Area = models.Area(area)
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *UserRepo) UpdateAreaSettings(ctx context.Context, userID uuid.UUID, area models.Area, req models.UpdateAreaRequest) (*models.AreaProgress, error) {
	p := &models.AreaProgress{UserID: userID, Area: area}
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_area_progress (user_id, area)
			SELECT id, $2 FROM users WHERE id = $1
			ON CONFLICT (user_id, area) DO NOTHING`, userID, string(area))
		if err != nil {
			return err
		}

		return mapError(tx.QueryRow(ctx, `
			UPDATE user_area_progress
			SET enabled = COALESCE($3, enabled),
				difficulty_level = COALESCE($4, difficulty_level)
			WHERE user_id = $1 AND area = $2
			RETURNING enabled, difficulty_level, overall_score, exercises_completed, last_activity`,
			userID, string(area), req.Enabled, req.DifficultyLevel,
		).Scan(&p.Enabled, &p.DifficultyLevel, &p.OverallScore, &p.ExercisesCompleted, &p.LastActivity))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *UserRepo) RecordSessionUsage(ctx context.Context, userID uuid.UUID, day time.Time, minutes float64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_daily_usage (user_id, date, total_time_spent_minutes, sessions_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, date) DO UPDATE
		SET total_time_spent_minutes = user_daily_usage.total_time_spent_minutes + EXCLUDED.total_time_spent_minutes,
			sessions_count = user_daily_usage.sessions_count + 1`,
		userID, day, minutes)
	return err
}

func (r *UserRepo) ListDailyUsage(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.DailyUsage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date, total_time_spent_minutes, sessions_count
		FROM user_daily_usage
		WHERE user_id = $1 AND date >= $2
		ORDER BY date DESC`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.DailyUsage
	for rows.Next() {
		var u models.DailyUsage
		if err := rows.Scan(&u.Date, &u.TotalTimeSpentMinutes, &u.SessionsCount); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}
