package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/models"
)

const userColumns = `id, name, age, email, password_hash, role, language, num_of_exercises, stars, created_at, last_login_at`

// CreateUser inserts the user together with a progress row for every area.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = s.now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, name, age, email, password_hash, role, language, num_of_exercises, stars, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.Name, user.Age, user.Email, user.PasswordHash, user.Role, user.Language,
			user.NumOfExercises, user.Stars, formatTime(user.CreatedAt))
		if err != nil {
			return mapError(err)
		}
		return s.ensureAreaRows(ctx, tx, user.ID, models.AllAreas...)
	})
}

func scanUser(row scanner) (*models.User, error) {
	user := &models.User{}
	var created string
	var lastLogin sql.NullString
	err := row.Scan(
		&user.ID, &user.Name, &user.Age, &user.Email, &user.PasswordHash, &user.Role,
		&user.Language, &user.NumOfExercises, &user.Stars, &created, &lastLogin,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if user.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if user.LastLoginAt, err = parseNullTime(lastLogin); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (s *Store) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, formatTime(s.now()), id)
	return err
}

const progressColumns = `area, enabled, difficulty_level, overall_score, exercises_completed, last_activity`

func scanProgress(row scanner, userID uuid.UUID) (*models.AreaProgress, error) {
	p := &models.AreaProgress{UserID: userID}
	var area string
	var last sql.NullString
	if err := row.Scan(&area, &p.Enabled, &p.DifficultyLevel, &p.OverallScore, &p.ExercisesCompleted, &last); err != nil {
		return nil, err
	}
	p.Area = models.Area(area)
	var err error
	if p.LastActivity, err = parseNullTime(last); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListAreaProgress(ctx context.Context, userID uuid.UUID) ([]models.AreaProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+progressColumns+`
		FROM user_area_progress
		WHERE user_id = ?
		ORDER BY area`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.AreaProgress
	for rows.Next() {
		p, err := scanProgress(rows, userID)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

func (s *Store) UpdateAreaSettings(ctx context.Context, userID uuid.UUID, area models.Area, req models.UpdateAreaRequest) (*models.AreaProgress, error) {
	var p *models.AreaProgress
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureAreaRows(ctx, tx, userID, area); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_area_progress
			SET enabled = COALESCE(?, enabled),
				difficulty_level = COALESCE(?, difficulty_level)
			WHERE user_id = ? AND area = ?`,
			req.Enabled, req.DifficultyLevel, userID, string(area)); err != nil {
			return err
		}
		var err error
		p, err = scanProgress(tx.QueryRowContext(ctx, `
			SELECT `+progressColumns+` FROM user_area_progress WHERE user_id = ? AND area = ?`,
			userID, string(area)), userID)
		return mapError(err)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) RecordSessionUsage(ctx context.Context, userID uuid.UUID, day time.Time, minutes float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_daily_usage (user_id, date, total_time_spent_minutes, sessions_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (user_id, date) DO UPDATE
		SET total_time_spent_minutes = total_time_spent_minutes + excluded.total_time_spent_minutes,
			sessions_count = sessions_count + 1`,
		userID, formatTime(day), minutes)
	return mapError(err)
}

func (s *Store) ListDailyUsage(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.DailyUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_time_spent_minutes, sessions_count
		FROM user_daily_usage
		WHERE user_id = ? AND date >= ?
		ORDER BY date DESC`, userID, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.DailyUsage
	for rows.Next() {
		var u models.DailyUsage
		var date string
		if err := rows.Scan(&date, &u.TotalTimeSpentMinutes, &u.SessionsCount); err != nil {
			return nil, err
		}
		if u.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}
