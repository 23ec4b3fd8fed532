package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/models"
)

const exerciseColumns = `id, title, description, area, type, difficulty_levels, instructions, image_url,
	is_test, estimated_time_minutes, skills, created_at, updated_at`

// SaveExercise inserts or replaces a catalog entry keyed by id.
func (s *Store) SaveExercise(ctx context.Context, e *models.Exercise) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	levels, err := json.Marshal(e.DifficultyLevels)
	if err != nil {
		return fmt.Errorf("failed to encode difficulty levels: %w", err)
	}
	skills := e.Skills
	if skills == nil {
		skills = []string{}
	}
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return fmt.Errorf("failed to encode skills: %w", err)
	}

	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exercises (id, title, description, area, type, difficulty_levels, instructions, image_url,
			is_test, estimated_time_minutes, skills, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			area = excluded.area,
			type = excluded.type,
			difficulty_levels = excluded.difficulty_levels,
			instructions = excluded.instructions,
			image_url = excluded.image_url,
			is_test = excluded.is_test,
			estimated_time_minutes = excluded.estimated_time_minutes,
			skills = excluded.skills,
			updated_at = excluded.updated_at`,
		e.ID, e.Title, e.Description, string(e.Area), e.Type, string(levels), e.Instructions, e.ImageURL,
		e.IsTest, e.EstimatedTimeMinutes, string(skillsJSON), now, now)
	if err != nil {
		return mapError(err)
	}

	saved, err := s.GetExercise(ctx, e.ID)
	if err != nil {
		return err
	}
	e.CreatedAt, e.UpdatedAt = saved.CreatedAt, saved.UpdatedAt
	return nil
}

func (s *Store) GetExercise(ctx context.Context, id uuid.UUID) (*models.Exercise, error) {
	e, err := scanExercise(s.db.QueryRowContext(ctx, `SELECT `+exerciseColumns+` FROM exercises WHERE id = ?`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

func (s *Store) ListExercises(ctx context.Context, area models.Area) ([]models.Exercise, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if area == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+exerciseColumns+` FROM exercises ORDER BY area, title`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+exerciseColumns+` FROM exercises WHERE area = ? ORDER BY title`, string(area))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Exercise
	for rows.Next() {
		e, err := scanExercise(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

func scanExercise(row scanner) (*models.Exercise, error) {
	e := &models.Exercise{}
	var area, levels, skills, created, updated string
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &area, &e.Type, &levels, &e.Instructions, &e.ImageURL,
		&e.IsTest, &e.EstimatedTimeMinutes, &skills, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	e.Area = models.Area(area)
	if err := json.Unmarshal([]byte(levels), &e.DifficultyLevels); err != nil {
		return nil, fmt.Errorf("failed to decode difficulty levels: %w", err)
	}
	if err := json.Unmarshal([]byte(skills), &e.Skills); err != nil {
		return nil, fmt.Errorf("failed to decode skills: %w", err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return e, nil
}
