package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yuv-man/asd-server/internal/models"
)

type ExerciseRepo struct {
	pool *pgxpool.Pool
}

func NewExerciseRepo(pool *pgxpool.Pool) *ExerciseRepo {
	return &ExerciseRepo{pool: pool}
}

const exerciseColumns = `id, title, description, area, type, difficulty_levels, instructions, image_url,
	is_test, estimated_time_minutes, skills, created_at, updated_at`

// SaveExercise inserts or replaces a catalog entry keyed by id.
func (r *ExerciseRepo) SaveExercise(ctx context.Context, e *models.Exercise) error {
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

	return r.pool.QueryRow(ctx, `
		INSERT INTO exercises (id, title, description, area, type, difficulty_levels, instructions, image_url,
			is_test, estimated_time_minutes, skills)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			area = EXCLUDED.area,
			type = EXCLUDED.type,
			difficulty_levels = EXCLUDED.difficulty_levels,
			instructions = EXCLUDED.instructions,
			image_url = EXCLUDED.image_url,
			is_test = EXCLUDED.is_test,
			estimated_time_minutes = EXCLUDED.estimated_time_minutes,
			skills = EXCLUDED.skills,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		e.ID, e.Title, e.Description, string(e.Area), e.Type, levels, e.Instructions, e.ImageURL,
		e.IsTest, e.EstimatedTimeMinutes, skills,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *ExerciseRepo) GetExercise(ctx context.Context, id uuid.UUID) (*models.Exercise, error) {
	e, err := scanExercise(r.pool.QueryRow(ctx, `SELECT `+exerciseColumns+` FROM exercises WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

func (r *ExerciseRepo) ListExercises(ctx context.Context, area models.Area) ([]models.Exercise, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if area == "" {
		rows, err = r.pool.Query(ctx, `SELECT `+exerciseColumns+` FROM exercises ORDER BY area, title`)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+exerciseColumns+` FROM exercises WHERE area = $1 ORDER BY title`, string(area))
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

func scanExercise(row pgx.Row) (*models.Exercise, error) {
	e := &models.Exercise{}
	var area string
	var levels []byte
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &area, &e.Type, &levels, &e.Instructions, &e.ImageURL,
		&e.IsTest, &e.EstimatedTimeMinutes, &e.Skills, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Area = models.Area(area)
	if len(levels) > 0 {
		if err := json.Unmarshal(levels, &e.DifficultyLevels); err != nil {
			return nil, fmt.Errorf("failed to decode difficulty levels: %w", err)
		}
	}
	return e, nil
}
