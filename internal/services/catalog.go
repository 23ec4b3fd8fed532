package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/repository"
)

// ExerciseCatalog is the full exercise store.
type ExerciseCatalog interface {
	ExerciseLookup
	ExerciseLister
	SaveExercise(ctx context.Context, e *models.Exercise) error
}

type CatalogService struct {
	store ExerciseCatalog
}

func NewCatalogService(store ExerciseCatalog) *CatalogService {
	return &CatalogService{store: store}
}

// List returns one area's exercises, or the whole catalog for "".
func (s *CatalogService) List(ctx context.Context, rawArea string) ([]models.Exercise, error) {
	var area models.Area
	if strings.TrimSpace(rawArea) != "" {
		a, ok := models.ParseArea(rawArea)
		if !ok {
			return nil, &ValidationError{Fields: map[string]string{"area": "Unknown area"}}
		}
		area = a
	}
	list, err := s.store.ListExercises(ctx, area)
	if err != nil {
		return nil, &StorageError{Op: "list exercises", Err: err}
	}
	if list == nil {
		list = []models.Exercise{}
	}
	return list, nil
}

func (s *CatalogService) Get(ctx context.Context, id uuid.UUID) (*models.Exercise, error) {
	e, err := s.store.GetExercise(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Exercise not found"}
	}
	if err != nil {
		return nil, &StorageError{Op: "get exercise", Err: err}
	}
	return e, nil
}

// Save upserts a catalog entry. Only supervisors may edit the catalog.
func (s *CatalogService) Save(ctx context.Context, role string, e *models.Exercise) (*models.Exercise, error) {
	if role != "supervisor" {
		return nil, &ForbiddenError{Message: "Only supervisors can edit exercises"}
	}

	fieldErrors := make(map[string]string)
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		fieldErrors["title"] = "Title is required"
	}
	area, ok := models.ParseArea(string(e.Area))
	if !ok {
		fieldErrors["area"] = "area must be occupationalTherapy, speechTherapy, or cognitive"
	}
	if e.EstimatedTimeMinutes < 0 {
		fieldErrors["estimated_time_minutes"] = "estimated_time_minutes must not be negative"
	}
	seen := make(map[int]bool, len(e.DifficultyLevels))
	for _, lvl := range e.DifficultyLevels {
		if lvl.Level < 1 || seen[lvl.Level] {
			fieldErrors["difficulty_levels"] = "levels must be positive and unique"
			break
		}
		if lvl.PassingScore < 0 || lvl.PassingScore > maxScore {
			fieldErrors["difficulty_levels"] = "passing_score must be between 0 and 100"
			break
		}
		seen[lvl.Level] = true
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	e.Area = area
	if err := s.store.SaveExercise(ctx, e); err != nil {
		return nil, &StorageError{Op: "save exercise", Err: err}
	}
	return e, nil
}
