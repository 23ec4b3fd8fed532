package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Exercise struct {
	ID                   uuid.UUID         `json:"id"`
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	Area                 Area              `json:"area"`
	Type                 string            `json:"type"`
	DifficultyLevels     []DifficultyLevel `json:"difficulty_levels"`
	Instructions         string            `json:"instructions"`
	ImageURL             *string           `json:"image_url"`
	IsTest               bool              `json:"is_test"`
	EstimatedTimeMinutes int               `json:"estimated_time_minutes"`
	Skills               []string          `json:"skills"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

type DifficultyLevel struct {
	Level        int             `json:"level"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	PassingScore float64         `json:"passing_score"`
}
