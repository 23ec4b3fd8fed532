package models

import (
	"time"

	"github.com/google/uuid"
)

const DefaultSessionSize = 3

type User struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	Age            *int           `json:"age"`
	Email          string         `json:"email"`
	PasswordHash   string         `json:"-"`
	Role           string         `json:"role"` // "student" | "supervisor"
	Language       string         `json:"language"`
	NumOfExercises int            `json:"num_of_exercises"`
	Stars          int            `json:"stars"`
	AreasProgress  []AreaProgress `json:"areas_progress,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastLoginAt    *time.Time     `json:"last_login_at"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Age      *int   `json:"age"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Language string `json:"language"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthTokens struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type UpdateAreaRequest struct {
	Enabled         *bool `json:"enabled"`
	DifficultyLevel *int  `json:"difficulty_level"`
}
