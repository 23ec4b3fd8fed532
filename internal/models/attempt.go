package models

import (
	"time"

	"github.com/google/uuid"
)

type CompletionStatus string

const (
	StatusCompleted  CompletionStatus = "completed"
	StatusAbandoned  CompletionStatus = "abandoned"
	StatusInProgress CompletionStatus = "in-progress"
)

func (s CompletionStatus) Valid() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusInProgress:
		return true
	}
	return false
}

// Attempt is one user's engagement with one exercise. Rows are append-only;
// AggregatedAt is the only column written after insert.
type Attempt struct {
	ID               uuid.UUID        `json:"id"`
	UserID           uuid.UUID        `json:"user_id"`
	ExerciseID       uuid.UUID        `json:"exercise_id"`
	Area             Area             `json:"area"`
	DifficultyLevel  int              `json:"difficulty_level"`
	Score            *float64         `json:"score"`
	CompletionStatus CompletionStatus `json:"completion_status"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          time.Time        `json:"end_time"`
	IsTest           bool             `json:"is_test"`
	Metrics          *AttemptMetrics  `json:"metrics,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	AggregatedAt     *time.Time       `json:"aggregated_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

type AttemptMetrics struct {
	TimeSpentSeconds float64  `json:"time_spent_seconds"`
	AttemptsCount    int      `json:"attempts_count"`
	Accuracy         *float64 `json:"accuracy,omitempty"`
}

func (a *Attempt) Completed() bool {
	return a.CompletionStatus == StatusCompleted
}

// ScoreValue returns the score, or 0 when none was reported.
func (a *Attempt) ScoreValue() float64 {
	if a.Score == nil {
		return 0
	}
	return *a.Score
}

// RecordAttemptRequest is the inbound submission body.
type RecordAttemptRequest struct {
	ExerciseID       string          `json:"exercise_id"`
	Area             string          `json:"area"`
	DifficultyLevel  int             `json:"difficulty_level"`
	Score            *float64        `json:"score"`
	CompletionStatus string          `json:"completion_status"`
	StartTime        *time.Time      `json:"start_time"`
	EndTime          *time.Time      `json:"end_time"`
	IsTest           bool            `json:"is_test"`
	Metrics          *AttemptMetrics `json:"metrics"`
	Notes            string          `json:"notes"`
}

// AttemptAck is returned once the attempt row is durable.
type AttemptAck struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	Aggregated bool      `json:"aggregated"`
}

// RecentActivity is an attempt joined with its exercise title.
type RecentActivity struct {
	Attempt
	ExerciseTitle string `json:"exercise_title"`
}
