package models

import (
	"time"

	"github.com/google/uuid"
)

const JobTypeAttemptReprocess = "attempt-reprocess"

type Job struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Type        string    `json:"type"` // "attempt-reprocess"
	ReferenceID uuid.UUID `json:"reference_id"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	CreatedAt   time.Time `json:"created_at"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	EventExerciseCompleted  = "exercise-completed"
	EventExerciseAttempted  = "exercise-attempted"
	EventSessionStarted     = "session-started"
	EventSessionRecorded    = "session-recorded"
	EventReprocessCompleted = "reprocess-completed"
	EventReprocessFailed    = "reprocess-failed"
)

type ExerciseEvent struct {
	AttemptID        uuid.UUID        `json:"attempt_id"`
	ExerciseID       uuid.UUID        `json:"exercise_id"`
	Score            *float64         `json:"score"`
	Area             Area             `json:"area"`
	CompletionStatus CompletionStatus `json:"completion_status,omitempty"`
}

// Client-to-server websocket messages.
const (
	MessageSessionStart = "session-start"
	MessageSessionEnd   = "session-end"
)

type SessionEndPayload struct {
	DurationSeconds float64 `json:"duration_seconds"`
}

type SessionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Minutes   float64   `json:"minutes,omitempty"`
}

type ReprocessEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	AttemptID    uuid.UUID `json:"attempt_id"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	AttemptID *uuid.UUID        `json:"attempt_id,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// UserChannel is the pub/sub channel carrying one user's websocket messages.
func UserChannel(userID uuid.UUID) string {
	return "user_updates:" + userID.String()
}
