package models

import (
	"time"

	"github.com/google/uuid"
)

// AreaProgress is the per-user, per-area running record.
type AreaProgress struct {
	UserID             uuid.UUID  `json:"-"`
	Area               Area       `json:"area"`
	Enabled            bool       `json:"enabled"`
	DifficultyLevel    int        `json:"difficulty_level"`
	OverallScore       float64    `json:"overall_score"`
	ExercisesCompleted int        `json:"exercises_completed"`
	LastActivity       *time.Time `json:"last_activity"`
}

// NewAreaProgress returns the zero state for a freshly enabled area.
func NewAreaProgress(userID uuid.UUID, area Area) *AreaProgress {
	return &AreaProgress{
		UserID:          userID,
		Area:            area,
		Enabled:         true,
		DifficultyLevel: 1,
	}
}

type Period string

const (
	PeriodDay  Period = "day"
	PeriodWeek Period = "week"
)

// PeriodSummary backs both the daily and the weekly summary.
type PeriodSummary struct {
	ID                    uuid.UUID             `json:"id"`
	UserID                uuid.UUID             `json:"user_id"`
	Period                Period                `json:"period"`
	Date                  time.Time             `json:"date"`
	TotalTimeSpentMinutes float64               `json:"total_time_spent_minutes"`
	ExercisesCompleted    int                   `json:"exercises_completed"`
	ExerciseAttempts      int                   `json:"exercise_attempts"`
	AreaBreakdown         map[Area]*AreaSummary `json:"area_breakdown"`
	RecentExercises       []RecentExercise      `json:"recent_exercises"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// NewPeriodSummary returns an empty summary with a slot for every area.
func NewPeriodSummary(userID uuid.UUID, period Period, start time.Time) *PeriodSummary {
	s := &PeriodSummary{
		ID:              uuid.New(),
		UserID:          userID,
		Period:          period,
		Date:            start,
		AreaBreakdown:   make(map[Area]*AreaSummary, len(AllAreas)),
		RecentExercises: []RecentExercise{},
	}
	for _, a := range AllAreas {
		s.AreaBreakdown[a] = &AreaSummary{}
	}
	return s
}

type AreaSummary struct {
	TimeSpentMinutes   float64 `json:"time_spent_minutes"`
	ExercisesCompleted int     `json:"exercises_completed"`
	AverageScore       float64 `json:"average_score"`
}

type RecentExercise struct {
	ExerciseID       uuid.UUID        `json:"exercise_id"`
	AttemptID        uuid.UUID        `json:"attempt_id"`
	Title            string           `json:"title,omitempty"`
	Area             Area             `json:"area"`
	DifficultyLevel  int              `json:"difficulty_level"`
	Score            *float64         `json:"score"`
	CompletionStatus CompletionStatus `json:"completion_status"`
	Timestamp        time.Time        `json:"timestamp"`
}

// AggregateKey addresses the three documents one attempt touches.
type AggregateKey struct {
	AttemptID uuid.UUID
	UserID    uuid.UUID
	Area      Area
	Day       time.Time
	WeekStart time.Time
}

// AggregateSet is the loaded state handed to the update function inside
// AggregateStore.ApplyAttempt. Mutations are persisted when it returns nil.
type AggregateSet struct {
	Progress *AreaProgress
	Daily    *PeriodSummary
	Weekly   *PeriodSummary
}

type DailyUsage struct {
	Date                  time.Time `json:"date"`
	TotalTimeSpentMinutes float64   `json:"total_time_spent_minutes"`
	SessionsCount         int       `json:"sessions_count"`
}

type ImprovementPoint struct {
	Date         time.Time `json:"date"`
	AverageScore float64   `json:"average_score"`
	Attempts     int       `json:"attempts"`
}

// Normalize fills the zero value for every area and replaces nil slices so
// the JSON shape is stable.
func (s *PeriodSummary) Normalize() {
	if s.AreaBreakdown == nil {
		s.AreaBreakdown = make(map[Area]*AreaSummary, len(AllAreas))
	}
	for _, a := range AllAreas {
		if s.AreaBreakdown[a] == nil {
			s.AreaBreakdown[a] = &AreaSummary{}
		}
	}
	if s.RecentExercises == nil {
		s.RecentExercises = []RecentExercise{}
	}
}
