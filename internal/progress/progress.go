// Package progress holds the rolling-statistics math applied to a user's
// aggregates when an attempt is recorded. It does no I/O.
package progress

import (
	"sort"
	"time"

	"github.com/yuv-man/asd-server/internal/models"
)

const (
	DefaultDailyRecentLimit  = 10
	DefaultWeeklyRecentLimit = 20
)

// Limits caps the recent-exercise lists kept on each summary.
type Limits struct {
	DailyRecent  int
	WeeklyRecent int
}

func DefaultLimits() Limits {
	return Limits{DailyRecent: DefaultDailyRecentLimit, WeeklyRecent: DefaultWeeklyRecentLimit}
}

// Contribution is everything one attempt adds to the aggregates.
type Contribution struct {
	Attempt *models.Attempt
	Title   string
	Minutes float64
	Now     time.Time
}

// NewContribution derives the time spent from the attempt window.
func NewContribution(a *models.Attempt, title string, now time.Time) Contribution {
	return Contribution{
		Attempt: a,
		Title:   title,
		Minutes: TimeSpentMinutes(a.StartTime, a.EndTime, a.Metrics),
		Now:     now,
	}
}

// RunningAverage folds value into a mean previously taken over count values.
// With count 0 the result is value.
func RunningAverage(avg float64, count int, value float64) float64 {
	return (avg*float64(count) + value) / float64(count+1)
}

// TimeSpentMinutes prefers the start/end window and falls back to the
// client-reported metrics when the window is empty.
func TimeSpentMinutes(start, end time.Time, m *models.AttemptMetrics) float64 {
	if end.After(start) {
		return end.Sub(start).Minutes()
	}
	if m != nil && m.TimeSpentSeconds > 0 {
		return m.TimeSpentSeconds / 60
	}
	return 0
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// StartOfWeek returns local midnight of the Sunday on or before t.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	day := StartOfDay(t, loc)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// KeyFor addresses the aggregates an attempt belongs to. Periods follow the
// attempt's end time so a replayed attempt lands where it happened.
func KeyFor(a *models.Attempt, loc *time.Location) models.AggregateKey {
	return models.AggregateKey{
		AttemptID: a.ID,
		UserID:    a.UserID,
		Area:      a.Area,
		Day:       StartOfDay(a.EndTime, loc),
		WeekStart: StartOfWeek(a.EndTime, loc),
	}
}

// Apply folds c into every document of set.
func Apply(set *models.AggregateSet, c Contribution, limits Limits) {
	if set.Progress != nil {
		ApplyToProgress(set.Progress, c)
	}
	if set.Daily != nil {
		ApplyToSummary(set.Daily, c, limits.DailyRecent)
	}
	if set.Weekly != nil {
		ApplyToSummary(set.Weekly, c, limits.WeeklyRecent)
	}
}

// ApplyToProgress only moves on completed attempts.
func ApplyToProgress(p *models.AreaProgress, c Contribution) {
	if !c.Attempt.Completed() {
		return
	}
	p.OverallScore = RunningAverage(p.OverallScore, p.ExercisesCompleted, c.Attempt.ScoreValue())
	p.ExercisesCompleted++
	now := c.Now
	p.LastActivity = &now
}

// ApplyToSummary counts every attempt and its time; completed counts and
// averages move only for completed attempts.
func ApplyToSummary(s *models.PeriodSummary, c Contribution, recentLimit int) {
	a := c.Attempt
	if s.AreaBreakdown == nil {
		s.AreaBreakdown = make(map[models.Area]*models.AreaSummary)
	}
	area, ok := s.AreaBreakdown[a.Area]
	if !ok || area == nil {
		area = &models.AreaSummary{}
		s.AreaBreakdown[a.Area] = area
	}

	s.TotalTimeSpentMinutes += c.Minutes
	area.TimeSpentMinutes += c.Minutes
	s.ExerciseAttempts++

	if a.Completed() {
		area.AverageScore = RunningAverage(area.AverageScore, area.ExercisesCompleted, a.ScoreValue())
		area.ExercisesCompleted++
		s.ExercisesCompleted++
	}

	s.RecentExercises = AddRecent(s.RecentExercises, models.RecentExercise{
		ExerciseID:       a.ExerciseID,
		AttemptID:        a.ID,
		Title:            c.Title,
		Area:             a.Area,
		DifficultyLevel:  a.DifficultyLevel,
		Score:            a.Score,
		CompletionStatus: a.CompletionStatus,
		Timestamp:        a.EndTime,
	}, recentLimit)
}

// AddRecent appends e, orders the list newest first and keeps at most limit
// entries. A non-positive limit keeps everything.
func AddRecent(list []models.RecentExercise, e models.RecentExercise, limit int) []models.RecentExercise {
	list = append(list, e)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
