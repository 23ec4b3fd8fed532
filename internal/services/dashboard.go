package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/progress"
	"github.com/yuv-man/asd-server/internal/repository"
)

type DashboardService struct {
	summaries SummaryReader
	progress  interface {
		ListAreaProgress(ctx context.Context, userID uuid.UUID) ([]models.AreaProgress, error)
	}
	activity ActivityReader
	usage    UsageStore
	loc      *time.Location
	now      func() time.Time
}

func NewDashboardService(summaries SummaryReader, users UserStore, activity ActivityReader, usage UsageStore, loc *time.Location) *DashboardService {
	if loc == nil {
		loc = time.Local
	}
	return &DashboardService{
		summaries: summaries,
		progress:  users,
		activity:  activity,
		usage:     usage,
		loc:       loc,
		now:       time.Now,
	}
}

// DailySummaries returns the last days summaries, newest first.
func (s *DashboardService) DailySummaries(ctx context.Context, userID uuid.UUID, days int) ([]models.PeriodSummary, error) {
	since := progress.StartOfDay(s.now(), s.loc).AddDate(0, 0, -(days - 1))
	list, err := s.summaries.ListSummaries(ctx, userID, models.PeriodDay, since)
	if err != nil {
		return nil, &StorageError{Op: "list daily summaries", Err: err}
	}
	return list, nil
}

func (s *DashboardService) WeeklySummaries(ctx context.Context, userID uuid.UUID, weeks int) ([]models.PeriodSummary, error) {
	since := progress.StartOfWeek(s.now(), s.loc).AddDate(0, 0, -7*(weeks-1))
	list, err := s.summaries.ListSummaries(ctx, userID, models.PeriodWeek, since)
	if err != nil {
		return nil, &StorageError{Op: "list weekly summaries", Err: err}
	}
	return list, nil
}

func (s *DashboardService) LatestWeekly(ctx context.Context, userID uuid.UUID) (*models.PeriodSummary, error) {
	summary, err := s.summaries.LatestSummary(ctx, userID, models.PeriodWeek)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "No weekly summary yet"}
	}
	if err != nil {
		return nil, &StorageError{Op: "latest weekly summary", Err: err}
	}
	return summary, nil
}

func (s *DashboardService) AreaProgress(ctx context.Context, userID uuid.UUID) ([]models.AreaProgress, error) {
	stored, err := s.progress.ListAreaProgress(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "list area progress", Err: err}
	}
	return completeAreas(userID, stored), nil
}

// Improvement is the per-day mean score of completed attempts in one area.
func (s *DashboardService) Improvement(ctx context.Context, userID uuid.UUID, rawArea string, days int) ([]models.ImprovementPoint, error) {
	area, ok := models.ParseArea(rawArea)
	if !ok {
		return nil, &ValidationError{Fields: map[string]string{"area": "Unknown area"}}
	}
	since := progress.StartOfDay(s.now(), s.loc).AddDate(0, 0, -(days - 1))
	attempts, err := s.activity.ListCompletedAttempts(ctx, userID, area, since)
	if err != nil {
		return nil, &StorageError{Op: "list completed attempts", Err: err}
	}
	return ImprovementSeries(attempts, s.loc), nil
}

func (s *DashboardService) RecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.RecentActivity, error) {
	list, err := s.activity.ListRecentActivity(ctx, userID, limit)
	if err != nil {
		return nil, &StorageError{Op: "list recent activity", Err: err}
	}
	return list, nil
}

func (s *DashboardService) Usage(ctx context.Context, userID uuid.UUID, days int) ([]models.DailyUsage, error) {
	since := progress.StartOfDay(s.now(), s.loc).AddDate(0, 0, -(days - 1))
	list, err := s.usage.ListDailyUsage(ctx, userID, since)
	if err != nil {
		return nil, &StorageError{Op: "list daily usage", Err: err}
	}
	return list, nil
}

// ExerciseHistory returns the user's attempts at one exercise, newest first.
func (s *DashboardService) ExerciseHistory(ctx context.Context, userID, exerciseID uuid.UUID, limit int) ([]models.Attempt, error) {
	list, err := s.activity.ListAttemptsForExercise(ctx, userID, exerciseID, limit)
	if err != nil {
		return nil, &StorageError{Op: "list exercise history", Err: err}
	}
	if list == nil {
		list = []models.Attempt{}
	}
	return list, nil
}

// RecordSession adds one finished app session to today's usage row.
func (s *DashboardService) RecordSession(ctx context.Context, userID uuid.UUID, duration time.Duration) error {
	if duration < 0 {
		duration = 0
	}
	day := progress.StartOfDay(s.now(), s.loc)
	if err := s.usage.RecordSessionUsage(ctx, userID, day, duration.Minutes()); err != nil {
		return &StorageError{Op: "record session usage", Err: err}
	}
	return nil
}

// ImprovementSeries groups attempts by local day, oldest day first.
func ImprovementSeries(attempts []models.Attempt, loc *time.Location) []models.ImprovementPoint {
	type bucket struct {
		sum   float64
		count int
	}
	buckets := make(map[time.Time]*bucket)
	for i := range attempts {
		a := &attempts[i]
		if !a.Completed() || a.Score == nil {
			continue
		}
		day := progress.StartOfDay(a.EndTime, loc)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
		}
		b.sum += *a.Score
		b.count++
	}

	points := make([]models.ImprovementPoint, 0, len(buckets))
	for day, b := range buckets {
		points = append(points, models.ImprovementPoint{
			Date:         day,
			AverageScore: b.sum / float64(b.count),
			Attempts:     b.count,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}
