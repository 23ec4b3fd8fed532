package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/progress"
	"github.com/yuv-man/asd-server/internal/repository"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createUser(t *testing.T, s *Store) *models.User {
	t.Helper()
	u := &models.User{
		Name:           "Noa",
		Email:          uuid.NewString() + "@example.com",
		PasswordHash:   "x",
		Role:           "student",
		Language:       "en",
		NumOfExercises: models.DefaultSessionSize,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func storeAttempt(t *testing.T, s *Store, userID uuid.UUID, area models.Area, score float64, end time.Time) *models.Attempt {
	t.Helper()
	a := &models.Attempt{
		ID:               uuid.New(),
		UserID:           userID,
		ExerciseID:       uuid.New(),
		Area:             area,
		DifficultyLevel:  1,
		Score:            &score,
		CompletionStatus: models.StatusCompleted,
		StartTime:        end.Add(-3 * time.Minute),
		EndTime:          end,
	}
	require.NoError(t, s.CreateAttempt(context.Background(), a))
	return a
}

func apply(s *Store, a *models.Attempt) error {
	c := progress.NewContribution(a, "Matching shapes", a.EndTime)
	return s.ApplyAttempt(context.Background(), progress.KeyFor(a, time.UTC), func(set *models.AggregateSet) error {
		progress.Apply(set, c, progress.DefaultLimits())
		return nil
	})
}

func TestCreateUser_CreatesAreaRows(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)

	areas, err := s.ListAreaProgress(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Len(t, areas, len(models.AllAreas))
	for _, p := range areas {
		assert.True(t, p.Enabled)
		assert.Equal(t, 1, p.DifficultyLevel)
	}
}

func TestCreateUser_DuplicateEmailIsConflict(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)

	dup := &models.User{Name: "Other", Email: u.Email, PasswordHash: "x", Role: "student", Language: "en"}
	err := s.CreateUser(context.Background(), dup)
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestGetUser_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetUser(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestApplyAttempt_CreatesSummariesLazily(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)
	end := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	a := storeAttempt(t, s, u.ID, models.AreaCognitive, 80, end)

	require.NoError(t, apply(s, a))

	ctx := context.Background()
	daily, err := s.LatestSummary(ctx, u.ID, models.PeriodDay)
	require.NoError(t, err)
	assert.True(t, daily.Date.Equal(progress.StartOfDay(end, time.UTC)))
	assert.Equal(t, 1, daily.ExercisesCompleted)
	assert.Equal(t, 1, daily.ExerciseAttempts)
	assert.InDelta(t, 3.0, daily.TotalTimeSpentMinutes, 1e-9)
	assert.Equal(t, 80.0, daily.AreaBreakdown[models.AreaCognitive].AverageScore)
	require.Len(t, daily.RecentExercises, 1)
	assert.Equal(t, "Matching shapes", daily.RecentExercises[0].Title)

	weekly, err := s.LatestSummary(ctx, u.ID, models.PeriodWeek)
	require.NoError(t, err)
	assert.True(t, weekly.Date.Equal(progress.StartOfWeek(end, time.UTC)))
	assert.Equal(t, 1, weekly.ExercisesCompleted)

	got, err := s.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.AggregatedAt)
}

func TestApplyAttempt_SameDayUpdatesOneDocument(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)
	day := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	require.NoError(t, apply(s, storeAttempt(t, s, u.ID, models.AreaCognitive, 60, day)))
	require.NoError(t, apply(s, storeAttempt(t, s, u.ID, models.AreaCognitive, 100, day.Add(2*time.Hour))))

	list, err := s.ListSummaries(context.Background(), u.ID, models.PeriodDay, day.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].ExercisesCompleted)
	assert.Equal(t, 80.0, list[0].AreaBreakdown[models.AreaCognitive].AverageScore)

	areas, err := s.ListAreaProgress(context.Background(), u.ID)
	require.NoError(t, err)
	for _, p := range areas {
		if p.Area == models.AreaCognitive {
			assert.Equal(t, 2, p.ExercisesCompleted)
			assert.Equal(t, 80.0, p.OverallScore)
			assert.NotNil(t, p.LastActivity)
		}
	}
}

func TestApplyAttempt_NewDayStartsNewDocument(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)
	// Wednesday and Thursday of the same week.
	first := time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC)
	second := time.Date(2026, 3, 5, 0, 30, 0, 0, time.UTC)

	require.NoError(t, apply(s, storeAttempt(t, s, u.ID, models.AreaSpeechTherapy, 50, first)))
	require.NoError(t, apply(s, storeAttempt(t, s, u.ID, models.AreaSpeechTherapy, 70, second)))

	ctx := context.Background()
	daily, err := s.ListSummaries(ctx, u.ID, models.PeriodDay, first.AddDate(0, 0, -2))
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.True(t, daily[0].Date.After(daily[1].Date))

	weekly, err := s.ListSummaries(ctx, u.ID, models.PeriodWeek, first.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, 2, weekly[0].ExercisesCompleted)
}

func TestApplyAttempt_RefusesSecondApply(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)
	a := storeAttempt(t, s, u.ID, models.AreaCognitive, 90, time.Now().UTC())

	require.NoError(t, apply(s, a))
	assert.ErrorIs(t, apply(s, a), repository.ErrAlreadyAggregated)

	daily, err := s.LatestSummary(context.Background(), u.ID, models.PeriodDay)
	require.NoError(t, err)
	assert.Equal(t, 1, daily.ExerciseAttempts)
}

func TestApplyAttempt_UnknownAttempt(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)
	a := &models.Attempt{ID: uuid.New(), UserID: u.ID, Area: models.AreaCognitive, EndTime: time.Now()}

	assert.ErrorIs(t, apply(s, a), repository.ErrNotFound)
}

func TestApplyAttempt_CallbackErrorRollsBack(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)
	a := storeAttempt(t, s, u.ID, models.AreaCognitive, 90, time.Now().UTC())

	err := s.ApplyAttempt(context.Background(), progress.KeyFor(a, time.UTC), func(set *models.AggregateSet) error {
		set.Progress.ExercisesCompleted = 99
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := s.GetAttempt(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AggregatedAt)

	pending, err := s.ListPendingAttempts(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, pending)

	// Too fresh to count as stuck.
	pending, err = s.ListPendingAttempts(context.Background(), a.CreatedAt.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApplyAttempt_RecentListIsCapped(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)
	base := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)

	for i := 0; i < progress.DefaultDailyRecentLimit+3; i++ {
		require.NoError(t, apply(s, storeAttempt(t, s, u.ID, models.AreaCognitive, 50, base.Add(time.Duration(i)*time.Minute))))
	}

	daily, err := s.LatestSummary(context.Background(), u.ID, models.PeriodDay)
	require.NoError(t, err)
	assert.Len(t, daily.RecentExercises, progress.DefaultDailyRecentLimit)
	assert.Equal(t, progress.DefaultDailyRecentLimit+3, daily.ExerciseAttempts)
	for i := 1; i < len(daily.RecentExercises); i++ {
		assert.False(t, daily.RecentExercises[i].Timestamp.After(daily.RecentExercises[i-1].Timestamp))
	}
}

func TestUpdateAreaSettings(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)
	enabled := false
	level := 3

	p, err := s.UpdateAreaSettings(context.Background(), u.ID, models.AreaOccupationalTherapy,
		models.UpdateAreaRequest{Enabled: &enabled, DifficultyLevel: &level})
	require.NoError(t, err)
	assert.False(t, p.Enabled)
	assert.Equal(t, 3, p.DifficultyLevel)

	_, err = s.UpdateAreaSettings(context.Background(), uuid.New(), models.AreaCognitive,
		models.UpdateAreaRequest{Enabled: &enabled})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecordSessionUsage_Accumulates(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, s.RecordSessionUsage(ctx, u.ID, day, 5))
	require.NoError(t, s.RecordSessionUsage(ctx, u.ID, day, 2.5))

	usage, err := s.ListDailyUsage(ctx, u.ID, day.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 7.5, usage[0].TotalTimeSpentMinutes)
	assert.Equal(t, 2, usage[0].SessionsCount)
}

func TestExercises_SaveListAndRecentActivityTitle(t *testing.T) {
	s := openTestStore(t)
	u := createUser(t, s)
	ctx := context.Background()

	ex := &models.Exercise{
		Title:            "Sound match",
		Area:             models.AreaSpeechTherapy,
		Type:             "audio",
		DifficultyLevels: []models.DifficultyLevel{{Level: 1, PassingScore: 70}},
		Skills:           []string{"listening"},
	}
	require.NoError(t, s.SaveExercise(ctx, ex))
	require.NoError(t, s.SaveExercise(ctx, &models.Exercise{Title: "Stack blocks", Area: models.AreaOccupationalTherapy}))

	speech, err := s.ListExercises(ctx, models.AreaSpeechTherapy)
	require.NoError(t, err)
	require.Len(t, speech, 1)
	assert.Equal(t, []string{"listening"}, speech[0].Skills)
	assert.Equal(t, 70.0, speech[0].DifficultyLevels[0].PassingScore)

	all, err := s.ListExercises(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	storeAttempt(t, s, u.ID, models.AreaSpeechTherapy, 75, time.Now().UTC())
	b := &models.Attempt{
		ID: uuid.New(), UserID: u.ID, ExerciseID: ex.ID, Area: models.AreaSpeechTherapy, DifficultyLevel: 1,
		CompletionStatus: models.StatusAbandoned, StartTime: time.Now().UTC(), EndTime: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAttempt(ctx, b))

	activity, err := s.ListRecentActivity(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, "Sound match", activity[0].ExerciseTitle)
	assert.Nil(t, activity[0].Score)

	history, err := s.ListAttemptsForExercise(ctx, u.ID, ex.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
