package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/repository"
)

// memStore keeps attempts and aggregates in memory. ApplyAttempt reads and
// writes under separate critical sections, so concurrent applies for one
// user lose updates unless the caller holds the user lock.
type memStore struct {
	mu        sync.Mutex
	attempts  map[uuid.UUID]*models.Attempt
	progress  map[string]*models.AreaProgress
	summaries map[string]*models.PeriodSummary
	exercises map[uuid.UUID]*models.Exercise

	createErr error
	applyErr  error
	applies   int
}

func newMemStore() *memStore {
	return &memStore{
		attempts:  map[uuid.UUID]*models.Attempt{},
		progress:  map[string]*models.AreaProgress{},
		summaries: map[string]*models.PeriodSummary{},
		exercises: map[uuid.UUID]*models.Exercise{},
	}
}

func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}

func progressKey(userID uuid.UUID, area models.Area) string {
	return userID.String() + "/" + string(area)
}

func summaryKey(userID uuid.UUID, period models.Period, start time.Time) string {
	return userID.String() + "/" + string(period) + "/" + start.UTC().Format(time.RFC3339)
}

func (m *memStore) CreateAttempt(_ context.Context, a *models.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *a
	m.attempts[a.ID] = &cp
	return nil
}

func (m *memStore) GetAttempt(_ context.Context, id uuid.UUID) (*models.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ApplyAttempt(_ context.Context, key models.AggregateKey, fn func(*models.AggregateSet) error) error {
	m.mu.Lock()
	if m.applyErr != nil {
		m.mu.Unlock()
		return m.applyErr
	}
	a, ok := m.attempts[key.AttemptID]
	if !ok {
		m.mu.Unlock()
		return repository.ErrNotFound
	}
	if a.AggregatedAt != nil {
		m.mu.Unlock()
		return repository.ErrAlreadyAggregated
	}
	set := &models.AggregateSet{
		Progress: m.loadProgress(key.UserID, key.Area),
		Daily:    m.loadSummary(key.UserID, models.PeriodDay, key.Day),
		Weekly:   m.loadSummary(key.UserID, models.PeriodWeek, key.WeekStart),
	}
	m.mu.Unlock()

	// Widen the read-modify-write window.
	time.Sleep(time.Millisecond)
	if err := fn(set); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[progressKey(key.UserID, key.Area)] = set.Progress
	m.summaries[summaryKey(key.UserID, models.PeriodDay, key.Day)] = set.Daily
	m.summaries[summaryKey(key.UserID, models.PeriodWeek, key.WeekStart)] = set.Weekly
	now := time.Now()
	m.attempts[key.AttemptID].AggregatedAt = &now
	m.applies++
	return nil
}

func (m *memStore) loadProgress(userID uuid.UUID, area models.Area) *models.AreaProgress {
	if p, ok := m.progress[progressKey(userID, area)]; ok {
		cp := *p
		return &cp
	}
	return models.NewAreaProgress(userID, area)
}

func (m *memStore) loadSummary(userID uuid.UUID, period models.Period, start time.Time) *models.PeriodSummary {
	if s, ok := m.summaries[summaryKey(userID, period, start)]; ok {
		return clone(s)
	}
	return models.NewPeriodSummary(userID, period, start)
}

func (m *memStore) areaProgress(userID uuid.UUID, area models.Area) *models.AreaProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress[progressKey(userID, area)]
}

func (m *memStore) summary(userID uuid.UUID, period models.Period, start time.Time) *models.PeriodSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaries[summaryKey(userID, period, start)]
}

func (m *memStore) GetExercise(_ context.Context, id uuid.UUID) (*models.Exercise, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exercises[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) ListExercises(_ context.Context, area models.Area) ([]models.Exercise, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Exercise
	for _, e := range m.exercises {
		if area == "" || e.Area == area {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memStore) SaveExercise(_ context.Context, e *models.Exercise) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	m.exercises[e.ID] = &cp
	return nil
}

func (m *memStore) addExercise(area models.Area, title string) uuid.UUID {
	e := &models.Exercise{ID: uuid.New(), Area: area, Title: title}
	_ = m.SaveExercise(context.Background(), e)
	return e.ID
}

type publishedEvent struct {
	UserID  uuid.UUID
	Event   string
	Payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, userID uuid.UUID, event string, payload interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{UserID: userID, Event: event, Payload: payload})
	return n.err
}

func (n *recordingNotifier) snapshot() []publishedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]publishedEvent(nil), n.events...)
}

type failingLocker struct{ err error }

func (l failingLocker) Acquire(context.Context, string) (func(), error) { return nil, l.err }

var errBoom = errors.New("boom")

func ptr[T any](v T) *T { return &v }

type memUsers struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*models.User
	progress map[string]*models.AreaProgress
	usage    map[string]*models.DailyUsage
	logins   int
}

func newMemUsers() *memUsers {
	return &memUsers{
		byID:     map[uuid.UUID]*models.User{},
		progress: map[string]*models.AreaProgress{},
		usage:    map[string]*models.DailyUsage{},
	}
}

func (m *memUsers) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return repository.ErrConflict
		}
	}
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) TouchLastLogin(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins++
	return nil
}

func (m *memUsers) ListAreaProgress(_ context.Context, userID uuid.UUID) ([]models.AreaProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AreaProgress
	for _, a := range models.AllAreas {
		if p, ok := m.progress[progressKey(userID, a)]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memUsers) UpdateAreaSettings(_ context.Context, userID uuid.UUID, area models.Area, req models.UpdateAreaRequest) (*models.AreaProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[userID]; !ok {
		return nil, repository.ErrNotFound
	}
	key := progressKey(userID, area)
	p, ok := m.progress[key]
	if !ok {
		p = models.NewAreaProgress(userID, area)
		m.progress[key] = p
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	if req.DifficultyLevel != nil {
		p.DifficultyLevel = *req.DifficultyLevel
	}
	cp := *p
	return &cp, nil
}

func (m *memUsers) RecordSessionUsage(_ context.Context, userID uuid.UUID, day time.Time, minutes float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID.String() + "/" + day.UTC().Format(time.RFC3339)
	u, ok := m.usage[key]
	if !ok {
		u = &models.DailyUsage{Date: day}
		m.usage[key] = u
	}
	u.TotalTimeSpentMinutes += minutes
	u.SessionsCount++
	return nil
}

func (m *memUsers) ListDailyUsage(_ context.Context, userID uuid.UUID, since time.Time) ([]models.DailyUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DailyUsage
	prefix := userID.String() + "/"
	for key, u := range m.usage {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix && !u.Date.Before(since) {
			out = append(out, *u)
		}
	}
	return out, nil
}
