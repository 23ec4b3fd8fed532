package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/services"
)

type stubReaggregator struct {
	err   error
	calls int
}

func (s *stubReaggregator) Reaggregate(_ context.Context, id uuid.UUID) (*models.Attempt, error) {
	s.calls++
	return &models.Attempt{ID: id}, s.err
}

type published struct {
	userID uuid.UUID
	event  string
	body   models.ReprocessEvent
}

type stubNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *stubNotifier) Publish(_ context.Context, userID uuid.UUID, event string, payload interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{userID, event, payload.(models.ReprocessEvent)})
	return nil
}

type requeued struct {
	job   models.Job
	delay time.Duration
}

func newTestPool(re Reaggregator) (*Pool, *stubNotifier, *[]requeued) {
	n := &stubNotifier{}
	p := NewPool(nil, re, n, nil, 1)
	var queued []requeued
	p.requeue = func(job *models.Job, delay time.Duration) {
		queued = append(queued, requeued{*job, delay})
	}
	return p, n, &queued
}

func newJob() *models.Job {
	return &models.Job{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Type:        models.JobTypeAttemptReprocess,
		ReferenceID: uuid.New(),
		MaxRetries:  DefaultMaxRetries,
	}
}

func TestHandle_SuccessPublishesCompleted(t *testing.T) {
	re := &stubReaggregator{}
	p, n, queued := newTestPool(re)
	job := newJob()

	p.handle(context.Background(), job)

	assert.Equal(t, 1, re.calls)
	assert.Empty(t, *queued)
	require.Len(t, n.events, 1)
	assert.Equal(t, models.EventReprocessCompleted, n.events[0].event)
	assert.Equal(t, job.UserID, n.events[0].userID)
	assert.Equal(t, job.ReferenceID, n.events[0].body.AttemptID)
}

func TestHandle_AlreadyAggregatedCountsAsDone(t *testing.T) {
	p, n, queued := newTestPool(&stubReaggregator{err: &services.ConflictError{Message: "Attempt is already aggregated"}})

	p.handle(context.Background(), newJob())

	assert.Empty(t, *queued)
	require.Len(t, n.events, 1)
	assert.Equal(t, models.EventReprocessCompleted, n.events[0].event)
}

func TestHandle_MissingAttemptFailsWithoutRetry(t *testing.T) {
	p, n, queued := newTestPool(&stubReaggregator{err: &services.NotFoundError{Message: "Attempt not found"}})

	p.handle(context.Background(), newJob())

	assert.Empty(t, *queued)
	require.Len(t, n.events, 1)
	assert.Equal(t, models.EventReprocessFailed, n.events[0].event)
	assert.Equal(t, "Attempt not found", n.events[0].body.ErrorMessage)
}

func TestHandle_TransientFailureRetriesThenGivesUp(t *testing.T) {
	cause := &services.AggregationError{AttemptID: uuid.New(), Err: errors.New("deadlock")}
	p, n, queued := newTestPool(&stubReaggregator{err: cause})
	job := newJob()

	p.handle(context.Background(), job)
	require.Len(t, *queued, 1)
	assert.Equal(t, 1, (*queued)[0].job.RetryCount)
	assert.Equal(t, 2*time.Second, (*queued)[0].delay)
	assert.Empty(t, n.events)

	p.handle(context.Background(), job)
	require.Len(t, *queued, 2)
	assert.Equal(t, 4*time.Second, (*queued)[1].delay)

	p.handle(context.Background(), job)
	assert.Len(t, *queued, 2)
	require.Len(t, n.events, 1)
	assert.Equal(t, models.EventReprocessFailed, n.events[0].event)
	assert.Equal(t, 3, job.RetryCount)
}

func TestRun_UnknownJobType(t *testing.T) {
	p, _, _ := newTestPool(&stubReaggregator{})
	job := newJob()
	job.Type = "something-else"

	retry, err := p.run(context.Background(), job)
	assert.False(t, retry)
	assert.Error(t, err)
}
