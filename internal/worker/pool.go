package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yuv-man/asd-server/internal/logger"
	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/services"
)

const (
	ReprocessQueue    = "queue:attempt-reprocess"
	DefaultMaxRetries = 3
	popTimeout        = 5 * time.Second
	jobLockTTL        = 2 * time.Minute
)

// Reaggregator replays one stored attempt into the aggregates.
type Reaggregator interface {
	Reaggregate(ctx context.Context, attemptID uuid.UUID) (*models.Attempt, error)
}

// Queue enqueues reprocess jobs for the Pool.
type Queue struct {
	redis *redis.Client
}

func NewQueue(redisClient *redis.Client) *Queue {
	return &Queue{redis: redisClient}
}

// Enqueue pushes an attempt-reprocess job for attemptID.
func (q *Queue) Enqueue(ctx context.Context, userID, attemptID uuid.UUID) (*models.Job, error) {
	job := &models.Job{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        models.JobTypeAttemptReprocess,
		ReferenceID: attemptID,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   time.Now(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	if err := q.redis.RPush(ctx, ReprocessQueue, data).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// Pool drains the reprocess queue with a fixed number of goroutines.
type Pool struct {
	redis        *redis.Client
	reaggregator Reaggregator
	notifier     services.Notifier
	log          *logger.Logger
	workerCount  int

	requeue func(job *models.Job, delay time.Duration)
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewPool(redisClient *redis.Client, reaggregator Reaggregator, notifier services.Notifier, log *logger.Logger, workerCount int) *Pool {
	if log == nil {
		log = logger.Nop()
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	p := &Pool{
		redis:        redisClient,
		reaggregator: reaggregator,
		notifier:     notifier,
		log:          log,
		workerCount:  workerCount,
		stop:         make(chan struct{}),
	}
	p.requeue = p.requeueLater
	return p
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info("started workers", "count", p.workerCount, "queue", ReprocessQueue)
}

// Stop signals the workers and waits for in-flight jobs. A worker blocked in
// BLPOP returns within popTimeout.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.log.Debug("worker shutting down", "worker", id)
			return
		case <-ctx.Done():
			return
		default:
		}

		result, err := p.redis.BLPop(ctx, popTimeout, ReprocessQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				p.log.Warn("queue read failed", "worker", id, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			p.log.Error("failed to parse job", "worker", id, "error", err)
			continue
		}

		lockKey := "job_lock:" + job.ID.String()
		locked, err := p.redis.SetNX(ctx, lockKey, "1", jobLockTTL).Result()
		if err != nil || !locked {
			continue
		}

		p.log.Info("processing job", "worker", id, "job_id", job.ID, "attempt_id", job.ReferenceID, "retry", job.RetryCount)
		p.handle(ctx, &job)

		p.redis.Del(ctx, lockKey)
	}
}

// run executes job once and reports whether a failure is worth retrying.
func (p *Pool) run(ctx context.Context, job *models.Job) (retry bool, err error) {
	if job.Type != models.JobTypeAttemptReprocess {
		return false, fmt.Errorf("unknown job type: %s", job.Type)
	}

	_, err = p.reaggregator.Reaggregate(ctx, job.ReferenceID)
	if err == nil {
		return false, nil
	}

	var conflict *services.ConflictError
	if errors.As(err, &conflict) {
		// Someone else already applied it; the goal is met.
		return false, nil
	}
	var notFound *services.NotFoundError
	if errors.As(err, &notFound) {
		return false, err
	}

	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return job.RetryCount+1 < maxRetries, err
}

func (p *Pool) handle(ctx context.Context, job *models.Job) {
	retry, err := p.run(ctx, job)
	if err == nil {
		p.publish(ctx, job, models.EventReprocessCompleted, "")
		p.log.Info("job completed", "job_id", job.ID, "attempt_id", job.ReferenceID)
		return
	}

	job.RetryCount++
	if retry {
		delay := backoff(job.RetryCount)
		p.log.Warn("job failed, retrying", "job_id", job.ID, "retry", job.RetryCount, "delay", delay, "error", err)
		p.requeue(job, delay)
		return
	}

	p.log.Error("job failed permanently", "job_id", job.ID, "attempt_id", job.ReferenceID, "error", err)
	p.publish(ctx, job, models.EventReprocessFailed, err.Error())
}

func backoff(retry int) time.Duration {
	return time.Duration(1<<uint(retry)) * time.Second
}

func (p *Pool) requeueLater(job *models.Job, delay time.Duration) {
	data, err := json.Marshal(job)
	if err != nil {
		p.log.Error("failed to encode job for retry", "job_id", job.ID, "error", err)
		return
	}
	time.AfterFunc(delay, func() {
		if err := p.redis.RPush(context.Background(), ReprocessQueue, data).Err(); err != nil {
			p.log.Error("failed to requeue job", "job_id", job.ID, "error", err)
		}
	})
}

func (p *Pool) publish(ctx context.Context, job *models.Job, event, errMsg string) {
	if p.notifier == nil || job.UserID == uuid.Nil {
		return
	}
	payload := models.ReprocessEvent{JobID: job.ID, AttemptID: job.ReferenceID, ErrorMessage: errMsg}
	if err := p.notifier.Publish(ctx, job.UserID, event, payload); err != nil {
		p.log.Warn("failed to publish job result", "job_id", job.ID, "event", event, "error", err)
	}
}
