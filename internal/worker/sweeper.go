package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yuv-man/asd-server/internal/logger"
	"github.com/yuv-man/asd-server/internal/services"
)

const (
	defaultSweepBatch = 100
	// Attempts younger than this may still be inside RecordAttempt.
	defaultSweepGrace = 2 * time.Minute
)

type PendingLister interface {
	ListPendingAttempts(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error)
}

// SweepResult counts what one pass did.
type SweepResult struct {
	Reprocessed int
	Skipped     int
	Failed      int
}

// Sweeper periodically replays attempts whose aggregation never finished,
// for example because the process died between the write and the update.
type Sweeper struct {
	pending      PendingLister
	reaggregator Reaggregator
	log          *logger.Logger
	interval     time.Duration
	grace        time.Duration
	batch        int
	now          func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(pending PendingLister, reaggregator Reaggregator, log *logger.Logger, interval time.Duration) *Sweeper {
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{
		pending:      pending,
		reaggregator: reaggregator,
		log:          log,
		interval:     interval,
		grace:        defaultSweepGrace,
		batch:        defaultSweepBatch,
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}
}

// Start runs a pass right away and then every interval. A non-positive
// interval disables the sweeper.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 || s.pending == nil || s.reaggregator == nil {
		return
	}
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("pending attempt sweeper started", "interval", s.interval.String())
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep replays one batch of stuck attempts.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	ids, err := s.pending.ListPendingAttempts(ctx, s.now().Add(-s.grace), s.batch)
	if err != nil {
		s.log.Error("sweeper: failed to list pending attempts", "error", err)
		return res
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		_, err := s.reaggregator.Reaggregate(ctx, id)
		var conflict *services.ConflictError
		switch {
		case err == nil:
			res.Reprocessed++
		case errors.As(err, &conflict):
			res.Skipped++
		default:
			res.Failed++
			s.log.Warn("sweeper: reprocess failed", "attempt_id", id, "error", err)
		}
	}

	if len(ids) > 0 {
		s.log.Info("sweeper pass finished",
			"reprocessed", res.Reprocessed, "skipped", res.Skipped, "failed", res.Failed)
	}
	return res
}
