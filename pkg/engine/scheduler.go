package engine

import (
	"context"
	"sync"
	"time"

	"github.com/intentx-hq/intentd/pkg/logger"
	"github.com/intentx-hq/intentd/pkg/metrics"
)

// Scheduler periodically sweeps pending intents and drives them through
// execution attempts, oldest first. A sweep in progress is allowed to finish
// its current attempt when the context is cancelled, so no intent is
// abandoned mid-transition.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   logger.Logger
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler sweeping at the given interval.
func NewScheduler(engine *Engine, interval time.Duration, log logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   log,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Wait blocks until the sweep loop has fully stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.logger.InfoWithScope(logger.Scheduler, "Starting scheduler with sweep interval %v", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoWithScope(logger.Scheduler, "Context cancelled, scheduler shutting down")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the pending intents. Exported so tests and the
// startup path can trigger a pass without waiting for the ticker.
func (s *Scheduler) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	pending, err := s.engine.ListPending(ctx)
	if err != nil {
		s.logger.ErrorWithScope(logger.Scheduler, "Error listing pending intents: %v", err)
		return
	}
	metrics.PendingIntents.Set(float64(len(pending)))
	if len(pending) == 0 {
		return
	}

	s.logger.DebugWithScope(logger.Scheduler, "Sweeping %d pending intents", len(pending))
	for _, intent := range pending {
		// A started attempt runs to completion, but no new attempt begins
		// after cancellation.
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Detached from the sweep context: shutdown mid-attempt must not
		// cancel a settlement call whose transaction may already be in
		// flight. The engine bounds the attempt with its own timeouts.
		outcome, err := s.engine.AttemptExecution(context.WithoutCancel(ctx), intent.ID)
		if err != nil {
			// One intent's failure must not starve the rest of the sweep.
			s.logger.ErrorWithScope(logger.Scheduler, "Error executing intent %s: %v", intent.ID, err)
			continue
		}
		s.logger.DebugWithScope(logger.Scheduler, "Intent %s attempt outcome: %s", intent.ID, outcome)
	}
}
