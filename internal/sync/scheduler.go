package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nhle/crm-mailsync/internal/model"
)

// DefaultTick is how often the scheduler looks for due targets.
const DefaultTick = time.Minute

// Runner executes one sync run.
type Runner interface {
	RunSync(ctx context.Context, targetID string) (*model.SyncRun, error)
}

// TargetLister lists the targets eligible for scheduling.
type TargetLister interface {
	ListActiveTargets(ctx context.Context) ([]model.SyncTarget, error)
}

// Scheduler periodically launches runs for active targets whose sync
// interval has elapsed, with at most a fixed number running at once.
type Scheduler struct {
	targets TargetLister
	runner  Runner
	tick    time.Duration
	sem     *semaphore.Weighted
	logger  *zap.Logger

	mu          gosync.Mutex
	lastAttempt map[string]time.Time
	now         func() time.Time

	wg gosync.WaitGroup
}

// NewScheduler creates a Scheduler running at most concurrency syncs at a
// time.
func NewScheduler(targets TargetLister, runner Runner, tick time.Duration, concurrency int, logger *zap.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		targets:     targets,
		runner:      runner,
		tick:        tick,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		logger:      logger.Named("scheduler"),
		lastAttempt: make(map[string]time.Time),
		now:         time.Now,
	}
}

// Run ticks until ctx is done, then waits for launched runs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("tick", s.tick))

	// Do an initial pass immediately
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick launches a run for every due target while capacity remains and
// returns how many were launched. Targets left over for lack of capacity
// are picked up by a later tick.
func (s *Scheduler) Tick(ctx context.Context) int {
	targets, err := s.targets.ListActiveTargets(ctx)
	if err != nil {
		s.logger.Error("listing targets", zap.Error(err))
		return 0
	}

	launched := 0
	now := s.now()
	for _, t := range targets {
		if !s.due(t, now) {
			continue
		}
		if !s.sem.TryAcquire(1) {
			s.logger.Debug("at capacity, deferring", zap.String("target_id", t.ID))
			break
		}
		s.markAttempt(t.ID, now)
		launched++

		s.wg.Add(1)
		go func(targetID string) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.runOne(ctx, targetID)
		}(t.ID)
	}
	return launched
}

// Wait blocks until every launched run has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, targetID string) {
	run, err := s.runner.RunSync(ctx, targetID)
	switch {
	case errors.Is(err, model.ErrAlreadyRunning):
		s.logger.Debug("sync already running", zap.String("target_id", targetID))
	case err != nil:
		s.logger.Error("sync", zap.String("target_id", targetID), zap.Error(err))
	case run != nil && run.Status == model.RunFailed:
		s.logger.Warn("sync failed", zap.String("target_id", targetID), zap.String("error", run.Error))
	}
}

// due reports whether the target's interval has elapsed since this
// scheduler last launched it. Every target is due once after startup.
func (s *Scheduler) due(t model.SyncTarget, now time.Time) bool {
	s.mu.Lock()
	last, ok := s.lastAttempt[t.ID]
	s.mu.Unlock()

	if !ok {
		return true
	}
	return !now.Before(last.Add(t.Interval()))
}

func (s *Scheduler) markAttempt(targetID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAttempt[targetID] = at
}
