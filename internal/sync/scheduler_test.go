package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/crm-mailsync/internal/model"
)

type staticTargets struct {
	targets []model.SyncTarget
	err     error
}

func (s *staticTargets) ListActiveTargets(context.Context) ([]model.SyncTarget, error) {
	return s.targets, s.err
}

type recordingRunner struct {
	mu    gosync.Mutex
	calls []string
	gate  chan struct{}
	err   error
}

func (r *recordingRunner) RunSync(ctx context.Context, targetID string) (*model.SyncRun, error) {
	r.mu.Lock()
	r.calls = append(r.calls, targetID)
	r.mu.Unlock()

	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	return &model.SyncRun{TargetID: targetID, Status: model.RunSuccess}, nil
}

func (r *recordingRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestScheduler(targets []model.SyncTarget, runner Runner, concurrency int) (*Scheduler, *time.Time) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewScheduler(&staticTargets{targets: targets}, runner, time.Minute, concurrency, nil)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestTickLaunchesDueTargets(t *testing.T) {
	runner := &recordingRunner{}
	targets := []model.SyncTarget{
		{ID: "a", SyncIntervalMin: 15},
		{ID: "b", SyncIntervalMin: 5},
	}
	s, now := newTestScheduler(targets, runner, 4)
	ctx := context.Background()

	assert.Equal(t, 2, s.Tick(ctx))
	s.Wait()
	assert.ElementsMatch(t, []string{"a", "b"}, runner.Calls())

	// Nothing is due right after a launch.
	assert.Equal(t, 0, s.Tick(ctx))

	*now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, s.Tick(ctx))
	s.Wait()

	*now = now.Add(10 * time.Minute)
	assert.Equal(t, 2, s.Tick(ctx))
	s.Wait()
	assert.Len(t, runner.Calls(), 5)
}

func TestTickRespectsConcurrency(t *testing.T) {
	runner := &recordingRunner{gate: make(chan struct{})}
	targets := []model.SyncTarget{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	s, _ := newTestScheduler(targets, runner, 2)
	ctx := context.Background()

	assert.Equal(t, 2, s.Tick(ctx))
	assert.Equal(t, 0, s.Tick(ctx))

	close(runner.gate)
	s.Wait()

	// The deferred target is launched once capacity frees up.
	assert.Equal(t, 1, s.Tick(ctx))
	s.Wait()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, runner.Calls())
}

func TestTickToleratesRunnerErrors(t *testing.T) {
	runner := &recordingRunner{err: model.ErrAlreadyRunning}
	s, _ := newTestScheduler([]model.SyncTarget{{ID: "a"}}, runner, 1)

	assert.Equal(t, 1, s.Tick(context.Background()))
	s.Wait()
	assert.Equal(t, []string{"a"}, runner.Calls())
}

func TestTickListFailure(t *testing.T) {
	runner := &recordingRunner{}
	s := NewScheduler(&staticTargets{err: errors.New("db down")}, runner, time.Minute, 1, nil)

	assert.Equal(t, 0, s.Tick(context.Background()))
	assert.Empty(t, runner.Calls())
}

func TestRunStopsOnCancel(t *testing.T) {
	runner := &recordingRunner{}
	s, _ := newTestScheduler([]model.SyncTarget{{ID: "a"}}, runner, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(runner.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
