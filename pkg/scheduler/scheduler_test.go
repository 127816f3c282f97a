package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/models"
)

func blockingTask(release <-chan struct{}) Task {
	return func(ctx context.Context) (models.Answer, error) {
		select {
		case <-release:
			return models.Answer{Text: "done"}, nil
		case <-ctx.Done():
			return models.Answer{}, ctx.Err()
		}
	}
}

func TestSubmit_DispatchesImmediatelyWhenWorkerFree(t *testing.T) {
	s := New(2, 4, time.Second, nil)
	defer s.Shutdown(context.Background())

	release := make(chan struct{})
	h, err := s.Submit(context.Background(), "r1", time.Time{}, blockingTask(release))
	require.NoError(t, err)
	assert.Equal(t, 0, h.Position)
	close(release)
	out := <-h.Result
	assert.NoError(t, out.Err)
	assert.Equal(t, "done", out.Answer.Text)
}

func TestSubmit_QueuesWithFIFOPositionWhenWorkersBusy(t *testing.T) {
	s := New(1, 4, time.Second, nil)
	defer s.Shutdown(context.Background())

	release := make(chan struct{})
	h1, err := s.Submit(context.Background(), "busy", time.Time{}, blockingTask(release))
	require.NoError(t, err)
	assert.Equal(t, 0, h1.Position)

	h2, err := s.Submit(context.Background(), "queued", time.Time{}, blockingTask(release))
	require.NoError(t, err)
	assert.Equal(t, 1, h2.Position)

	close(release)
	<-h1.Result
	<-h2.Result
}

func TestSubmit_RejectsOverCapacity(t *testing.T) {
	s := New(1, 1, time.Second, nil)
	defer s.Shutdown(context.Background())

	release := make(chan struct{})
	defer close(release)

	_, err := s.Submit(context.Background(), "w", time.Time{}, blockingTask(release))
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "q", time.Time{}, blockingTask(release))
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), "overflow", time.Time{}, blockingTask(release))
	require.Error(t, err)
	assert.Equal(t, edgeerr.OverCapacity, edgeerr.KindOf(err))

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.RejectionsTotal)
}

func TestCancelQuery_CancelsRunningTask(t *testing.T) {
	s := New(1, 1, time.Second, nil)
	defer s.Shutdown(context.Background())

	started := make(chan struct{})
	task := func(ctx context.Context) (models.Answer, error) {
		close(started)
		<-ctx.Done()
		return models.Answer{}, ctx.Err()
	}

	h, err := s.Submit(context.Background(), "cancel-me", time.Time{}, task)
	require.NoError(t, err)
	<-started

	ok := s.CancelQuery("cancel-me")
	assert.True(t, ok)

	out := <-h.Result
	require.Error(t, out.Err)
	assert.Equal(t, edgeerr.Cancelled, edgeerr.KindOf(out.Err))
	assert.Equal(t, int64(1), s.Stats().CancellationsTotal)
}

func TestCancelQuery_UnknownIDReturnsFalse(t *testing.T) {
	s := New(1, 1, time.Second, nil)
	defer s.Shutdown(context.Background())
	assert.False(t, s.CancelQuery("nope"))
}

func TestSubmit_DeadlineExceededWhileQueuedRejectsWithTimeout(t *testing.T) {
	s := New(1, 1, time.Second, nil)
	defer s.Shutdown(context.Background())

	release := make(chan struct{})
	defer close(release)

	_, err := s.Submit(context.Background(), "busy", time.Time{}, blockingTask(release))
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	noop := func(ctx context.Context) (models.Answer, error) { return models.Answer{}, nil }
	h, err := s.Submit(context.Background(), "late", past, noop)
	require.NoError(t, err)

	close(release)
	out := <-h.Result
	require.Error(t, out.Err)
	assert.Equal(t, edgeerr.Timeout, edgeerr.KindOf(out.Err))
}

func TestStats_ReflectsActiveAndQueuedCounts(t *testing.T) {
	s := New(1, 2, time.Second, nil)
	defer s.Shutdown(context.Background())

	release := make(chan struct{})
	defer close(release)

	_, err := s.Submit(context.Background(), "a", time.Time{}, blockingTask(release))
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "b", time.Time{}, blockingTask(release))
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 1, stats.Capacity)
	assert.Equal(t, 2, stats.QueueCapacity)
}

func TestDrain_RejectsNewAdmissionsWithUnhealthy(t *testing.T) {
	s := New(1, 1, time.Second, nil)
	defer s.Shutdown(context.Background())

	s.Drain()
	assert.True(t, s.Draining())

	_, err := s.Submit(context.Background(), "blocked", time.Time{}, func(ctx context.Context) (models.Answer, error) {
		return models.Answer{}, nil
	})
	require.Error(t, err)
	assert.Equal(t, edgeerr.Unhealthy, edgeerr.KindOf(err))

	s.Resume()
	assert.False(t, s.Draining())

	h, err := s.Submit(context.Background(), "ok", time.Time{}, func(ctx context.Context) (models.Answer, error) {
		return models.Answer{Text: "ok"}, nil
	})
	require.NoError(t, err)
	out := <-h.Result
	assert.NoError(t, out.Err)
}

func TestCancelAll_CancelsEveryInFlightRequest(t *testing.T) {
	s := New(2, 2, time.Second, nil)
	defer s.Shutdown(context.Background())

	started := make(chan struct{}, 2)
	task := func(ctx context.Context) (models.Answer, error) {
		started <- struct{}{}
		<-ctx.Done()
		return models.Answer{}, ctx.Err()
	}

	h1, err := s.Submit(context.Background(), "a", time.Time{}, task)
	require.NoError(t, err)
	h2, err := s.Submit(context.Background(), "b", time.Time{}, task)
	require.NoError(t, err)
	<-started
	<-started

	s.CancelAll()

	out1 := <-h1.Result
	out2 := <-h2.Result
	assert.Equal(t, edgeerr.Cancelled, edgeerr.KindOf(out1.Err))
	assert.Equal(t, edgeerr.Cancelled, edgeerr.KindOf(out2.Err))
}

func TestShutdown_WaitsForInFlightWorkToDrain(t *testing.T) {
	s := New(1, 1, 2*time.Second, nil)

	var ran bool
	var mu sync.Mutex
	release := make(chan struct{})
	task := func(ctx context.Context) (models.Answer, error) {
		<-release
		mu.Lock()
		ran = true
		mu.Unlock()
		return models.Answer{}, nil
	}
	_, err := s.Submit(context.Background(), "drain-me", time.Time{}, task)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(context.Background()) }()

	close(release)
	err = <-done
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, ran)
}
