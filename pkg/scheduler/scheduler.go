// Package scheduler implements the bounded worker pool (C3): parallel
// workers, cooperative cancellation, over a fixed-size in-flight budget and
// a bounded FIFO queue. Grounded on a channel-backed worker-pool
// lifecycle (Start/Stop, per-session cancel registry, graceful drain) with
// the DB-polling loop replaced by an in-memory channel, since admission here
// is driven by synchronous Submit calls rather than database polling.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/models"
)

// Task is the unit of work an admitted request runs. ctx carries the
// request's deadline (if any) and is cancelled on CancelQuery.
type Task func(ctx context.Context) (models.Answer, error)

// Outcome is delivered on a Handle's Result channel exactly once.
type Outcome struct {
	Answer models.Answer
	Err    error
}

// Handle is returned synchronously from Submit.
type Handle struct {
	ID       string
	Position int // 0 = dispatched immediately, else 1-indexed FIFO position
	Result   <-chan Outcome
}

type job struct {
	id          string
	deadline    time.Time // zero = no deadline
	task        Task
	resultCh    chan Outcome
	ctx         context.Context
	cancel      context.CancelFunc
	submittedAt time.Time
	reserved    bool // in-flight slot taken at Submit (Position 0)
}

// Scheduler is the production C3 implementation.
type Scheduler struct {
	workerCount   int
	queueCapacity int
	drainTimeout  time.Duration
	log           *slog.Logger

	jobCh chan *job

	mu       sync.Mutex
	inFlight int
	queued   int

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	rejections    atomic.Int64
	cancellations atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool
	draining atomic.Bool
	wg       sync.WaitGroup
}

// New builds a Scheduler and starts its worker goroutines.
func New(workerCount, queueCapacity int, drainTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		workerCount:   workerCount,
		queueCapacity: queueCapacity,
		drainTimeout:  drainTimeout,
		log:           logger,
		jobCh:         make(chan *job, queueCapacity+workerCount),
		cancels:       make(map[string]context.CancelFunc),
		stopCh:        make(chan struct{}),
	}
	for i := 0; i < workerCount; i++ {
		s.wg.Add(1)
		go s.runWorker(i)
	}
	return s
}

// Submit implements the admission contract: immediate dispatch if an
// in-flight slot is free and nothing is ahead in the queue, FIFO enqueue if
// the bounded queue has room, else OverCapacity.
func (s *Scheduler) Submit(ctx context.Context, id string, deadline time.Time, task Task) (*Handle, error) {
	if s.draining.Load() {
		return nil, edgeerr.New(edgeerr.Unhealthy, "scheduler is in a drain state")
	}
	if s.closed.Load() {
		return nil, edgeerr.New(edgeerr.OverCapacity, "scheduler is shutting down")
	}

	s.mu.Lock()
	var position int
	switch {
	case s.inFlight < s.workerCount && s.queued == 0:
		position = 0
		s.inFlight++
	case s.queued < s.queueCapacity:
		s.queued++
		position = s.queued
	default:
		s.mu.Unlock()
		s.rejections.Add(1)
		return nil, edgeerr.New(edgeerr.OverCapacity, "scheduler at capacity")
	}
	s.mu.Unlock()

	jobCtx, cancel := context.WithCancel(ctx)
	s.registerCancel(id, cancel)

	j := &job{
		id:          id,
		deadline:    deadline,
		task:        task,
		resultCh:    make(chan Outcome, 1),
		ctx:         jobCtx,
		cancel:      cancel,
		submittedAt: time.Now(),
		reserved:    position == 0,
	}

	select {
	case s.jobCh <- j:
	default:
		// Can't happen under correct accounting (jobCh has capacity
		// queueCapacity+workerCount and we only ever admit up to
		// workerCount reserved plus queueCapacity queued jobs), but fail
		// safe rather than block forever.
		s.mu.Lock()
		if j.reserved {
			s.inFlight--
		} else {
			s.queued--
		}
		s.mu.Unlock()
		s.unregisterCancel(id)
		cancel()
		s.rejections.Add(1)
		return nil, edgeerr.New(edgeerr.OverCapacity, "scheduler queue full")
	}

	return &Handle{ID: id, Position: position, Result: j.resultCh}, nil
}

// CancelQuery signals cancellation for an in-flight or queued request.
// Returns true if a matching request was found.
func (s *Scheduler) CancelQuery(id string) bool {
	s.cancelMu.Lock()
	cancel, ok := s.cancels[id]
	s.cancelMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	s.cancellations.Add(1)
	return true
}

func (s *Scheduler) registerCancel(id string, cancel context.CancelFunc) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	s.cancels[id] = cancel
}

func (s *Scheduler) unregisterCancel(id string) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	delete(s.cancels, id)
}

func (s *Scheduler) runWorker(workerNum int) {
	defer s.wg.Done()
	log := s.log.With("worker", workerNum)

	for {
		select {
		case <-s.stopCh:
			return
		case j, ok := <-s.jobCh:
			if !ok {
				return
			}
			s.run(log, j)
		}
	}
}

func (s *Scheduler) run(log *slog.Logger, j *job) {
	s.mu.Lock()
	if !j.reserved {
		s.queued--
		s.inFlight++
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
		s.unregisterCancel(j.id)
	}()

	if !j.deadline.IsZero() && time.Now().After(j.deadline) {
		j.cancel()
		j.resultCh <- Outcome{Err: edgeerr.New(edgeerr.Timeout, "request exceeded its deadline while queued")}
		close(j.resultCh)
		return
	}

	answer, err := j.task(j.ctx)
	if err != nil {
		if j.ctx.Err() != nil {
			err = edgeerr.New(edgeerr.Cancelled, "request was cancelled")
		}
		log.Debug("task finished with error", "request_id", j.id, "error", err)
	}
	j.resultCh <- Outcome{Answer: answer, Err: err}
	close(j.resultCh)
}

// Drain puts the scheduler into a state where Submit rejects every new
// request with Unhealthy, without stopping the worker goroutines or
// force-cancelling in-flight work (spec §4.9 restart policy step (a):
// "refuse new admissions"). Reversible via Resume — unlike Shutdown, which
// is terminal.
func (s *Scheduler) Drain() {
	s.draining.Store(true)
}

// Resume reverses Drain, allowing new admissions again.
func (s *Scheduler) Resume() {
	s.draining.Store(false)
}

// Draining reports whether the scheduler is currently refusing admissions.
func (s *Scheduler) Draining() bool {
	return s.draining.Load()
}

// CancelAll signals cancellation for every in-flight or queued request,
// used by the restart policy's "cancel long-running requests" step.
func (s *Scheduler) CancelAll() {
	s.forceCancelAll()
}

// Stats implements stats() → {active, queued, capacity, queue_capacity,
// rejections_total, cancellations_total}.
type Stats struct {
	Active             int
	Queued             int
	Capacity           int
	QueueCapacity      int
	RejectionsTotal    int64
	CancellationsTotal int64
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	active, queued := s.inFlight, s.queued
	s.mu.Unlock()
	return Stats{
		Active:             active,
		Queued:             queued,
		Capacity:           s.workerCount,
		QueueCapacity:      s.queueCapacity,
		RejectionsTotal:    s.rejections.Load(),
		CancellationsTotal: s.cancellations.Load(),
	}
}

// Shutdown stops accepting new work and waits up to drainTimeout for
// in-flight and queued work to finish; anything still outstanding past the
// deadline is cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.closed.Store(true)

	done := make(chan struct{})
	go func() {
		s.drainAndStop()
		close(done)
	}()

	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		s.forceCancelAll()
		<-done
		return fmt.Errorf("scheduler shutdown timed out after %v, remaining work was cancelled", s.drainTimeout)
	case <-ctx.Done():
		s.forceCancelAll()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) drainAndStop() {
	// Let workers finish draining jobCh naturally, then signal them to exit.
	for {
		s.mu.Lock()
		empty := s.inFlight == 0 && s.queued == 0
		s.mu.Unlock()
		if empty {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) forceCancelAll() {
	s.cancelMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, c := range s.cancels {
		cancels = append(cancels, c)
	}
	s.cancelMu.Unlock()
	for _, c := range cancels {
		c()
	}
}
