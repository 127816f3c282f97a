// Package edgeservice wires C1 through C9 into the single facade that
// implements every external operation of spec §6: submit_query,
// cancel_query, get_queue_stats, get_mastery, get_weak_areas,
// get_practice_questions, get_cache_stats, invalidate_cache, install_vkp,
// rollback_vkp, health. Grounded on a service-facade layer, which
// plays the same role: a thin facade translating external requests into
// calls against the underlying components, with no business logic of its
// own beyond wiring and error-kind translation.
package edgeservice

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/edge-tutor/node/pkg/backup"
	"github.com/edge-tutor/node/pkg/cache"
	"github.com/edge-tutor/node/pkg/curriculum"
	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/health"
	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/pedagogy"
	"github.com/edge-tutor/node/pkg/ports"
	"github.com/edge-tutor/node/pkg/rag"
	"github.com/edge-tutor/node/pkg/scheduler"
	"github.com/edge-tutor/node/pkg/telemetry"
	"github.com/edge-tutor/node/pkg/vkp"
)

// Deps collects every component the Service wires together. Populated by
// cmd/edgenode/main.go once at startup.
type Deps struct {
	Scheduler       *scheduler.Scheduler
	Cache           *cache.Cache
	RAG             *rag.Orchestrator
	Store           ports.RelationalStorePort
	Rand            ports.RandomPort
	VKP             *vkp.Manager
	Puller          *curriculum.Puller
	Telemetry       *telemetry.Pipeline
	Backup          *backup.Service
	Health          *health.Monitor
	AdmissionWindow time.Duration  // default per-request queue deadline when Query.Deadline is unset; 0 disables it
	ExitFunc        func(code int) // defaults to os.Exit; overridden in tests
	Log             *slog.Logger
}

// Service is the production facade. One Service per process.
type Service struct {
	sched           *scheduler.Scheduler
	cache           *cache.Cache
	rag             *rag.Orchestrator
	store           ports.RelationalStorePort
	rand            ports.RandomPort
	vkp             *vkp.Manager
	puller          *curriculum.Puller
	telemetry       *telemetry.Pipeline
	backup          *backup.Service
	health          *health.Monitor
	admissionWindow time.Duration
	exitFunc        func(code int)
	log             *slog.Logger
}

// RestartExitCode is the process exit code used when the health monitor
// triggers a restart, distinguishing a deliberate self-restart from a crash
// for whatever process manager restarts this node (spec §4.9).
const RestartExitCode = 77

// New builds a Service from its wired dependencies.
func New(d Deps) *Service {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.ExitFunc == nil {
		d.ExitFunc = os.Exit
	}
	return &Service{
		sched: d.Scheduler, cache: d.Cache, rag: d.RAG, store: d.Store, rand: d.Rand,
		vkp: d.VKP, puller: d.Puller, telemetry: d.Telemetry, backup: d.Backup, health: d.Health,
		admissionWindow: d.AdmissionWindow,
		exitFunc:        d.ExitFunc, log: d.Log,
	}
}

// SubmitQuery implements submit_query: validate, admit to the scheduler, and
// run the RAG pipeline. emit is called with each generated token in order;
// the returned Handle's Result channel carries the trailing {answer,
// confidence, sources, cache_hit, latency_ms, queue_position_on_admit}
// record (spec §6).
func (s *Service) SubmitQuery(ctx context.Context, q models.Query, emit func(token string)) (*scheduler.Handle, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.ID == "" {
		q.ID = s.rand.NewID()
	}
	if q.Deadline.IsZero() && s.admissionWindow > 0 {
		q.Deadline = time.Now().Add(s.admissionWindow)
	}

	start := time.Now()
	task := func(taskCtx context.Context) (models.Answer, error) {
		ans, err := s.rag.Run(taskCtx, q, emit)
		if err == nil {
			ans.LatencyMS = time.Since(start).Milliseconds()
		}
		return ans, err
	}

	h, err := s.sched.Submit(ctx, q.ID, q.Deadline, task)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// CancelQuery implements cancel_query.
func (s *Service) CancelQuery(id string) error {
	if !s.sched.CancelQuery(id) {
		return edgeerr.New(edgeerr.BadRequest, "unknown query id")
	}
	return nil
}

// GetQueueStats implements get_queue_stats.
func (s *Service) GetQueueStats() scheduler.Stats {
	return s.sched.Stats()
}

// GetMastery implements get_mastery.
func (s *Service) GetMastery(ctx context.Context, userID, subjectID string) ([]models.MasteryRecord, error) {
	return s.store.ListMastery(ctx, userID, subjectID)
}

// GetWeakAreas implements get_weak_areas.
func (s *Service) GetWeakAreas(ctx context.Context, userID, subjectID string) ([]models.WeakArea, error) {
	return s.store.ListWeakAreas(ctx, userID, subjectID)
}

// GetPracticeQuestions implements get_practice_questions.
func (s *Service) GetPracticeQuestions(ctx context.Context, userID, subjectID string, limit int) ([]models.PracticeQuestion, error) {
	return pedagogy.SelectPracticeQuestions(ctx, s.store, s.rand, userID, subjectID, limit)
}

// GetCacheStats implements get_cache_stats.
func (s *Service) GetCacheStats() cache.Stats {
	return s.cache.Stats()
}

// InvalidateCache implements invalidate_cache.
func (s *Service) InvalidateCache(ctx context.Context, pattern string) int {
	return s.cache.Invalidate(ctx, pattern)
}

// InstallVKP implements install_vkp.
func (s *Service) InstallVKP(ctx context.Context, subject, grade string, raw []byte) (string, error) {
	return s.vkp.Install(ctx, subject, grade, raw)
}

// RollbackVKP implements rollback_vkp.
func (s *Service) RollbackVKP(ctx context.Context, subject, grade string) (string, error) {
	return s.vkp.Rollback(ctx, subject, grade)
}

// Health implements health: forces a fresh check rather than serving a
// possibly-stale cached Snapshot, since an operator calling health wants the
// current state.
func (s *Service) Health(ctx context.Context) health.Snapshot {
	return s.health.Check(ctx)
}

// Trigger implements health.RestartPolicy (spec §4.9): refuse new
// admissions, cancel in-flight requests, flush the telemetry and backup
// queues, then exit with RestartExitCode so the process manager restarts a
// clean node.
func (s *Service) Trigger(ctx context.Context, component, reason string) {
	s.log.Error("health monitor triggered restart policy", "component", component, "reason", reason)

	s.sched.Drain()
	s.sched.CancelAll()

	if s.telemetry != nil {
		if _, err := s.telemetry.Tick(ctx); err != nil {
			s.log.Error("restart policy: final telemetry flush failed", "error", err)
		}
	}
	if s.backup != nil {
		s.backup.Stop()
	}

	s.exitFunc(RestartExitCode)
}
