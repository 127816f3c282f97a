// Package backup implements the backup half of C9: cron-scheduled snapshots
// of the relational and vector stores, written to a blob store with bounded
// retention. Grounded on the same retention-sweep ticker-loop shape as
// generalized from a single interval to full/incremental cron schedules
// (github.com/robfig/cron/v3, the scheduling library the rest of the
// retrieved corpus reaches for).
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/ports"
)

// DefaultFullSchedule and DefaultIncrementalSchedule are standard 5-field
// cron expressions (spec §6: "backup_full_schedule, backup_incremental_schedule:
// cron-like").
const (
	DefaultFullSchedule        = "0 3 * * 0" // Sunday 03:00
	DefaultIncrementalSchedule = "0 3 * * *" // daily 03:00
	DefaultRetentionDays       = 28
	DefaultPrefix              = "backup/"
)

// RelationalSnapshotSource is the subset of the relational store the backup
// job depends on, beyond the base ports.RelationalStorePort: a full-table
// export for weekly snapshots, and a chat-history-since export for daily
// incrementals (spec §4.9: "incremental = delta of the chat-history table
// since last full").
type RelationalSnapshotSource interface {
	ports.RelationalStorePort
	ExportFull(ctx context.Context) ([]byte, error)
	ExportChatHistorySince(ctx context.Context, since time.Time) ([]byte, error)
}

// VectorSnapshotSource is the subset of the vector store the backup job
// depends on, beyond the base ports.VectorStorePort.
type VectorSnapshotSource interface {
	ports.VectorStorePort
	SnapshotAll(ctx context.Context) ([]byte, error)
}

// JobRecorder receives a background job's per-run summary counters. Shared
// shape with curriculum.JobRecorder/telemetry.Pipeline.RecordJobSummary so a
// single telemetry.Pipeline instance can serve every background job.
type JobRecorder interface {
	RecordJobSummary(job string, checks, updatesApplied, failures int)
}

// Config configures a Service. Zero values fall back to package defaults.
type Config struct {
	FullSchedule        string
	IncrementalSchedule string
	RetentionDays       int
	Prefix              string
}

// Service is the production backup job.
type Service struct {
	relational RelationalSnapshotSource
	vector     VectorSnapshotSource
	blob       ports.BlobStorePort
	clock      ports.ClockPort
	recorder   JobRecorder
	cfg        Config
	log        *slog.Logger
	cron       *cron.Cron

	mu       sync.Mutex
	lastFull time.Time
}

// New builds a Service. recorder may be nil.
func New(relational RelationalSnapshotSource, vector VectorSnapshotSource, blob ports.BlobStorePort, clock ports.ClockPort, cfg Config, recorder JobRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FullSchedule == "" {
		cfg.FullSchedule = DefaultFullSchedule
	}
	if cfg.IncrementalSchedule == "" {
		cfg.IncrementalSchedule = DefaultIncrementalSchedule
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Service{relational: relational, vector: vector, blob: blob, clock: clock, recorder: recorder, cfg: cfg, log: logger}
}

// Start schedules the full and incremental jobs and begins running them.
// Snapshot operations run on cron's own goroutines and never touch the
// inference worker pool (spec §4.9: "MUST NOT block the scheduler").
func (s *Service) Start(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.FullSchedule, func() { s.RunFull(ctx) }); err != nil {
		return edgeerr.Wrap(edgeerr.Internal, "scheduling full backup", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.IncrementalSchedule, func() { s.RunIncremental(ctx) }); err != nil {
		return edgeerr.Wrap(edgeerr.Internal, "scheduling incremental backup", err)
	}
	s.cron.Start()
	s.log.Info("backup service started", "full_schedule", s.cfg.FullSchedule, "incremental_schedule", s.cfg.IncrementalSchedule)
	return nil
}

// Stop waits for any in-flight job to finish, then halts scheduling.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("backup service stopped")
}

// RunFull snapshots the full relational and vector store state.
func (s *Service) RunFull(ctx context.Context) {
	now := s.clock.Now()
	checks, applied, failures := 2, 0, 0

	relData, err := s.relational.ExportFull(ctx)
	if err != nil {
		s.log.Error("backup: full relational export failed", "error", err)
		failures++
	} else if err := s.blob.Put(ctx, key(s.cfg.Prefix, "full", "relational", now), relData); err != nil {
		s.log.Error("backup: writing full relational snapshot failed", "error", err)
		failures++
	} else {
		applied++
	}

	vecData, err := s.vector.SnapshotAll(ctx)
	if err != nil {
		s.log.Error("backup: full vector export failed", "error", err)
		failures++
	} else if err := s.blob.Put(ctx, key(s.cfg.Prefix, "full", "vector", now), vecData); err != nil {
		s.log.Error("backup: writing full vector snapshot failed", "error", err)
		failures++
	} else {
		applied++
	}

	s.mu.Lock()
	s.lastFull = now
	s.mu.Unlock()

	s.enforceRetention(ctx, now)
	if s.recorder != nil {
		s.recorder.RecordJobSummary("backup_full", checks, applied, failures)
	}
}

// RunIncremental snapshots chat_history rows created since the last full
// backup (or since the epoch, if no full backup has run yet this process).
func (s *Service) RunIncremental(ctx context.Context) {
	now := s.clock.Now()
	s.mu.Lock()
	since := s.lastFull
	s.mu.Unlock()

	checks, applied, failures := 1, 0, 0
	data, err := s.relational.ExportChatHistorySince(ctx, since)
	if err != nil {
		s.log.Error("backup: incremental chat-history export failed", "error", err)
		failures++
	} else if err := s.blob.Put(ctx, key(s.cfg.Prefix, "incremental", "chat_history", now), data); err != nil {
		s.log.Error("backup: writing incremental snapshot failed", "error", err)
		failures++
	} else {
		applied++
	}

	s.enforceRetention(ctx, now)
	if s.recorder != nil {
		s.recorder.RecordJobSummary("backup_incremental", checks, applied, failures)
	}
}

// enforceRetention deletes snapshots older than cfg.RetentionDays. The base
// ports.BlobStorePort has no delete primitive, so this is a no-op unless the
// configured store also implements Delete (fsblob.Store does, for the local
// deployment).
func (s *Service) enforceRetention(ctx context.Context, now time.Time) {
	deleter, ok := s.blob.(interface {
		Delete(ctx context.Context, key string) error
	})
	if !ok {
		return
	}
	objects, err := s.blob.List(ctx, s.cfg.Prefix)
	if err != nil {
		s.log.Warn("backup: could not list snapshots for retention sweep", "error", err)
		return
	}
	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)
	for _, obj := range objects {
		ts, ok := parseKeyTimestamp(obj.Key)
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if err := deleter.Delete(ctx, obj.Key); err != nil {
			s.log.Error("backup: failed to delete expired snapshot", "key", obj.Key, "error", err)
			continue
		}
		s.log.Info("backup: deleted expired snapshot", "key", obj.Key, "age_days", int(now.Sub(ts).Hours()/24))
	}
}

// key builds "<prefix><kind>/<component>-<unixNano>.json".
func key(prefix, kind, component string, at time.Time) string {
	return fmt.Sprintf("%s%s/%s-%d.json", prefix, kind, component, at.UnixNano())
}

// parseKeyTimestamp extracts the UnixNano timestamp embedded by key().
func parseKeyTimestamp(objKey string) (time.Time, bool) {
	base := objKey[strings.LastIndex(objKey, "/")+1:]
	base = strings.TrimSuffix(base, ".json")
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(base[idx+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
