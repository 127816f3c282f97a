// Package telemetry implements the telemetry pipeline (C8): a bounded
// in-memory event buffer, hourly aggregation, anonymization, a PII scrubber,
// and a restart-safe upload queue. Grounded on an SSE event-bus ring-buffer
// pkg/cleanup.Service ticker-loop shape (see pkg/curriculum, which shares
// it) generalized from a retention sweep to an aggregate-scrub-enqueue-push
// cycle.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
)

// DefaultUploadInterval is the aggregation tick period (spec §4.8: "default:
// hourly").
const DefaultUploadInterval = time.Hour

// DefaultQueuePrefix namespaces the upload queue within the local queue
// store.
const DefaultQueuePrefix = "telemetry/pending/"

// DefaultHighWaterMark bounds how many summaries queue up during an
// extended outage before the oldest are culled locally (spec §4.8 step 6).
const DefaultHighWaterMark = 24 * 30 // a month of hourly summaries

// QueueStore is the local, always-available upload queue: ports.BlobStorePort
// plus Delete, so pushed (or culled) entries can be removed. Not part of
// ports.BlobStorePort itself since most BlobStorePort callers only ever
// list/get/put; this queue is the one caller that also needs to retire
// entries (mirrors pkg/vkp.VectorStore's extension of VectorStorePort).
type QueueStore interface {
	ports.BlobStorePort
	Delete(ctx context.Context, key string) error
}

// StorageProbe reports current on-disk usage per named store (e.g.
// "relational", "vector"), sampled once per aggregation tick.
type StorageProbe func(ctx context.Context) (map[string]int64, error)

// Config configures a Pipeline. Zero values fall back to package defaults.
type Config struct {
	RingCapacity   int
	UploadInterval time.Duration
	QueuePrefix    string
	HighWaterMark  int
	SchoolID       string
	Salt           string
	SovereignMode  bool // spec §6 sovereign_mode: disables C8 push, C8 aggregation still runs locally
}

// Pipeline is the production C8 implementation.
type Pipeline struct {
	ring     *ring
	scrubber *Scrubber
	queue    QueueStore
	remote   ports.BlobStorePort // nil disables push (no cloud configured, or SovereignMode)
	clock    ports.ClockPort
	probe    StorageProbe
	cfg      Config
	log      *slog.Logger

	mu            sync.Mutex
	jobSummaries  map[string]JobSummary
	rejectedCount int64
	seq           int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Pipeline. remote and probe may both be nil.
func New(queue QueueStore, remote ports.BlobStorePort, clock ports.ClockPort, probe StorageProbe, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UploadInterval <= 0 {
		cfg.UploadInterval = DefaultUploadInterval
	}
	if cfg.QueuePrefix == "" {
		cfg.QueuePrefix = DefaultQueuePrefix
	}
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = DefaultHighWaterMark
	}
	return &Pipeline{
		ring:         newRing(cfg.RingCapacity),
		scrubber:     NewScrubber(),
		queue:        queue,
		remote:       remote,
		clock:        clock,
		probe:        probe,
		cfg:          cfg,
		log:          logger,
		jobSummaries: make(map[string]JobSummary),
	}
}

// Record enqueues one TelemetryEvent. Non-blocking: the ring buffer
// overwrites its oldest entry on overflow rather than applying back-pressure
// to the caller (spec §4.8: "Telemetry MUST NOT block request serving").
func (p *Pipeline) Record(event models.TelemetryEvent) {
	p.ring.push(event)
}

// RecordJobSummary implements curriculum.JobRecorder (and is reused by the
// backup/health jobs): accumulates a background job's per-tick counters
// until the next aggregation tick drains them into a Summary.
func (p *Pipeline) RecordJobSummary(job string, checks, updatesApplied, failures int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	js := p.jobSummaries[job]
	js.Checks += checks
	js.UpdatesApplied += updatesApplied
	js.Failures += failures
	p.jobSummaries[job] = js
}

// RejectedCount returns the number of summaries dropped by the PII scrubber
// since startup.
func (p *Pipeline) RejectedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejectedCount
}

// Tick runs one aggregation cycle (spec §4.8 steps 1-6): snapshot+reset the
// ring buffer, aggregate, anonymize, scrub, enqueue, then attempt to push
// the whole backlog (including entries left over from prior failed ticks).
func (p *Pipeline) Tick(ctx context.Context) (Summary, error) {
	events, overflow := p.ring.snapshot()

	var storageUsage map[string]int64
	if p.probe != nil {
		usage, err := p.probe(ctx)
		if err != nil {
			p.log.Warn("telemetry: storage usage probe failed", "error", err)
		} else {
			storageUsage = usage
		}
	}

	jobs := p.drainJobSummaries()
	schoolHash := HashSchoolID(p.cfg.SchoolID, p.cfg.Salt)
	summary := aggregate(p.clock.Now(), events, overflow, storageUsage, jobs, schoolHash)

	payload, err := json.Marshal(summary)
	if err != nil {
		return summary, edgeerr.Wrap(edgeerr.Internal, "marshaling telemetry summary", err)
	}

	if match := p.scrubber.Scan(payload); match != "" {
		p.mu.Lock()
		p.rejectedCount++
		p.mu.Unlock()
		p.log.Warn("telemetry summary rejected by PII scrubber, dropping payload without logging contents", "pattern", match)
	} else if err := p.queue.Put(ctx, p.queueKey(summary.HourBucket), payload); err != nil {
		p.log.Error("telemetry: failed to enqueue summary", "error", err)
	}

	p.enforceHighWaterMark(ctx)

	if p.cfg.SovereignMode || p.remote == nil {
		return summary, nil
	}
	p.pushQueued(ctx)
	return summary, nil
}

func (p *Pipeline) drainJobSummaries() map[string]JobSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.jobSummaries
	p.jobSummaries = make(map[string]JobSummary)
	return out
}

func (p *Pipeline) queueKey(hourBucket time.Time) string {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()
	return fmt.Sprintf("%s%d-%d.json", p.cfg.QueuePrefix, hourBucket.Unix(), seq)
}

// pushQueued attempts to deliver every queued entry via remote, oldest
// first. A per-entry failure leaves that entry queued for the next tick and
// does not block delivery of the rest of the backlog (spec §4.8 step 6).
func (p *Pipeline) pushQueued(ctx context.Context) {
	objects, err := p.queue.List(ctx, p.cfg.QueuePrefix)
	if err != nil {
		p.log.Warn("telemetry: could not list upload queue, will retry next tick", "error", err)
		return
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	for _, obj := range objects {
		data, _, err := p.queue.Get(ctx, obj.Key)
		if err != nil {
			p.log.Error("telemetry: failed to read queued entry", "key", obj.Key, "error", err)
			continue
		}
		if err := p.remote.Put(ctx, obj.Key, data); err != nil {
			p.log.Warn("telemetry: push failed, leaving entry queued", "key", obj.Key, "error", err)
			continue
		}
		if err := p.queue.Delete(ctx, obj.Key); err != nil {
			p.log.Error("telemetry: failed to remove pushed entry from queue", "key", obj.Key, "error", err)
		}
	}
}

// enforceHighWaterMark culls the oldest queued entries once the backlog
// exceeds cfg.HighWaterMark (spec §4.8 step 6: "a high-water mark triggers
// local-only culling of oldest entries with a warning").
func (p *Pipeline) enforceHighWaterMark(ctx context.Context) {
	objects, err := p.queue.List(ctx, p.cfg.QueuePrefix)
	if err != nil || len(objects) <= p.cfg.HighWaterMark {
		return
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	excess := len(objects) - p.cfg.HighWaterMark
	for _, obj := range objects[:excess] {
		if err := p.queue.Delete(ctx, obj.Key); err != nil {
			p.log.Error("telemetry: failed to cull overflowing queue entry", "key", obj.Key, "error", err)
			continue
		}
		p.log.Warn("telemetry: upload queue over high-water mark, culled oldest entry", "key", obj.Key)
	}
}

// Start launches the background aggregation loop (mirrors pkg/curriculum.Puller,
// itself grounded on the same retention-sweep ticker loop as backup/health).
func (p *Pipeline) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx)
	p.log.Info("telemetry pipeline started", "interval", p.cfg.UploadInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (p *Pipeline) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.log.Info("telemetry pipeline stopped")
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.UploadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil {
				p.log.Error("telemetry: aggregation tick failed", "error", err)
			}
		}
	}
}
