// Package rag implements the orchestrator (C4): cache probe, retrieval,
// prompt assembly, token streaming, and the persistence side-effects of a
// completed answer. Grounded on an agent controller's stream
// collection idiom (drain a chunk channel, accumulate text, deliver deltas
// through a callback) generalized from gRPC agent chunks to the LlmPort's
// TokenChunk stream.
package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/edge-tutor/node/pkg/cache"
	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/pedagogy"
	"github.com/edge-tutor/node/pkg/ports"
)

// VersionLookup resolves the currently active VKP version for a subject, so
// the cache key and the retrieved context always line up with the version
// C6 currently exposes.
type VersionLookup interface {
	ActiveVersion(subject string) string
}

// TelemetryRecorder receives one TelemetryEvent per completed request,
// hit or miss, success or failure (spec §4.4 step 7, §4.8). Implementations
// must never block request serving.
type TelemetryRecorder interface {
	Record(event models.TelemetryEvent)
}

// Config holds the orchestrator's tunables (spec §5 "resource ceilings").
type Config struct {
	TopK               int
	MaxPromptChars     int
	MaxGeneratedTokens int
	SystemDirectives   string
}

// DefaultConfig mirrors spec §4.4's stated defaults (k=5) plus a
// conservative prompt/token ceiling for an on-device LLM context window.
func DefaultConfig() Config {
	return Config{
		TopK:               5,
		MaxPromptChars:     8000,
		MaxGeneratedTokens: 1024,
		SystemDirectives:   DefaultSystemDirectives,
	}
}

// Orchestrator is the production C4 implementation.
type Orchestrator struct {
	cache    *cache.Cache
	vector   ports.VectorStorePort
	embedder ports.EmbedderPort
	llm      ports.LlmPort
	store     ports.RelationalStorePort
	tracker   *pedagogy.Tracker
	versions  VersionLookup
	telemetry TelemetryRecorder
	clock     ports.ClockPort
	rand     ports.RandomPort
	log      *slog.Logger
	cfg      Config
}

func New(
	cacheImpl *cache.Cache,
	vector ports.VectorStorePort,
	embedder ports.EmbedderPort,
	llm ports.LlmPort,
	store ports.RelationalStorePort,
	tracker *pedagogy.Tracker,
	versions VersionLookup,
	telemetry TelemetryRecorder,
	clock ports.ClockPort,
	rand ports.RandomPort,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cache: cacheImpl, vector: vector, embedder: embedder, llm: llm, store: store,
		tracker: tracker, versions: versions, telemetry: telemetry,
		clock: clock, rand: rand, cfg: cfg, log: logger,
	}
}

// Run executes the full pipeline for one admitted query. emit is called with
// each token of the response in generation order (or once, with the full
// cached text, on a cache hit). It is reentrant and holds no shared mutable
// state beyond what the ports mediate (spec §4.4 "Concurrency").
func (o *Orchestrator) Run(ctx context.Context, q models.Query, emit func(token string)) (models.Answer, error) {
	start := o.clock.Now()
	version := o.versions.ActiveVersion(q.SubjectID)
	key := cache.Key(q.Question, q.SubjectID, version)

	if cached, ok := o.cache.Get(ctx, key); ok {
		emit(cached.Text)
		ans := cached
		ans.CacheHit = true
		ans.GeneratedAt = o.clock.Now()
		o.recordTelemetry(q, ans, true, "", start)
		return ans, nil
	}

	ans, retrieved, err := o.answer(ctx, q, emit)
	if err != nil {
		o.recordTelemetry(q, models.Answer{}, false, edgeerr.KindOf(err), start)
		return models.Answer{}, err
	}

	if err := o.persist(ctx, q, ans, retrieved); err != nil {
		// Persistence failure after a successful generation is still a
		// request failure: the client can't trust an answer that wasn't
		// durably recorded against its own side effects.
		o.recordTelemetry(q, models.Answer{}, false, edgeerr.Internal, start)
		return models.Answer{}, edgeerr.Wrap(edgeerr.Internal, "persisting completed answer", err)
	}

	o.cache.Put(ctx, key, ans)
	o.recordTelemetry(q, ans, false, "", start)
	return ans, nil
}

// answer runs steps 2-6: embed, retrieve, assemble, stream, post-process.
func (o *Orchestrator) answer(ctx context.Context, q models.Query, emit func(token string)) (models.Answer, []ports.RetrievedChunk, error) {
	vec, err := o.embedQuery(ctx, q.Question)
	if err != nil {
		return models.Answer{}, nil, err
	}

	retrieved, err := o.vector.TopK(ctx, q.SubjectID, vec, o.cfg.TopK)
	if err != nil {
		return models.Answer{}, nil, edgeerr.Wrap(edgeerr.DependencyUnavailable, "vector store retrieval failed", err)
	}

	if len(retrieved) == 0 {
		text := cannedNoContextAnswer(q.Question)
		emit(text)
		return models.Answer{
			Text:        text,
			Confidence:  noContextConfidence,
			GeneratedAt: o.clock.Now(),
		}, nil, nil
	}

	prompt, kept := assemblePrompt(o.cfg.SystemDirectives, q.Question, retrieved, o.cfg.MaxPromptChars)

	text, usage, err := o.stream(ctx, prompt, emit)
	if err != nil {
		return models.Answer{}, nil, err
	}

	confidence := confidenceFromSimilarity(kept[0].Similarity)
	sources := make([]models.SourceRef, 0, len(kept))
	for _, c := range kept {
		sources = append(sources, models.SourceRef{
			ChunkID:    c.ChunkID,
			DocumentID: c.Metadata["source_file"],
			Similarity: c.Similarity,
		})
	}

	return models.Answer{
		Text:        text,
		Confidence:  confidence,
		Sources:     sources,
		TokenCount:  usage.CompletionTokens,
		GeneratedAt: o.clock.Now(),
	}, kept, nil
}

// embedQuery retries once on failure, then fails with DependencyUnavailable
// (spec §4.4 step 2).
func (o *Orchestrator) embedQuery(ctx context.Context, question string) ([]float32, error) {
	vec, err := o.embedder.Embed(ctx, question)
	if err == nil {
		return vec, nil
	}
	vec, err = o.embedder.Embed(ctx, question)
	if err != nil {
		return nil, edgeerr.Wrap(edgeerr.DependencyUnavailable, "embedding query failed after retry", err)
	}
	return vec, nil
}

// stream drains the LLM token channel, forwarding each chunk via emit and
// accumulating the full text, honoring ctx cancellation at token boundaries
// (spec §4.3 "token-boundary granularity").
func (o *Orchestrator) stream(ctx context.Context, prompt string, emit func(token string)) (string, ports.Usage, error) {
	tokens, errc := o.llm.Stream(ctx, prompt, o.cfg.MaxGeneratedTokens, nil)

	var text string
	var usage ports.Usage
	for {
		select {
		case <-ctx.Done():
			return "", ports.Usage{}, edgeerr.New(edgeerr.Cancelled, "request cancelled mid-stream")
		case chunk, ok := <-tokens:
			if !ok {
				return text, usage, nil
			}
			if chunk.Done {
				usage = chunk.Usage
				continue
			}
			text += chunk.Text
			emit(chunk.Text)
		case err, ok := <-errc:
			if !ok {
				continue
			}
			if err != nil {
				return "", ports.Usage{}, edgeerr.Wrap(edgeerr.DependencyUnavailable, "LLM stream failed", err)
			}
		}
	}
}

// persist writes the ChatRecord and the pedagogy update in a single
// transaction (spec §4.5 "all mastery updates run in a single transaction
// with the ChatRecord write").
func (o *Orchestrator) persist(ctx context.Context, q models.Query, ans models.Answer, retrieved []ports.RetrievedChunk) error {
	tx, err := o.store.Begin(ctx)
	if err != nil {
		return err
	}

	rec := models.ChatRecord{
		ID:         o.rand.NewID(),
		UserID:     q.UserID,
		SubjectID:  q.SubjectID,
		Question:   q.Question,
		Response:   ans.Text,
		Confidence: ans.Confidence,
		CreatedAt:  o.clock.Now(),
	}
	if err := o.store.InsertChatRecord(ctx, tx, rec); err != nil {
		_ = tx.Rollback()
		return err
	}

	correct := q.CorrectnessHit != nil && *q.CorrectnessHit
	mastery, err := o.tracker.RecordInteraction(ctx, tx, q.UserID, q.SubjectID, retrieved, correct, 0, time.Hour)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if mastery == nil {
		o.recordTopicUnresolved(q)
	}

	return tx.Commit()
}

// recordTopicUnresolved counts a query whose retrieved chunks carried no
// resolvable topic, so the pedagogy tracker skipped its mastery update
// (spec §4.5: "If no topic can be resolved, skip the mastery update and log
// a 'topic-unresolved' telemetry counter").
func (o *Orchestrator) recordTopicUnresolved(q models.Query) {
	if o.telemetry == nil {
		return
	}
	o.telemetry.Record(models.TelemetryEvent{
		HourBucket:       o.clock.Now().Truncate(time.Hour),
		Success:          true,
		SubjectID:        q.SubjectID,
		ActiveVKPVersion: o.versions.ActiveVersion(q.SubjectID),
		TopicUnresolved:  true,
	})
}

func (o *Orchestrator) recordTelemetry(q models.Query, ans models.Answer, cacheHit bool, errKind edgeerr.Kind, start time.Time) {
	if o.telemetry == nil {
		return
	}
	now := o.clock.Now()
	o.telemetry.Record(models.TelemetryEvent{
		HourBucket:       now.Truncate(time.Hour),
		LatencyMS:        now.Sub(start).Milliseconds(),
		Success:          errKind == "",
		ErrorKind:        string(errKind),
		SubjectID:        q.SubjectID,
		ActiveVKPVersion: o.versions.ActiveVersion(q.SubjectID),
		CacheHit:         cacheHit,
	})
}

func cannedNoContextAnswer(question string) string {
	return "I don't have curriculum material covering that question yet. " +
		"Try rephrasing, or ask your teacher to add relevant material for this subject."
}
