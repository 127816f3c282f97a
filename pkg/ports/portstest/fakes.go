// Package portstest provides in-memory fakes for every ports interface, in
// a scripted-fake style (a ScriptedLLMClient pattern:
// a small sequential script consumed in order, with knobs for blocking until
// cancellation). Used across component test suites.
package portstest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
)

// ScriptedLLM is a fake LlmPort that streams a pre-scripted list of token
// chunks, optionally blocking until the context is cancelled (to exercise
// cooperative cancellation in the scheduler/orchestrator).
type ScriptedLLM struct {
	mu                  sync.Mutex
	Tokens              []string
	Err                 error
	BlockUntilCancelled bool
	Calls               int
	HealthErr           error
}

// Healthy implements health.LlmHealthChecker, exercised by the health
// monitor's LLM reachability probe.
func (f *ScriptedLLM) Healthy(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HealthErr
}

func (f *ScriptedLLM) Stream(ctx context.Context, prompt string, maxTokens int, stop []string) (<-chan ports.TokenChunk, <-chan error) {
	f.mu.Lock()
	f.Calls++
	f.mu.Unlock()

	out := make(chan ports.TokenChunk, len(f.Tokens)+1)
	errc := make(chan error, 1)

	if f.Err != nil {
		close(out)
		errc <- f.Err
		close(errc)
		return out, errc
	}

	go func() {
		defer close(out)
		defer close(errc)
		if f.BlockUntilCancelled {
			<-ctx.Done()
			return
		}
		for _, t := range f.Tokens {
			select {
			case <-ctx.Done():
				return
			case out <- ports.TokenChunk{Text: t}:
			}
		}
		out <- ports.TokenChunk{Done: true, Usage: ports.Usage{CompletionTokens: len(f.Tokens)}}
	}()
	return out, errc
}

// MemVectorStore is a fake VectorStorePort backed by an in-memory map,
// identical in shape to the production pkg/ports/memvector adapter but kept
// separate so tests can seed/inspect state directly.
type MemVectorStore struct {
	mu    sync.Mutex
	bySub map[string][]models.Chunk
}

func NewMemVectorStore() *MemVectorStore {
	return &MemVectorStore{bySub: make(map[string][]models.Chunk)}
}

func (m *MemVectorStore) Seed(subject string, chunks []models.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySub[subject] = chunks
}

func (m *MemVectorStore) TopK(ctx context.Context, subject string, q []float32, k int) ([]ports.RetrievedChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks := m.bySub[subject]
	type scored struct {
		c   models.Chunk
		sim float64
	}
	scoredList := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		scoredList = append(scoredList, scored{c: c, sim: cosine(q, c.Embedding)})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].sim > scoredList[j].sim })
	if k > len(scoredList) {
		k = len(scoredList)
	}
	out := make([]ports.RetrievedChunk, 0, k)
	for _, s := range scoredList[:k] {
		out = append(out, ports.RetrievedChunk{
			ChunkID:    s.c.ChunkID,
			Text:       s.c.Text,
			Metadata:   map[string]string{"topic": s.c.Topic, "source_file": s.c.SourceFile},
			Similarity: s.sim,
		})
	}
	return out, nil
}

func (m *MemVectorStore) Upsert(ctx context.Context, subject string, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := make(map[string]models.Chunk)
	for _, c := range m.bySub[subject] {
		byID[c.ChunkID] = c
	}
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}
	merged := make([]models.Chunk, 0, len(byID))
	for _, c := range byID {
		merged = append(merged, c)
	}
	m.bySub[subject] = merged
	return nil
}

func (m *MemVectorStore) DeleteSubject(ctx context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bySub, subject)
	return nil
}

// AllChunks returns subject's full current chunk set.
func (m *MemVectorStore) AllChunks(ctx context.Context, subject string) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Chunk, len(m.bySub[subject]))
	copy(out, m.bySub[subject])
	return out, nil
}

// ReplaceSubject atomically swaps subject's chunk set, mirroring the
// production memvector.Store's ReplaceSubject used by the VKP manager.
func (m *MemVectorStore) ReplaceSubject(ctx context.Context, subject string, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]models.Chunk, len(chunks))
	copy(cp, chunks)
	m.bySub[subject] = cp
	return nil
}

// SnapshotAll serializes every subject's chunk set, used by pkg/backup's
// vector-store snapshot job.
func (m *MemVectorStore) SnapshotAll(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(m.bySub)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(x float64) float64 {
	if x == 0 {
		return 0
	}
	z := x
	for i := 0; i < 40; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// Embedder is a fake EmbedderPort returning a fixed-dimension deterministic
// vector derived from text length (good enough to exercise retrieval without
// a real model).
type Embedder struct {
	Dim     int
	FailN   int // fail the first FailN calls, then succeed (retry testing)
	calls   int
	mu      sync.Mutex
	Healthy_ error
}

func NewEmbedder(dim int) *Embedder { return &Embedder{Dim: dim} }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	e.mu.Unlock()
	if n <= e.FailN {
		return nil, fmt.Errorf("embedder throttled")
	}
	v := make([]float32, e.Dim)
	for i := range v {
		v[i] = float32((len(text) + i) % 7)
	}
	return v, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) Dimension() int { return e.Dim }

func (e *Embedder) Healthy(ctx context.Context) error { return e.Healthy_ }

// Clock is a fake ClockPort with a mutable current time.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// BlobStore is a fake BlobStorePort (plus Delete, mirroring fsblob.Store)
// backed by an in-memory map, with knobs to simulate an unreachable control
// plane for telemetry/backup/curriculum outage tests.
type BlobStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	FailPut  error
	FailList error
}

func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

func (b *BlobStore) List(ctx context.Context, prefix string) ([]ports.BlobObject, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailList != nil {
		return nil, b.FailList
	}
	var out []ports.BlobObject
	for k, v := range b.objects {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			out = append(out, ports.BlobObject{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *BlobStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("blob key %q not found", key)
	}
	return data, "etag", nil
}

func (b *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailPut != nil {
		return b.FailPut
	}
	b.objects[key] = data
	return nil
}

func (b *BlobStore) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *BlobStore) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// Random is a fake RandomPort with deterministic, incrementing IDs.
type Random struct {
	mu      sync.Mutex
	counter int
	Seq     []float64
	seqIdx  int
}

func NewRandom() *Random { return &Random{} }

func (r *Random) NewID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	return fmt.Sprintf("id-%d", r.counter)
}

func (r *Random) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seqIdx < len(r.Seq) {
		v := r.Seq[r.seqIdx]
		r.seqIdx++
		return v
	}
	return 0.5
}
