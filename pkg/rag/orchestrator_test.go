package rag

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-tutor/node/pkg/cache"
	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/pedagogy"
	"github.com/edge-tutor/node/pkg/ports"
	"github.com/edge-tutor/node/pkg/ports/portstest"
)

type fixedVersion struct{ v string }

func (f fixedVersion) ActiveVersion(subject string) string { return f.v }

type recordingTelemetry struct{ events []models.TelemetryEvent }

func (r *recordingTelemetry) Record(e models.TelemetryEvent) { r.events = append(r.events, e) }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *portstest.MemVectorStore, *portstest.ScriptedLLM, *portstest.Relational, *recordingTelemetry) {
	t.Helper()
	clock := portstest.NewClock(time.Unix(0, 0))
	vec := portstest.NewMemVectorStore()
	embedder := portstest.NewEmbedder(4)
	llm := &portstest.ScriptedLLM{Tokens: []string{"Hello", " ", "world"}}
	store := portstest.NewRelational()
	rnd := portstest.NewRandom()
	tracker := pedagogy.New(store, clock, nil)
	telemetry := &recordingTelemetry{}
	c := cache.New(10, time.Hour, clock, nil, nil)

	o := New(c, vec, embedder, llm, store, tracker, fixedVersion{"1.0.0"}, telemetry, clock, rnd, DefaultConfig(), nil)
	return o, vec, llm, store, telemetry
}

func collect(tokens *[]string) func(string) {
	return func(tok string) { *tokens = append(*tokens, tok) }
}

func TestRun_MissThenHit(t *testing.T) {
	o, vec, _, store, telemetry := newTestOrchestrator(t)
	ctx := context.Background()
	vec.Seed("math", []models.Chunk{{ChunkID: "c1", Embedding: []float32{1, 2, 3, 4}, Topic: "algebra", SourceFile: "book1.pdf"}})

	q := models.Query{ID: "q1", UserID: "u1", SubjectID: "math", Question: "What is recursion?"}

	var tokens []string
	ans1, err := o.Run(ctx, q, collect(&tokens))
	require.NoError(t, err)
	assert.False(t, ans1.CacheHit)
	assert.Greater(t, ans1.Confidence, 0.0)
	assert.Len(t, store.ChatRecords(), 1)

	tokens = nil
	ans2, err := o.Run(ctx, q, collect(&tokens))
	require.NoError(t, err)
	assert.True(t, ans2.CacheHit)
	assert.Equal(t, ans1.Text, ans2.Text)
	assert.Len(t, store.ChatRecords(), 1, "cache hit must not persist a second ChatRecord")

	require.Len(t, telemetry.events, 2)
	assert.False(t, telemetry.events[0].CacheHit)
	assert.True(t, telemetry.events[1].CacheHit)
}

func TestRun_ZeroChunksProducesCannedAnswerWithoutLLMCall(t *testing.T) {
	o, _, llm, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	q := models.Query{ID: "q1", UserID: "u1", SubjectID: "unknown-subject", Question: "anything"}

	var tokens []string
	ans, err := o.Run(ctx, q, collect(&tokens))
	require.NoError(t, err)
	assert.Equal(t, 0, llm.Calls)
	assert.NotEmpty(t, ans.Text)
	assert.Len(t, store.ChatRecords(), 1)
}

func TestRun_ZeroChunksRecordsTopicUnresolvedTelemetry(t *testing.T) {
	o, _, _, _, telemetry := newTestOrchestrator(t)
	ctx := context.Background()
	q := models.Query{ID: "q1", UserID: "u1", SubjectID: "unknown-subject", Question: "anything"}

	_, err := o.Run(ctx, q, collect(&[]string{}))
	require.NoError(t, err)

	var unresolved int
	for _, e := range telemetry.events {
		if e.TopicUnresolved {
			unresolved++
		}
	}
	assert.Equal(t, 1, unresolved, "a query with no resolvable topic must emit exactly one topic-unresolved telemetry event")
}

func TestRun_CancelledMidStreamDiscardsPartialWork(t *testing.T) {
	clock := portstest.NewClock(time.Unix(0, 0))
	vec := portstest.NewMemVectorStore()
	vec.Seed("math", []models.Chunk{{ChunkID: "c1", Embedding: []float32{1, 2, 3, 4}, Topic: "algebra"}})
	embedder := portstest.NewEmbedder(4)
	llm := &portstest.ScriptedLLM{BlockUntilCancelled: true}
	store := portstest.NewRelational()
	tracker := pedagogy.New(store, clock, nil)
	c := cache.New(10, time.Hour, clock, nil, nil)
	o := New(c, vec, embedder, llm, store, tracker, fixedVersion{"1.0.0"}, nil, clock, portstest.NewRandom(), DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	q := models.Query{ID: "q1", UserID: "u1", SubjectID: "math", Question: "x"}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := o.Run(ctx, q, func(string) {})
	require.Error(t, err)
	assert.Equal(t, edgeerr.Cancelled, edgeerr.KindOf(err))
	assert.Empty(t, store.ChatRecords())
}

func TestRun_EmbedderFailsAfterRetryIsDependencyUnavailable(t *testing.T) {
	clock := portstest.NewClock(time.Unix(0, 0))
	vec := portstest.NewMemVectorStore()
	embedder := &portstest.Embedder{Dim: 4, FailN: 2}
	llm := &portstest.ScriptedLLM{Tokens: []string{"x"}}
	store := portstest.NewRelational()
	tracker := pedagogy.New(store, clock, nil)
	c := cache.New(10, time.Hour, clock, nil, nil)
	o := New(c, vec, embedder, llm, store, tracker, fixedVersion{"1.0.0"}, nil, clock, portstest.NewRandom(), DefaultConfig(), nil)

	_, err := o.Run(context.Background(), models.Query{ID: "q", UserID: "u", SubjectID: "math", Question: "x"}, func(string) {})
	require.Error(t, err)
	assert.Equal(t, edgeerr.DependencyUnavailable, edgeerr.KindOf(err))
}

func TestAssemblePrompt_TruncatesLowestSimilarityFirst(t *testing.T) {
	chunks := []ports.RetrievedChunk{
		{ChunkID: "a", Text: strings.Repeat("x", 50), Similarity: 0.9},
		{ChunkID: "b", Text: strings.Repeat("y", 50), Similarity: 0.1},
	}
	prompt, kept := assemblePrompt("sys", "question", chunks, len("sys")+len("question")+60)
	require.Len(t, kept, 1)
	assert.Equal(t, "a", kept[0].ChunkID)
	assert.Contains(t, prompt, "xxxx")
	assert.NotContains(t, prompt, "yyyy")
}

func TestConfidenceFromSimilarity_MonotoneAndBounded(t *testing.T) {
	assert.InDelta(t, 0.0, confidenceFromSimilarity(-1), 0.001)
	assert.InDelta(t, 0.5, confidenceFromSimilarity(0), 0.001)
	assert.InDelta(t, 1.0, confidenceFromSimilarity(1), 0.001)
	assert.Less(t, confidenceFromSimilarity(0.2), confidenceFromSimilarity(0.8))
}
