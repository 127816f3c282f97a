package vkp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vcache "github.com/edge-tutor/node/pkg/cache"
	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports/portstest"
)

func buildBundle(t *testing.T, version string, dim int) []byte {
	t.Helper()
	embedding := make([]float32, dim)
	for i := range embedding {
		embedding[i] = float32(i)
	}
	manifest := wireManifest{
		Subject: "math", Grade: "5", Version: version,
		CreatedAt: time.Unix(0, 0).UTC(), EmbeddingModel: "test-embed",
		ChunkSize: 500, TotalChunks: 1, SourceFiles: []string{"book.pdf"}, EmbeddingDim: dim,
	}
	chunks := []wireChunk{{ChunkID: "c-" + version, Text: "text for " + version, Embedding: embedding, Topic: "algebra"}}
	hashable, err := json.Marshal(struct {
		Manifest wireManifest `json:"manifest"`
		Chunks   []wireChunk  `json:"chunks"`
	}{manifest, chunks})
	require.NoError(t, err)
	doc := wireDocument{Manifest: manifest, Chunks: chunks, Checksum: computeChecksum(hashable)}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func newTestManager(t *testing.T) (*Manager, *portstest.Relational, *portstest.MemVectorStore) {
	t.Helper()
	store := portstest.NewRelational()
	vector := portstest.NewMemVectorStore()
	clock := portstest.NewClock(time.Unix(0, 0))
	c := vcache.New(100, time.Hour, clock, nil, nil)
	return New(store, vector, c, clock, nil), store, vector
}

func TestInstall_FirstVersionActivatesDirectly(t *testing.T) {
	m, store, vector := newTestManager(t)
	ctx := context.Background()

	version, err := m.Install(ctx, "math", "5", buildBundle(t, "1.0.0", 4))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	chunks, err := vector.AllChunks(ctx, "math")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	inst, err := store.GetVKPInstallation(ctx, "math", "5")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", inst.ActiveVersion)
	assert.Empty(t, inst.History)
}

func TestInstall_SecondVersionPushesFirstIntoHistoryAndInvalidatesCache(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Install(ctx, "math", "5", buildBundle(t, "1.0.0", 4))
	require.NoError(t, err)

	key := vcache.Key("what is x", "math", "1.0.0")
	m.cache.Put(ctx, key, models.Answer{Text: "cached"})

	version, err := m.Install(ctx, "math", "5", buildBundle(t, "1.1.0", 4))
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", version)

	_, ok := m.cache.Get(ctx, key)
	assert.False(t, ok, "installing a new version must invalidate the prior version's cache entries")
}

func TestInstall_ChecksumMismatchRejectsAndLeavesStateUnchanged(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.Install(ctx, "math", "5", buildBundle(t, "1.0.0", 4))
	require.NoError(t, err)

	bad := buildBundle(t, "1.1.0", 4)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(bad, &doc))
	doc["checksum"] = "sha256:deadbeef"
	tampered, err := json.Marshal(doc)
	require.NoError(t, err)

	_, err = m.Install(ctx, "math", "5", tampered)
	require.Error(t, err)
	assert.Equal(t, edgeerr.ChecksumMismatch, edgeerr.KindOf(err))

	inst, _ := store.GetVKPInstallation(ctx, "math", "5")
	assert.Equal(t, "1.0.0", inst.ActiveVersion)
}

func TestInstall_DimensionMismatchRejectsWithIncompatibleEmbedding(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.Install(ctx, "math", "5", buildBundle(t, "1.0.0", 4))
	require.NoError(t, err)

	_, err = m.Install(ctx, "math", "5", buildBundle(t, "2.0.0", 8))
	require.Error(t, err)
	assert.Equal(t, edgeerr.IncompatibleEmbedding, edgeerr.KindOf(err))

	inst, _ := store.GetVKPInstallation(ctx, "math", "5")
	assert.Equal(t, "1.0.0", inst.ActiveVersion)
}

func TestRollback_RestoresPriorChunkSet(t *testing.T) {
	m, _, vector := newTestManager(t)
	ctx := context.Background()
	_, err := m.Install(ctx, "math", "5", buildBundle(t, "1.0.0", 4))
	require.NoError(t, err)
	_, err = m.Install(ctx, "math", "5", buildBundle(t, "1.1.0", 4))
	require.NoError(t, err)

	version, err := m.Rollback(ctx, "math", "5")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	chunks, err := vector.AllChunks(ctx, "math")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "c-1.0.0", chunks[0].ChunkID)
}

func TestRollback_NoHistoryFailsWithNoRollbackTarget(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.Install(ctx, "math", "5", buildBundle(t, "1.0.0", 4))
	require.NoError(t, err)

	_, err = m.Rollback(ctx, "math", "5")
	require.Error(t, err)
	assert.Equal(t, edgeerr.NoRollbackTarget, edgeerr.KindOf(err))
}
