package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
	"github.com/edge-tutor/node/pkg/ports/portstest"
)

type fakeRecorder struct {
	jobs []string
}

func (f *fakeRecorder) RecordJobSummary(job string, checks, updatesApplied, failures int) {
	f.jobs = append(f.jobs, job)
}

func newTestService(t *testing.T, cfg Config, rec JobRecorder) (*Service, *portstest.Relational, *portstest.MemVectorStore, *portstest.BlobStore, *portstest.Clock) {
	t.Helper()
	relational := portstest.NewRelational()
	vector := portstest.NewMemVectorStore()
	blob := portstest.NewBlobStore()
	clock := portstest.NewClock(time.Unix(1_700_000_000, 0))
	svc := New(relational, vector, blob, clock, cfg, rec, nil)
	return svc, relational, vector, blob, clock
}

func TestRunFull_WritesRelationalAndVectorSnapshots(t *testing.T) {
	rec := &fakeRecorder{}
	svc, relational, vector, blob, _ := newTestService(t, Config{}, rec)
	relational.SeedPracticeQuestions([]models.PracticeQuestion{{Topic: "algebra"}})
	vector.Seed("math", []models.Chunk{{ChunkID: "c1", Topic: "algebra"}})

	svc.RunFull(context.Background())

	assert.Equal(t, 2, blob.Count())
	require.Len(t, rec.jobs, 1)
	assert.Equal(t, "backup_full", rec.jobs[0])
}

func TestRunFull_PartialFailureStillRecordsSummary(t *testing.T) {
	rec := &fakeRecorder{}
	svc, _, _, blob, _ := newTestService(t, Config{}, rec)
	blob.FailPut = errPutFailed

	svc.RunFull(context.Background())

	assert.Equal(t, 0, blob.Count())
	require.Len(t, rec.jobs, 1)
}

func TestRunIncremental_ExportsOnlyRecordsSinceLastFull(t *testing.T) {
	svc, relational, _, blob, clock := newTestService(t, Config{}, nil)

	relational.InsertChatRecord(context.Background(), nil, models.ChatRecord{ID: "old", CreatedAt: clock.Now().Add(-time.Hour)})
	svc.RunFull(context.Background())

	clock.Advance(time.Minute)
	relational.InsertChatRecord(context.Background(), nil, models.ChatRecord{ID: "new", CreatedAt: clock.Now()})

	svc.RunIncremental(context.Background())

	keys := objectsUnder(t, blob, "backup/incremental/")
	require.Len(t, keys, 1)

	data, _, err := blob.Get(context.Background(), keys[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ID":"new"`)
	assert.NotContains(t, string(data), `"ID":"old"`)
}

func TestEnforceRetention_DeletesSnapshotsOlderThanWindow(t *testing.T) {
	svc, relational, vector, blob, clock := newTestService(t, Config{RetentionDays: 1}, nil)

	svc.RunFull(context.Background())
	firstRunKeys := objectsUnder(t, blob, "backup/full/")
	require.Len(t, firstRunKeys, 2)

	clock.Advance(48 * time.Hour)
	relational.SeedPracticeQuestions([]models.PracticeQuestion{{Topic: "science"}})
	vector.Seed("science", []models.Chunk{{ChunkID: "c2"}})
	svc.RunFull(context.Background())

	remaining := objectsUnder(t, blob, "backup/full/")
	assert.Len(t, remaining, 2, "only the most recent full snapshot should survive retention")
	for _, k := range remaining {
		assert.NotContains(t, firstRunKeys, k)
	}
}

func TestEnforceRetention_NoopWhenBlobStoreHasNoDelete(t *testing.T) {
	svc, _, _, blob, clock := newTestService(t, Config{RetentionDays: 1}, nil)
	svc.blob = noDeleteBlob{blob}

	svc.RunFull(context.Background())
	clock.Advance(48 * time.Hour)
	assert.NotPanics(t, func() { svc.enforceRetention(context.Background(), clock.Now()) })

	remaining := objectsUnder(t, blob, "backup/full/")
	assert.Len(t, remaining, 2, "retention sweep must be a no-op when the store can't delete")
}

// noDeleteBlob wraps a portstest.BlobStore but only exposes the base
// ports.BlobStorePort surface (no embedding, so Delete isn't promoted),
// exercising enforceRetention's no-op path when the store can't delete.
type noDeleteBlob struct {
	inner *portstest.BlobStore
}

func (b noDeleteBlob) List(ctx context.Context, prefix string) ([]ports.BlobObject, error) {
	return b.inner.List(ctx, prefix)
}

func (b noDeleteBlob) Get(ctx context.Context, key string) ([]byte, string, error) {
	return b.inner.Get(ctx, key)
}

func (b noDeleteBlob) Put(ctx context.Context, key string, data []byte) error {
	return b.inner.Put(ctx, key, data)
}

func objectsUnder(t *testing.T, blob *portstest.BlobStore, prefix string) []string {
	t.Helper()
	objs, err := blob.List(context.Background(), prefix)
	require.NoError(t, err)
	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = o.Key
	}
	return keys
}

var errPutFailed = errors.New("put failed")
