package edgeservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-tutor/node/pkg/backup"
	"github.com/edge-tutor/node/pkg/cache"
	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/health"
	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/pedagogy"
	"github.com/edge-tutor/node/pkg/ports/portstest"
	"github.com/edge-tutor/node/pkg/rag"
	"github.com/edge-tutor/node/pkg/scheduler"
	"github.com/edge-tutor/node/pkg/telemetry"
	"github.com/edge-tutor/node/pkg/vkp"
)

type fixedVersion struct{ v string }

func (f fixedVersion) ActiveVersion(subject string) string { return f.v }

func newTestService(t *testing.T) (*Service, *portstest.MemVectorStore, *portstest.Relational) {
	t.Helper()
	clock := portstest.NewClock(time.Unix(0, 0))
	vec := portstest.NewMemVectorStore()
	embedder := portstest.NewEmbedder(4)
	llm := &portstest.ScriptedLLM{Tokens: []string{"answer"}}
	store := portstest.NewRelational()
	rnd := portstest.NewRandom()
	tracker := pedagogy.New(store, clock, nil)
	c := cache.New(10, time.Hour, clock, nil, nil)

	orch := rag.New(c, vec, embedder, llm, store, tracker, fixedVersion{"1.0.0"}, nil, clock, rnd, rag.DefaultConfig(), nil)
	sched := scheduler.New(2, 4, time.Second, nil)
	t.Cleanup(func() { sched.Shutdown(context.Background()) })

	vkpMgr := vkp.New(store, vec, c, clock, nil)

	queue := portstest.NewBlobStore()
	tel := telemetry.New(queue, nil, clock, nil, telemetry.Config{}, nil)

	backupSvc := backup.New(store, vec, queue, clock, backup.Config{}, nil, nil)

	healthMon := health.New(llm, vec, store, clock, health.Config{}, nil, nil)

	svc := New(Deps{
		Scheduler: sched,
		Cache:     c,
		RAG:       orch,
		Store:     store,
		Rand:      rnd,
		VKP:       vkpMgr,
		Telemetry: tel,
		Backup:    backupSvc,
		Health:    healthMon,
		ExitFunc:  func(int) {},
	})
	return svc, vec, store
}

func TestSubmitQuery_RunsPipelineAndReturnsAnswer(t *testing.T) {
	svc, vec, _ := newTestService(t)
	vec.Seed("math", []models.Chunk{{ChunkID: "c1", Embedding: []float32{1, 2, 3, 4}, Topic: "algebra"}})

	var tokens []string
	h, err := svc.SubmitQuery(context.Background(), models.Query{UserID: "u1", SubjectID: "math", Question: "explain recursion"}, func(tok string) {
		tokens = append(tokens, tok)
	})
	require.NoError(t, err)
	out := <-h.Result
	require.NoError(t, out.Err)
	assert.NotEmpty(t, out.Answer.Text)
}

func TestNew_CopiesAdmissionWindow(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.Zero(t, svc.admissionWindow)

	svc2 := New(Deps{
		Scheduler:       scheduler.New(1, 1, time.Second, nil),
		ExitFunc:        func(int) {},
		AdmissionWindow: 200 * time.Millisecond,
	})
	assert.Equal(t, 200*time.Millisecond, svc2.admissionWindow)
}

func TestSubmitQuery_DefaultsDeadlineFromAdmissionWindow(t *testing.T) {
	svc, vec, _ := newTestService(t)
	svc.admissionWindow = time.Hour
	vec.Seed("math", []models.Chunk{{ChunkID: "c1", Embedding: []float32{1, 2, 3, 4}, Topic: "algebra"}})

	q := models.Query{UserID: "u1", SubjectID: "math", Question: "explain recursion"}
	require.True(t, q.Deadline.IsZero())

	h, err := svc.SubmitQuery(context.Background(), q, func(string) {})
	require.NoError(t, err)
	out := <-h.Result
	require.NoError(t, out.Err)
}

func TestSubmitQuery_RejectsInvalidQuery(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.SubmitQuery(context.Background(), models.Query{UserID: "u1", SubjectID: "math", Question: ""}, func(string) {})
	require.Error(t, err)
	assert.Equal(t, edgeerr.BadRequest, edgeerr.KindOf(err))
}

func TestCancelQuery_UnknownIDReturnsBadRequest(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.CancelQuery("nope")
	require.Error(t, err)
	assert.Equal(t, edgeerr.BadRequest, edgeerr.KindOf(err))
}

func TestGetQueueStats_ReflectsSchedulerCapacity(t *testing.T) {
	svc, _, _ := newTestService(t)
	stats := svc.GetQueueStats()
	assert.Equal(t, 2, stats.Capacity)
}

func TestGetMastery_DelegatesToStore(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	tx, _ := store.Begin(ctx)
	require.NoError(t, store.UpsertMastery(ctx, tx, models.MasteryRecord{UserID: "u1", SubjectID: "math", Topic: "algebra", MasteryLevel: 0.5}))
	_ = tx.Commit()

	out, err := svc.GetMastery(ctx, "u1", "math")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "algebra", out[0].Topic)
}

func TestGetCacheStats_ReportsBackendKind(t *testing.T) {
	svc, _, _ := newTestService(t)
	stats := svc.GetCacheStats()
	assert.Equal(t, "local", stats.BackendKind)
}

func TestInvalidateCache_DelegatesToCache(t *testing.T) {
	svc, _, _ := newTestService(t)
	n := svc.InvalidateCache(context.Background(), "math")
	assert.Equal(t, 0, n)
}

func TestInstallVKP_RejectsMalformedBundle(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.InstallVKP(context.Background(), "math", "", []byte("not a valid vkp bundle"))
	require.Error(t, err)
	assert.Equal(t, edgeerr.ParseError, edgeerr.KindOf(err))
}

func TestRollbackVKP_NoPriorVersionFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.RollbackVKP(context.Background(), "math", "")
	require.Error(t, err)
	assert.Equal(t, edgeerr.NoRollbackTarget, edgeerr.KindOf(err))
}

func TestHealth_ReturnsSnapshot(t *testing.T) {
	svc, _, _ := newTestService(t)
	snap := svc.Health(context.Background())
	assert.NotEmpty(t, snap.Components)
}

func TestTrigger_DrainsSchedulerAndExits(t *testing.T) {
	svc, _, _ := newTestService(t)
	var gotCode int
	svc.exitFunc = func(code int) { gotCode = code }

	svc.Trigger(context.Background(), "disk", "usage above critical threshold")

	assert.True(t, svc.sched.Draining())
	assert.Equal(t, RestartExitCode, gotCode)
}
