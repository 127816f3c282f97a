package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/edge-tutor/node/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a disposable postgres container, opens a Store
// against it, and applies the embedded migrations.
func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	store, err := New(ctx, Config{
		Host: host, Port: port.Int(), User: "test", Password: "test", Database: "test",
		SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStore_HealthCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	status, err := store.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.NoError(t, store.Health(ctx))
}

func TestStore_ChatRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := models.ChatRecord{
		ID: "chat-1", UserID: "user-1", SubjectID: "math",
		Question: "what is 2+2", Response: "4", Confidence: 0.9, CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.InsertChatRecord(ctx, tx, rec))
	require.NoError(t, tx.Commit())

	snap, err := store.ExportFull(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(snap), "chat-1")

	delta, err := store.ExportChatHistorySince(ctx, rec.CreatedAt)
	require.NoError(t, err)
	assert.Contains(t, string(delta), "chat-1")
}

func TestStore_MasteryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := models.MasteryRecord{
		UserID: "user-1", SubjectID: "math", Topic: "fractions",
		MasteryLevel: 0.5, QuestionCount: 4, CorrectCount: 2,
		LastInteraction: time.Now().UTC().Truncate(time.Second),
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.UpsertMastery(ctx, tx, rec))
	require.NoError(t, tx.Commit())

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	got, err := store.GetMastery(ctx, tx2, rec.UserID, rec.SubjectID, rec.Topic)
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback())
	require.NotNil(t, got)
	assert.Equal(t, rec.MasteryLevel, got.MasteryLevel)
	assert.Equal(t, rec.QuestionCount, got.QuestionCount)

	all, err := store.ListMastery(ctx, rec.UserID, rec.SubjectID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_WeakAreaRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := models.WeakArea{UserID: "user-1", SubjectID: "math", Topic: "fractions", Score: 0.2, DetectedAt: time.Now().UTC().Truncate(time.Second)}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.UpsertWeakArea(ctx, tx, rec))
	require.NoError(t, tx.Commit())

	areas, err := store.ListWeakAreas(ctx, rec.UserID, rec.SubjectID)
	require.NoError(t, err)
	assert.Len(t, areas, 1)

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.DeleteWeakArea(ctx, tx2, rec.UserID, rec.SubjectID, rec.Topic))
	require.NoError(t, tx2.Commit())

	areas, err = store.ListWeakAreas(ctx, rec.UserID, rec.SubjectID)
	require.NoError(t, err)
	assert.Empty(t, areas)
}

func TestStore_VKPInstallationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inst := models.VKPInstallation{
		Subject: "math", Grade: "5", ActiveVersion: "1.0.0", EmbeddingDim: 3,
		History: []models.VKPHistoryEntry{
			{Version: "1.0.0", Installed: time.Now().UTC().Truncate(time.Second)},
		},
	}
	require.NoError(t, store.PutVKPInstallation(ctx, inst))

	got, err := store.GetVKPInstallation(ctx, inst.Subject, inst.Grade)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inst.ActiveVersion, got.ActiveVersion)
	require.Len(t, got.History, 1)
	assert.Equal(t, "1.0.0", got.History[0].Version)

	missing, err := store.GetVKPInstallation(ctx, "nonexistent", "0")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
