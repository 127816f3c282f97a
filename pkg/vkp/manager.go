package vkp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/edge-tutor/node/pkg/cache"
	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
)

// MaxHistoryDepth bounds VKPInstallation.History (spec §3: "bounded depth,
// e.g. last 3").
const MaxHistoryDepth = 3

// VectorStore is the subset of VectorStorePort the manager needs, plus the
// atomic full-replacement primitive spec §4.6 step 4 requires ("readers
// during the swap see either the old set or the new set, never a mixed
// set") — Upsert/DeleteSubject alone can't guarantee that across two calls.
type VectorStore interface {
	ports.VectorStorePort
	ReplaceSubject(ctx context.Context, subject string, chunks []models.Chunk) error
	AllChunks(ctx context.Context, subject string) ([]models.Chunk, error)
}

// Manager is the production C6 implementation.
type Manager struct {
	store  ports.RelationalStorePort
	vector VectorStore
	cache  *cache.Cache
	clock  ports.ClockPort
	log    *slog.Logger

	mu           sync.Mutex
	subjectLocks map[string]*sync.Mutex
}

func New(store ports.RelationalStorePort, vector VectorStore, cacheImpl *cache.Cache, clock ports.ClockPort, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store: store, vector: vector, cache: cacheImpl, clock: clock, log: logger,
		subjectLocks: make(map[string]*sync.Mutex),
	}
}

// ActiveVersion implements rag.VersionLookup. Subject alone addresses the
// installation: a query never carries a grade, so every installation the
// inference path can reach is keyed with grade="" (the curriculum puller and
// any out-of-band upload path are expected to install under grade="" too,
// unless/until per-grade query routing exists).
func (m *Manager) ActiveVersion(subject string) string {
	return m.ActiveVersionFor(subject, "")
}

// ActiveVersionFor is the full (subject, grade)-keyed lookup used by the
// curriculum puller (C7), which does know the grade of each remote artifact.
func (m *Manager) ActiveVersionFor(subject, grade string) string {
	inst, err := m.store.GetVKPInstallation(context.Background(), subject, grade)
	if err != nil || inst == nil {
		return ""
	}
	return inst.ActiveVersion
}

func (m *Manager) subjectLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.subjectLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.subjectLocks[key] = l
	}
	return l
}

// Install runs the protocol from spec §4.6: verify checksum, verify
// embedding-dimension compatibility, atomically swap the vector store's
// chunk set, update VKPInstallation history, then invalidate the cache.
// Installs on the same (subject, grade) are serialized; different subjects
// install in parallel.
func (m *Manager) Install(ctx context.Context, subject, grade string, raw []byte) (string, error) {
	lock := m.subjectLock(subject + "|" + grade)
	lock.Lock()
	defer lock.Unlock()

	candidate, checksumOK, err := ParseBundle(raw)
	if err != nil {
		return "", edgeerr.Wrap(edgeerr.ParseError, "parsing VKP bundle", err)
	}
	if !checksumOK {
		return "", edgeerr.New(edgeerr.ChecksumMismatch, "VKP checksum does not match its declared manifest+chunks")
	}

	existing, err := m.store.GetVKPInstallation(ctx, subject, grade)
	if err != nil {
		return "", edgeerr.Wrap(edgeerr.Internal, "loading current VKP installation", err)
	}
	if existing != nil && existing.EmbeddingDim != 0 && existing.EmbeddingDim != candidate.Manifest.EmbeddingDim {
		return "", edgeerr.New(edgeerr.IncompatibleEmbedding, "candidate VKP embedding dimension does not match the active backend for this subject")
	}

	var priorChunks []models.Chunk
	if existing != nil {
		priorChunks, err = m.vector.AllChunks(ctx, subject)
		if err != nil {
			return "", edgeerr.Wrap(edgeerr.Internal, "snapshotting prior VKP chunk set", err)
		}
	}

	if err := m.vector.ReplaceSubject(ctx, subject, candidate.Chunks); err != nil {
		return "", edgeerr.Wrap(edgeerr.Internal, "swapping vector store chunk set", err)
	}

	installation := nextInstallation(existing, subject, grade, candidate, priorChunks, m.clock)
	if err := m.store.PutVKPInstallation(ctx, installation); err != nil {
		return "", edgeerr.Wrap(edgeerr.Internal, "recording VKP installation", err)
	}

	var deleted int
	if existing != nil {
		deleted = m.cache.Invalidate(ctx, cache.SubjectPrefix(subject, existing.ActiveVersion))
	}
	m.log.Info("installed VKP", "subject", subject, "grade", grade, "version", installation.ActiveVersion, "cache_entries_invalidated", deleted)

	return installation.ActiveVersion, nil
}

// nextInstallation pushes existing's active version (with its chunk set
// snapshotted via priorChunks) into history, bounded to MaxHistoryDepth, and
// activates candidate.
func nextInstallation(existing *models.VKPInstallation, subject, grade string, candidate models.VKP, priorChunks []models.Chunk, clock ports.ClockPort) models.VKPInstallation {
	inst := models.VKPInstallation{
		Subject:       subject,
		Grade:         grade,
		ActiveVersion: candidate.Manifest.Version,
		EmbeddingDim:  candidate.Manifest.EmbeddingDim,
	}
	if existing != nil {
		history := append([]models.VKPHistoryEntry{}, existing.History...)
		history = append(history, models.VKPHistoryEntry{
			Version:   existing.ActiveVersion,
			Chunks:    priorChunks,
			Installed: clock.Now(),
		})
		if len(history) > MaxHistoryDepth {
			history = history[len(history)-MaxHistoryDepth:]
		}
		inst.History = history
	}
	return inst
}

// Rollback implements spec §4.6's rollback protocol: restore the most
// recent history entry's chunk set and activate its version.
func (m *Manager) Rollback(ctx context.Context, subject, grade string) (string, error) {
	lock := m.subjectLock(subject + "|" + grade)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.GetVKPInstallation(ctx, subject, grade)
	if err != nil {
		return "", edgeerr.Wrap(edgeerr.Internal, "loading current VKP installation", err)
	}
	if existing == nil || len(existing.History) == 0 {
		return "", edgeerr.New(edgeerr.NoRollbackTarget, "no prior VKP version to roll back to")
	}

	target := existing.History[len(existing.History)-1]
	if err := m.vector.ReplaceSubject(ctx, subject, target.Chunks); err != nil {
		return "", edgeerr.Wrap(edgeerr.Internal, "restoring vector store chunk set", err)
	}

	rolledBack := models.VKPInstallation{
		Subject:       subject,
		Grade:         grade,
		ActiveVersion: target.Version,
		EmbeddingDim:  existing.EmbeddingDim,
		History:       existing.History[:len(existing.History)-1],
	}
	if err := m.store.PutVKPInstallation(ctx, rolledBack); err != nil {
		return "", edgeerr.Wrap(edgeerr.Internal, "recording rolled-back VKP installation", err)
	}

	deleted := m.cache.Invalidate(ctx, cache.SubjectPrefix(subject, existing.ActiveVersion))
	m.log.Info("rolled back VKP", "subject", subject, "grade", grade, "version", rolledBack.ActiveVersion, "cache_entries_invalidated", deleted)

	return rolledBack.ActiveVersion, nil
}
