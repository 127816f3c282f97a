// Package memvector is the production on-device VectorStorePort: an
// in-memory, per-subject cosine-similarity index with an optional on-disk
// snapshot so a restarted node doesn't need to re-embed its curriculum.
// The edge node runs fully offline (spec §1), so there is no external vector
// database to call out to — this is the store.
package memvector

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
)

// Store is the production VectorStorePort.
type Store struct {
	mu       sync.RWMutex
	snapDir  string // empty disables persistence
	bySubject map[string][]models.Chunk
}

// New builds a Store. If snapDir is non-empty, each subject's chunk set is
// persisted to snapDir/<subject>.gob on every Upsert/DeleteSubject and
// loaded back on New.
func New(snapDir string) (*Store, error) {
	s := &Store{snapDir: snapDir, bySubject: make(map[string][]models.Chunk)}
	if snapDir == "" {
		return s, nil
	}
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return nil, edgeerr.Wrap(edgeerr.Internal, "creating vector store snapshot dir", err)
	}
	entries, err := os.ReadDir(snapDir)
	if err != nil {
		return nil, edgeerr.Wrap(edgeerr.Internal, "reading vector store snapshot dir", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".gob" {
			continue
		}
		subject := e.Name()[:len(e.Name())-len(".gob")]
		chunks, err := loadSnapshot(filepath.Join(snapDir, e.Name()))
		if err != nil {
			return nil, edgeerr.Wrap(edgeerr.Internal, fmt.Sprintf("loading snapshot for subject %q", subject), err)
		}
		s.bySubject[subject] = chunks
	}
	return s, nil
}

// TopK returns the k nearest chunks to queryEmbedding by cosine similarity,
// deterministic given identical inputs and store state (spec §4.1).
func (s *Store) TopK(ctx context.Context, subject string, queryEmbedding []float32, k int) ([]ports.RetrievedChunk, error) {
	s.mu.RLock()
	chunks := s.bySubject[subject]
	s.mu.RUnlock()

	type scored struct {
		chunk models.Chunk
		sim   float64
	}
	scoredChunks := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		scoredChunks = append(scoredChunks, scored{chunk: c, sim: cosineSimilarity(queryEmbedding, c.Embedding)})
	}
	sort.SliceStable(scoredChunks, func(i, j int) bool {
		if scoredChunks[i].sim != scoredChunks[j].sim {
			return scoredChunks[i].sim > scoredChunks[j].sim
		}
		return scoredChunks[i].chunk.ChunkID < scoredChunks[j].chunk.ChunkID
	})

	if k > len(scoredChunks) {
		k = len(scoredChunks)
	}
	out := make([]ports.RetrievedChunk, 0, k)
	for _, sc := range scoredChunks[:k] {
		out = append(out, ports.RetrievedChunk{
			ChunkID: sc.chunk.ChunkID,
			Text:    sc.chunk.Text,
			Metadata: map[string]string{
				"topic":       sc.chunk.Topic,
				"source_file": sc.chunk.SourceFile,
			},
			Similarity: sc.sim,
		})
	}
	return out, nil
}

// AllChunks returns subject's full current chunk set, used by the VKP
// manager to snapshot a version's chunks into installation history before
// swapping in a new version (so rollback has something to restore).
func (s *Store) AllChunks(ctx context.Context, subject string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Chunk, len(s.bySubject[subject]))
	copy(out, s.bySubject[subject])
	return out, nil
}

// Upsert replaces the chunks named by chunk-id within subject's set, keeping
// any existing chunks not named. Full replacement of an entire subject's
// set goes through ReplaceSubject, which the VKP manager's install and
// rollback use.
func (s *Store) Upsert(ctx context.Context, subject string, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]models.Chunk, len(s.bySubject[subject])+len(chunks))
	for _, c := range s.bySubject[subject] {
		byID[c.ChunkID] = c
	}
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}
	merged := make([]models.Chunk, 0, len(byID))
	for _, c := range byID {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Position < merged[j].Position })
	s.bySubject[subject] = merged

	return s.snapshot(subject)
}

// ReplaceSubject drops subject's existing chunk set entirely and installs
// chunks in its place — the transactional full-replacement primitive the VKP
// manager needs (spec §4.6 step 4: "readers during the swap see either the
// old set or the new set, never a mixed set").
func (s *Store) ReplaceSubject(ctx context.Context, subject string, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]models.Chunk, len(chunks))
	copy(cp, chunks)
	s.bySubject[subject] = cp
	return s.snapshot(subject)
}

func (s *Store) DeleteSubject(ctx context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySubject, subject)
	if s.snapDir == "" {
		return nil
	}
	path := filepath.Join(s.snapDir, subject+".gob")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return edgeerr.Wrap(edgeerr.Internal, "removing vector store snapshot", err)
	}
	return nil
}

// snapshot must be called with mu held.
func (s *Store) snapshot(subject string) error {
	if s.snapDir == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.bySubject[subject]); err != nil {
		return edgeerr.Wrap(edgeerr.Internal, "encoding vector store snapshot", err)
	}
	path := filepath.Join(s.snapDir, subject+".gob")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return edgeerr.Wrap(edgeerr.Internal, "writing vector store snapshot", err)
	}
	return nil
}

func loadSnapshot(path string) ([]models.Chunk, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chunks []models.Chunk
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// SnapshotAll serializes every subject's current chunk set, implementing
// backup.VectorSnapshotSource for the full-snapshot job (C9). Separate from
// the per-subject .gob persistence above: that one is for restart recovery,
// this one is for the scheduled off-node backup.
func (s *Store) SnapshotAll(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, err := json.Marshal(s.bySubject)
	if err != nil {
		return nil, edgeerr.Wrap(edgeerr.Internal, "encoding vector store snapshot", err)
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
