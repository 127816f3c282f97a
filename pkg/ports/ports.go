// Package ports defines the abstract interfaces the edge-node core depends
// on (spec §4.1, C1). Implementations are replaceable; the core never
// imports a concrete driver package directly. The postgres, fsblob and
// memvector adapters translate failures into *edgeerr.Error before
// returning; the HTTP adapters (embedhttp, llmhttp) return fmt-wrapped
// errors, with the underlying net/http or decoding error reachable through
// errors.Unwrap.
package ports

import (
	"context"
	"time"

	"github.com/edge-tutor/node/pkg/models"
)

// TokenChunk is one unit of streamed LLM output.
type TokenChunk struct {
	Text  string
	Done  bool // true on the final chunk; Usage is populated
	Usage Usage
}

// Usage is the final token accounting for a completed generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// LlmPort streams tokens from the (black-box) inference backend.
// Implementations must honor cancellation within a bounded grace window:
// the stream channel is closed promptly after ctx is done.
type LlmPort interface {
	Stream(ctx context.Context, prompt string, maxTokens int, stopSequences []string) (<-chan TokenChunk, <-chan error)
}

// RetrievedChunk is one result from VectorStorePort.TopK.
type RetrievedChunk struct {
	ChunkID    string
	Text       string
	Metadata   map[string]string // includes "topic", "source_file"
	Similarity float64
}

// VectorStorePort is the per-subject nearest-neighbor store. Deterministic
// given identical inputs and store state (spec §4.1).
type VectorStorePort interface {
	TopK(ctx context.Context, subject string, queryEmbedding []float32, k int) ([]RetrievedChunk, error)

	// Upsert and DeleteSubject are used only by the VKP manager (C6).
	Upsert(ctx context.Context, subject string, chunks []models.Chunk) error
	DeleteSubject(ctx context.Context, subject string) error
}

// EmbedderPort embeds text for query-side retrieval. Document-side embedding
// is precomputed into the VKP; the core never embeds documents.
type EmbedderPort interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Healthy(ctx context.Context) error
}

// Tx is a relational-store transaction scope. Callers must call exactly one
// of Commit or Rollback.
type Tx interface {
	Commit() error
	Rollback() error
}

// RelationalStorePort is the transactional key-addressed store over
// ChatRecord, MasteryRecord, WeakArea, VKPInstallation, and the user
// directory (spec §4.1). Connection pooling is hidden behind the port.
type RelationalStorePort interface {
	Begin(ctx context.Context) (Tx, error)

	InsertChatRecord(ctx context.Context, tx Tx, rec models.ChatRecord) error

	GetMastery(ctx context.Context, tx Tx, userID, subjectID, topic string) (*models.MasteryRecord, error)
	UpsertMastery(ctx context.Context, tx Tx, rec models.MasteryRecord) error
	ListMastery(ctx context.Context, userID, subjectID string) ([]models.MasteryRecord, error)

	UpsertWeakArea(ctx context.Context, tx Tx, rec models.WeakArea) error
	DeleteWeakArea(ctx context.Context, tx Tx, userID, subjectID, topic string) error
	ListWeakAreas(ctx context.Context, userID, subjectID string) ([]models.WeakArea, error)

	ListPracticeQuestions(ctx context.Context, subjectID string, topics []string, limit int) ([]models.PracticeQuestion, error)

	GetVKPInstallation(ctx context.Context, subject, grade string) (*models.VKPInstallation, error)
	PutVKPInstallation(ctx context.Context, inst models.VKPInstallation) error

	Health(ctx context.Context) error
}

// BlobObject is one listing entry from BlobStorePort.List.
type BlobObject struct {
	Key  string
	ETag string
	Size int64
}

// BlobStorePort is used by the curriculum puller (C7), the telemetry
// pipeline's upload queue and push (C8), and backup/health (C9) to move
// bytes to/from local storage and the cloud control plane.
type BlobStorePort interface {
	List(ctx context.Context, prefix string) ([]BlobObject, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
	Put(ctx context.Context, key string, data []byte) error
}

// ClockPort abstracts time for deterministic tests.
type ClockPort interface {
	Now() time.Time
}

// RandomPort abstracts randomness/ID generation for deterministic tests.
type RandomPort interface {
	NewID() string
	// Float64 returns a deterministic-given-seed value in [0,1), used by the
	// pedagogy tracker's practice-selection bias (spec §4.5).
	Float64() float64
}
