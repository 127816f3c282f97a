// Package models holds the plain data records shared across edge-node
// components. They are intentionally dumb: no behavior beyond validation and
// no in-memory cross-references — joins happen at the repository layer, and
// relations are foreign-key IDs only (see DESIGN.md, "cyclic back-references").
package models

import (
	"strings"
	"time"

	"github.com/edge-tutor/node/pkg/edgeerr"
)

// Query is the transient record created on admission (spec §3 "Query").
type Query struct {
	ID             string
	UserID         string
	SubjectID      string
	Question       string
	SubmittedAt    time.Time
	Deadline       time.Time // zero value means no deadline
	CorrectnessHit *bool     // optional external grading signal, nil = no signal (spec §4.5, §9)
}

// MaxQuestionLength bounds question text (spec §3: "length-bounded").
const MaxQuestionLength = 4000

// Validate enforces the invariants spec.md §3 states for Query.
func (q *Query) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return edgeerr.New(edgeerr.BadRequest, "question must not be empty")
	}
	if len(q.Question) > MaxQuestionLength {
		return edgeerr.New(edgeerr.BadRequest, "question exceeds maximum length")
	}
	if q.UserID == "" {
		return edgeerr.New(edgeerr.BadRequest, "user-id is required")
	}
	if q.SubjectID == "" {
		return edgeerr.New(edgeerr.BadRequest, "subject-id is required")
	}
	return nil
}

// SourceRef is one retrieved-chunk citation backing an Answer.
type SourceRef struct {
	ChunkID    string
	DocumentID string
	Similarity float64
}

// Answer is immutable once constructed by the orchestrator (spec §3).
type Answer struct {
	Text        string
	Confidence  float64
	Sources     []SourceRef
	TokenCount  int
	LatencyMS   int64
	CacheHit    bool
	QueuePos    int
	GeneratedAt time.Time
}

// ChatRecord is the persisted copy of a completed Query+Answer (spec §3).
type ChatRecord struct {
	ID         string
	UserID     string
	SubjectID  string
	Question   string
	Response   string
	Confidence float64
	CreatedAt  time.Time
}

// MasteryRecord is the per-(user,subject,topic) mastery state (spec §3, §4.5).
type MasteryRecord struct {
	UserID          string
	SubjectID       string
	Topic           string
	MasteryLevel    float64
	QuestionCount   int
	CorrectCount    int
	LastInteraction time.Time
	CreatedAt       time.Time
}

// WeakArea is a derived view over MasteryRecord (spec §3, §4.5).
type WeakArea struct {
	UserID     string
	SubjectID  string
	Topic      string
	Score      float64
	DetectedAt time.Time
}

// PracticeQuestion is one item from the pre-seeded question bank (spec §4.5).
type PracticeQuestion struct {
	Topic      string
	Question   string
	Answer     string
	Difficulty string // "easy" | "medium" | "hard"
}

// Chunk is the retrieval unit stored in a VKP (spec §3 "VKP").
type Chunk struct {
	ChunkID    string
	Text       string
	Embedding  []float32
	SourceFile string
	Position   int
	CharStart  int
	CharEnd    int
	Topic      string
}

// VKPManifest describes a knowledge-package version (spec §6 wire format).
type VKPManifest struct {
	Subject          string
	Grade            string
	Version          string // MAJOR.MINOR.PATCH
	CreatedAt        time.Time
	EmbeddingModel   string
	ChunkSize        int
	ChunkOverlap     int
	TotalChunks      int
	SourceFiles      []string
	EmbeddingDim     int
}

// VKP is the immutable bundle identified by (subject, grade, version) (spec §3).
type VKP struct {
	Manifest VKPManifest
	Chunks   []Chunk
	Checksum string // "sha256:" + hex(...)
}

// VKPHistoryEntry is a retained prior version for rollback (spec §3, bounded depth).
type VKPHistoryEntry struct {
	Version   string
	Chunks    []Chunk
	Manifest  VKPManifest
	Installed time.Time
}

// VKPInstallation is the per-(subject,grade) active-version record (spec §3).
type VKPInstallation struct {
	Subject        string
	Grade          string
	ActiveVersion  string
	EmbeddingDim   int
	History        []VKPHistoryEntry // bounded depth, most recent last
}

// TelemetryEvent is the anonymized per-query record (spec §3, §4.8).
// Invariant enforced by the caller (telemetry.Pipeline), not this struct:
// it must never carry a user-id, question/answer text, IP, or session token.
type TelemetryEvent struct {
	HourBucket       time.Time
	LatencyMS        int64
	Success          bool
	ErrorKind        string // edgeerr.Kind as a string, "" when Success
	SubjectID        string
	ActiveVKPVersion string
	CacheHit         bool
	TopicUnresolved  bool // retrieval returned no chunk a topic could be resolved from; mastery update was skipped
}
