// Package vkp implements the versioned knowledge package manager (C6): the
// install/verify/rollback state machine for each (subject, grade)'s active
// curriculum bundle.
package vkp

import (
	"encoding/json"
	"time"

	"github.com/edge-tutor/node/pkg/models"
)

// wireManifest mirrors spec §6's manifest field list.
type wireManifest struct {
	Subject        string    `json:"subject"`
	Grade          string    `json:"grade"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	EmbeddingModel string    `json:"embedding_model"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	TotalChunks    int       `json:"total_chunks"`
	SourceFiles    []string  `json:"source_files"`
	EmbeddingDim   int       `json:"embedding_dim"`
}

// wireChunk mirrors spec §6's chunk field list.
type wireChunk struct {
	ChunkID    string    `json:"chunk_id"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	SourceFile string    `json:"source_file"`
	ChunkIndex int       `json:"chunk_index"`
	CharStart  int       `json:"char_start"`
	CharEnd    int       `json:"char_end"`
	Topic      string    `json:"topic"`
}

// wireDocument is the on-the-wire VKP file format: manifest + chunks, with
// checksum carried alongside (never included in the hashed payload).
type wireDocument struct {
	Manifest wireManifest `json:"manifest"`
	Chunks   []wireChunk  `json:"chunks"`
	Checksum string       `json:"checksum"`
}

// ParseBundle decodes raw VKP bytes, computes the checksum over
// manifest ∪ chunks (excluding the checksum field), and returns the
// models.VKP plus whether the declared checksum matches.
func ParseBundle(raw []byte) (models.VKP, bool, error) {
	var doc wireDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.VKP{}, false, err
	}

	hashable, err := json.Marshal(struct {
		Manifest wireManifest `json:"manifest"`
		Chunks   []wireChunk  `json:"chunks"`
	}{doc.Manifest, doc.Chunks})
	if err != nil {
		return models.VKP{}, false, err
	}
	computed := computeChecksum(hashable)

	chunks := make([]models.Chunk, 0, len(doc.Chunks))
	for _, c := range doc.Chunks {
		chunks = append(chunks, models.Chunk{
			ChunkID:    c.ChunkID,
			Text:       c.Text,
			Embedding:  c.Embedding,
			SourceFile: c.SourceFile,
			Position:   c.ChunkIndex,
			CharStart:  c.CharStart,
			CharEnd:    c.CharEnd,
			Topic:      c.Topic,
		})
	}

	vkp := models.VKP{
		Manifest: models.VKPManifest{
			Subject:        doc.Manifest.Subject,
			Grade:          doc.Manifest.Grade,
			Version:        doc.Manifest.Version,
			CreatedAt:      doc.Manifest.CreatedAt,
			EmbeddingModel: doc.Manifest.EmbeddingModel,
			ChunkSize:      doc.Manifest.ChunkSize,
			ChunkOverlap:   doc.Manifest.ChunkOverlap,
			TotalChunks:    doc.Manifest.TotalChunks,
			SourceFiles:    doc.Manifest.SourceFiles,
			EmbeddingDim:   doc.Manifest.EmbeddingDim,
		},
		Chunks:   chunks,
		Checksum: doc.Checksum,
	}
	return vkp, computed == doc.Checksum, nil
}
