package rag

import (
	"strings"

	"github.com/edge-tutor/node/pkg/ports"
)

// PromptDelimiter separates retrieved chunk texts in the assembled prompt.
const PromptDelimiter = "\n---\n"

// DefaultSystemDirectives is prepended to every prompt.
const DefaultSystemDirectives = "You are a patient tutor. Answer only from the provided curriculum context. " +
	"If the context does not cover the question, say so plainly."

// assemblePrompt builds the deterministic template from spec §4.4 step 4:
// system directives, then retrieved chunk texts in retrieval order separated
// by PromptDelimiter, then the question. Chunks are added greedily in
// retrieval order (already similarity-descending) until adding the next one
// would exceed maxChars — this is equivalent to "drop lowest-similarity
// chunks first" since retrieval order is already best-first, and it never
// splits a chunk mid-token. kept reports which chunks made it in.
func assemblePrompt(systemDirectives, question string, chunks []ports.RetrievedChunk, maxChars int) (prompt string, kept []ports.RetrievedChunk) {
	var b strings.Builder
	b.WriteString(systemDirectives)

	budget := maxChars - b.Len() - len(PromptDelimiter) - len(question)
	for _, c := range chunks {
		addition := PromptDelimiter + c.Text
		if len(addition) > budget {
			break
		}
		b.WriteString(addition)
		budget -= len(addition)
		kept = append(kept, c)
	}
	b.WriteString(PromptDelimiter)
	b.WriteString(question)
	return b.String(), kept
}
