package pedagogy

import "github.com/edge-tutor/node/pkg/ports"

// ResolveTopic extracts the canonical topic label from the chunks an answer
// was grounded on: the most frequent "topic" metadata value among them,
// ties broken by the chunk's retrieval order (first occurrence wins). If no
// chunk carries a topic, ok is false and the caller must skip the mastery
// update (spec §4.5: "log a topic-unresolved telemetry counter").
func ResolveTopic(chunks []ports.RetrievedChunk) (topic string, ok bool) {
	counts := make(map[string]int)
	order := make([]string, 0, len(chunks))

	for _, c := range chunks {
		t := c.Metadata["topic"]
		if t == "" {
			continue
		}
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	if len(order) == 0 {
		return "", false
	}

	best := order[0]
	for _, t := range order[1:] {
		if counts[t] > counts[best] {
			best = t
		}
	}
	return best, true
}
