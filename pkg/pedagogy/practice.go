package pedagogy

import (
	"context"
	"sort"

	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
)

// Difficulty mapping thresholds (spec §4.5).
const (
	EasyCeiling   = 0.3
	MediumCeiling = 0.6
)

// DifficultyForMastery maps a mastery level to a practice-question
// difficulty band: below EasyCeiling → easy, below MediumCeiling → medium,
// else hard.
func DifficultyForMastery(level float64) string {
	switch {
	case level < EasyCeiling:
		return "easy"
	case level < MediumCeiling:
		return "medium"
	default:
		return "hard"
	}
}

// SelectPracticeQuestions returns up to limit practice items for
// (userID, subjectID), biased toward the student's weak areas. Topic order
// is: weak-area topics first (randomly ordered via rng, so ties don't
// always favor the same topic), then the remaining topics the student has
// any mastery record for. The relational store applies the actual bias when
// listing (biased-topic matches returned before the rest of the bank).
func SelectPracticeQuestions(ctx context.Context, store ports.RelationalStorePort, rng ports.RandomPort, userID, subjectID string, limit int) ([]models.PracticeQuestion, error) {
	mastery, err := store.ListMastery(ctx, userID, subjectID)
	if err != nil {
		return nil, err
	}
	weakAreas, err := store.ListWeakAreas(ctx, userID, subjectID)
	if err != nil {
		return nil, err
	}

	weakTopics := make([]string, 0, len(weakAreas))
	isWeak := make(map[string]bool, len(weakAreas))
	for _, wa := range weakAreas {
		weakTopics = append(weakTopics, wa.Topic)
		isWeak[wa.Topic] = true
	}
	shuffle(weakTopics, rng)

	otherTopics := make([]string, 0, len(mastery))
	for _, m := range mastery {
		if !isWeak[m.Topic] {
			otherTopics = append(otherTopics, m.Topic)
		}
	}

	topics := append(weakTopics, otherTopics...)
	return store.ListPracticeQuestions(ctx, subjectID, topics, limit)
}

// shuffle reorders topics in place by drawing one rng.Float64() key per topic
// and stable-sorting on those keys, deterministic given a seeded RandomPort.
func shuffle(topics []string, rng ports.RandomPort) {
	keyed := make([]struct {
		topic string
		key   float64
	}, len(topics))
	for i, t := range topics {
		keyed[i] = struct {
			topic string
			key   float64
		}{t, rng.Float64()}
	}
	sort.SliceStable(keyed, func(i, j int) bool { return keyed[i].key < keyed[j].key })
	for i, k := range keyed {
		topics[i] = k.topic
	}
}
