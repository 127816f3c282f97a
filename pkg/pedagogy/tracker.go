package pedagogy

import (
	"context"
	"log/slog"
	"time"

	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
)

// Tracker applies mastery updates and weak-area maintenance inside the same
// transaction as the ChatRecord write (spec §4.5: "all mastery updates run
// in a single transaction with the ChatRecord write").
type Tracker struct {
	store ports.RelationalStorePort
	clock ports.ClockPort
	log   *slog.Logger
}

func New(store ports.RelationalStorePort, clock ports.ClockPort, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, clock: clock, log: logger}
}

// RecordInteraction resolves the topic from the retrieved chunks, updates
// MasteryRecord, and upserts/removes the corresponding WeakArea, all within
// tx. Returns (nil, nil) if the topic can't be resolved — the caller should
// count a "topic-unresolved" telemetry event and otherwise proceed.
func (t *Tracker) RecordInteraction(ctx context.Context, tx ports.Tx, userID, subjectID string, retrieved []ports.RetrievedChunk, correct bool, recentQuestionCount int, sinceRecentWindow time.Duration) (*models.MasteryRecord, error) {
	topic, ok := ResolveTopic(retrieved)
	if !ok {
		t.log.Debug("topic unresolved, skipping mastery update", "user_id", userID, "subject_id", subjectID)
		return nil, nil
	}

	existing, err := t.store.GetMastery(ctx, tx, userID, subjectID, topic)
	if err != nil {
		return nil, err
	}

	now := t.clock.Now()
	updated := UpdateMastery(existing, userID, subjectID, topic, correct, now)
	if err := t.store.UpsertMastery(ctx, tx, updated); err != nil {
		return nil, err
	}

	existingWeak, err := t.hasWeakArea(ctx, userID, subjectID, topic)
	if err != nil {
		return nil, err
	}
	weak := ShouldBeWeakArea(existingWeak, updated.MasteryLevel, recentQuestionCount, sinceRecentWindow)
	switch {
	case weak && !existingWeak:
		err = t.store.UpsertWeakArea(ctx, tx, models.WeakArea{
			UserID: userID, SubjectID: subjectID, Topic: topic,
			Score: 1 - updated.MasteryLevel, DetectedAt: now,
		})
	case weak && existingWeak:
		err = t.store.UpsertWeakArea(ctx, tx, models.WeakArea{
			UserID: userID, SubjectID: subjectID, Topic: topic,
			Score: 1 - updated.MasteryLevel, DetectedAt: now,
		})
	case !weak && existingWeak:
		err = t.store.DeleteWeakArea(ctx, tx, userID, subjectID, topic)
	}
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

func (t *Tracker) hasWeakArea(ctx context.Context, userID, subjectID, topic string) (bool, error) {
	areas, err := t.store.ListWeakAreas(ctx, userID, subjectID)
	if err != nil {
		return false, err
	}
	for _, a := range areas {
		if a.Topic == topic {
			return true, nil
		}
	}
	return false, nil
}
