// Package pedagogy implements the mastery tracker (C5): it turns each
// persisted (user, subject, topic, correctness) interaction into an updated
// MasteryRecord, derives WeakAreas with hysteresis, and selects practice
// questions biased toward weak topics.
package pedagogy

import (
	"math"
	"time"

	"github.com/edge-tutor/node/pkg/models"
)

// Mastery update weights (spec §4.5: "baseline from correct/total ratio,
// boosted by a logarithmic term in question-count, decayed by time since
// last interaction past a threshold"). Pinned here so tests can verify the
// exact curve.
const (
	ratioWeight   = 0.85
	exposureWeight = 0.05
	exposureCap    = 0.15
	decayThreshold = 14 * 24 * time.Hour
	decayPerDay    = 0.01
)

// UpdateMastery applies one interaction to existing (nil for a first
// interaction) and returns the new record. correct, if true, increments
// correct_count; the caller passes an explicit bool derived from the
// external correctness signal (nil signal ⇒ never call with true).
func UpdateMastery(existing *models.MasteryRecord, userID, subjectID, topic string, correct bool, now time.Time) models.MasteryRecord {
	rec := models.MasteryRecord{
		UserID:    userID,
		SubjectID: subjectID,
		Topic:     topic,
		CreatedAt: now,
	}
	if existing != nil {
		rec = *existing
	}

	rec.QuestionCount++
	if correct {
		rec.CorrectCount++
	}

	elapsed := now.Sub(rec.LastInteraction)
	if rec.LastInteraction.IsZero() {
		elapsed = 0
	}
	rec.MasteryLevel = masteryLevel(rec.QuestionCount, rec.CorrectCount, elapsed)
	rec.LastInteraction = now
	return rec
}

// masteryLevel is f(question_count, correct_count, elapsed_since_last) from
// spec §4.5, clamped to [0,1].
func masteryLevel(questionCount, correctCount int, elapsed time.Duration) float64 {
	if questionCount == 0 {
		return 0
	}
	ratio := float64(correctCount) / float64(questionCount)
	exposureBoost := math.Min(exposureCap, exposureWeight*math.Log1p(float64(questionCount)))
	level := ratio*ratioWeight + exposureBoost

	if elapsed > decayThreshold {
		daysPast := (elapsed - decayThreshold).Hours() / 24
		level -= daysPast * decayPerDay
	}

	return clamp01(level)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
