package pedagogy

import "time"

// Weak-area thresholds (spec §4.5): enter below 0.4, exit only once mastery
// rises to 0.5 or above — hysteresis prevents flapping around 0.4.
const (
	WeakAreaEnterThreshold = 0.4
	WeakAreaExitThreshold  = 0.5

	// recentQuestionWindow and recentQuestionThreshold implement the
	// secondary trigger: a high question volume in a short window, while
	// still recent, flags a topic even if its running average hasn't
	// dropped below WeakAreaEnterThreshold yet.
	recentQuestionWindow    = 24 * time.Hour
	recentQuestionThreshold = 8
)

// ShouldBeWeakArea decides whether topic should carry a WeakArea record
// after this update. existing reports whether one is currently recorded;
// hysteresis means the exit test only applies when one already exists.
func ShouldBeWeakArea(existing bool, masteryLevel float64, recentQuestionCount int, sinceRecentWindow time.Duration) bool {
	if existing {
		return masteryLevel < WeakAreaExitThreshold
	}
	recencyFresh := sinceRecentWindow <= recentQuestionWindow
	return masteryLevel < WeakAreaEnterThreshold || (recentQuestionCount > recentQuestionThreshold && recencyFresh)
}
