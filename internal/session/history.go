package session

import (
	"slices"

	"github.com/MegaGrindStone/datachat/internal/models"
)

// DefaultHistoryLimit is the number of entries a conversation keeps in view.
const DefaultHistoryLimit = 4

// Truncate returns the most recent limit entries of history, in their original relative order. The
// returned slice never shares its backing array with history. A non-positive limit disables truncation.
func Truncate(history []models.ChatEntry, limit int) []models.ChatEntry {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return slices.Clone(history)
}

func appendEntries(history []models.ChatEntry, limit int, entries ...models.ChatEntry) []models.ChatEntry {
	next := make([]models.ChatEntry, 0, len(history)+len(entries))
	next = append(next, history...)
	next = append(next, entries...)
	return Truncate(next, limit)
}

// removeTrailingPending drops the last entry if it is the in-flight placeholder.
func removeTrailingPending(history []models.ChatEntry) []models.ChatEntry {
	if len(history) == 0 || history[len(history)-1].Kind != models.KindPending {
		return history
	}
	return history[:len(history)-1]
}
