// Package history persists per-title watch progress.
//
// Exactly one record is retained per title: saving progress for a title
// replaces whatever episode was stored before. Concurrent writers are not
// reconciled beyond last-write-wins, which is acceptable for a single-user
// local history.
package history

import "time"

// Progress is one title's stored watch position.
type Progress struct {
	TitleID   string    `json:"titleId"`
	EpisodeID string    `json:"episodeId"`
	Position  float64   `json:"position"`
	Duration  float64   `json:"duration"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the watch-history collaborator consumed by the playback session
// controller and the history API.
type Store interface {
	// Save records progress for a title, evicting any previous record for
	// the same title.
	Save(titleID, episodeID string, position, duration float64) error
	// Get returns the stored progress for a title, if any.
	Get(titleID string) (Progress, bool)
	// Remove deletes one title's record.
	Remove(titleID string) error
	// Clear deletes all records.
	Clear() error
	// List returns records most recently updated first, capped at the
	// store's retention limit.
	List() ([]Progress, error)
	// Close releases the underlying storage.
	Close() error
}
