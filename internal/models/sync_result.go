package models

// CategoryResult counts outcomes for one buffer category.
type CategoryResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// SyncResult summarizes one offline-buffer drain. It is never persisted.
type SyncResult struct {
	EventsSync       CategoryResult `json:"eventsSync"`
	MatchUpdatesSync CategoryResult `json:"matchUpdatesSync"`
	Skipped          bool           `json:"skipped,omitempty"`
}

// Total returns the number of items that replayed successfully.
func (r SyncResult) Total() int {
	return r.EventsSync.Success + r.MatchUpdatesSync.Success
}

// DrainResult summarizes one pass over the generic operation queue.
type DrainResult struct {
	Success      bool   `json:"success"`
	Offline      bool   `json:"offline,omitempty"`
	InProgress   bool   `json:"in_progress,omitempty"`
	Synced       int    `json:"synced"`
	Errors       int    `json:"errors"`
	DeadLettered int    `json:"dead_lettered"`
	// Deferred counts operations held back behind an earlier failure on the
	// same record. They stay queued without using an attempt.
	Deferred     int    `json:"deferred,omitempty"`
	Message      string `json:"message,omitempty"`
}

// SaveResult describes how a write was accepted.
type SaveResult struct {
	ID     string `json:"id"`
	Synced bool   `json:"synced"`
	Queued bool   `json:"queued"`
}
