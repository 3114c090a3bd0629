// Package outbox is the submission queue between local capture and the
// remote analysis service. Submissions are persisted before any delivery
// attempt and drained strictly oldest-first whenever the device is online;
// a submission leaves the queue only by delivery, explicit cancellation,
// a permanent rejection, or exhausting its retry budget.
package outbox

import "time"

// Submission is one queued delivery request.
type Submission struct {
	// ID is a KSUID: unique and lexicographically ordered by creation time,
	// which lets the stores fall back to ID order for FIFO.
	ID string `json:"id"`
	// LocalImageID is the media store asset this submission references.
	LocalImageID string `json:"local_image_id"`
	// ImagePath is the absolute path of the asset bytes, captured at
	// enqueue time. The queue never calls back into the media store.
	ImagePath string `json:"image_path"`
	// Notes carries optional free-form text for the analysis service.
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// RetryCount counts failed delivery attempts. Persisted, so the retry
	// budget survives restarts.
	RetryCount int `json:"retry_count"`
	// LastError describes the most recent delivery failure, if any.
	LastError string `json:"last_error,omitempty"`
}

// Status is the queue's observable state, pushed to subscribers on every
// change and served by the status endpoints.
type Status struct {
	PendingCount    int        `json:"pending_count"`
	IsSyncing       bool       `json:"is_syncing"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt,omitempty"`
	LastSyncSuccess *time.Time `json:"last_sync_success,omitempty"`
}

// Result tallies one drain pass. Failed counts both permanent rejections
// and submissions abandoned at the retry ceiling.
type Result struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}
