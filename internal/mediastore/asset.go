package mediastore

import (
	"strings"
	"time"
)

// Asset describes one stored media file. The ledger entry is written only
// after the bytes are fully on disk, so an Asset handed to a caller always
// has a readable backing file at that moment.
type Asset struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	SizeBytes  int64     `json:"size_bytes"`
	Extension  string    `json:"extension"`
	StorageKey string    `json:"storage_key"`
}

// Stats aggregates the ledger for UI and diagnostics.
type Stats struct {
	Count           int        `json:"count"`
	TotalBytes      int64      `json:"total_bytes"`
	OldestCreatedAt *time.Time `json:"oldest_created_at,omitempty"`
}

// Policy is the retention setting, persisted independently of the ledger.
type Policy struct {
	MaxAgeDays int `json:"max_age_days"`
}

// allowedExtensions is the suffix allow-list for incoming file names.
// Anything that does not match falls back to jpg.
var allowedExtensions = []string{"jpeg", "jpg", "png", "gif", "webp", "heic"}

// NormalizeExtension derives the stored extension from an original file
// name. Matching is a case-insensitive suffix check; jpeg collapses to jpg
// so a given image never exists under two spellings.
func NormalizeExtension(origName string) string {
	lower := strings.ToLower(strings.TrimSpace(origName))
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, "."+ext) {
			if ext == "jpeg" {
				return "jpg"
			}
			return ext
		}
	}
	return "jpg"
}

// ContentType reports the MIME type for the asset's extension.
func (a Asset) ContentType() string {
	switch a.Extension {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "heic":
		return "image/heic"
	default:
		return "image/jpeg"
	}
}
