package mediastore

import (
	"context"
	"os"
	"path/filepath"
)

// sweepOrphans reconciles the media root against the ledger at startup.
// A crash between the byte write and the ledger write leaves a file with no
// entry (including abandoned temp files); a crash mid-delete leaves an
// entry with no file. Both are cleaned up here so the invariant "entry iff
// file" holds before the store serves its first request.
func (s *Store) sweepOrphans() {
	known := make(map[string]bool, len(s.ledger))
	for _, asset := range s.ledger {
		known[asset.StorageKey] = true
	}

	entries, err := os.ReadDir(s.cfg.MediaRoot)
	if err != nil {
		s.logger.Warn("Startup sweep could not list media root: %v", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || known[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.MediaRoot, entry.Name())); err != nil {
			s.logger.Warn("Startup sweep failed to remove orphan file %s: %v", entry.Name(), err)
			continue
		}
		s.health.RecordOrphanSwept("file")
		s.logger.Info("Startup sweep removed orphan file %s", entry.Name())
	}

	dropped := 0
	for id, asset := range s.ledger {
		if _, err := os.Stat(filepath.Join(s.cfg.MediaRoot, asset.StorageKey)); os.IsNotExist(err) {
			delete(s.ledger, id)
			dropped++
			s.health.RecordOrphanSwept("entry")
			s.logger.Warn("Startup sweep dropped ledger entry %s: backing file missing", id)
		}
	}
	if dropped > 0 {
		if err := s.rewriteLedgerLocked(context.Background()); err != nil {
			s.logger.Warn("Startup sweep could not persist ledger after dropping %d entries: %v", dropped, err)
		}
	}
}
