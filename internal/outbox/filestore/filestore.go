// Package filestore persists the submission queue as a single JSON
// document, rewritten atomically on every mutation. All operations go
// through one mutex; the queues this agent manages are small enough that
// whole-file rewrites stay cheap.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	stagerrors "github.com/Asgard-Solutions/ironstag-sub000/internal/errors"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/fsutil"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox"
)

// Store implements outbox.Store on a single JSON file.
type Store struct {
	path string

	mu     sync.Mutex
	subs   []outbox.Submission
	loaded bool
}

// New returns a store backed by the JSON document at path. The file is
// created lazily on the first append.
func New(path string) *Store {
	return &Store{path: path}
}

// Append persists sub at the tail of the queue.
func (s *Store) Append(ctx context.Context, sub outbox.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	if err := s.persistLocked(); err != nil {
		s.subs = s.subs[:len(s.subs)-1]
		return err
	}
	return nil
}

// List returns all pending submissions, oldest first.
func (s *Store) List(ctx context.Context) ([]outbox.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	out := make([]outbox.Submission, len(s.subs))
	copy(out, s.subs)
	return out, nil
}

// Update rewrites the stored submission with the same ID.
func (s *Store) Update(ctx context.Context, sub outbox.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	for i := range s.subs {
		if s.subs[i].ID == sub.ID {
			previous := s.subs[i]
			s.subs[i] = sub
			if err := s.persistLocked(); err != nil {
				s.subs[i] = previous
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("filestore: %w: %s", outbox.ErrSubmissionNotFound, sub.ID)
}

// Remove deletes the submission with the given ID.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	for i := range s.subs {
		if s.subs[i].ID == id {
			removed := s.subs[i]
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			if err := s.persistLocked(); err != nil {
				s.subs = append(s.subs[:i], append([]outbox.Submission{removed}, s.subs[i:]...)...)
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("filestore: %w: %s", outbox.ErrSubmissionNotFound, id)
}

// Len reports the number of pending submissions.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return 0, err
	}
	return len(s.subs), nil
}

// loadLocked reads the document on first use. A missing file is an empty
// queue. Caller holds s.mu.
func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}

	data, err := fsutil.ReadFileOrEmpty(s.path)
	if err != nil {
		return stagerrors.NewStorageUnavailableError("load queue", err)
	}
	if len(data) > 0 {
		var subs []outbox.Submission
		if err := json.Unmarshal(data, &subs); err != nil {
			return stagerrors.NewStorageUnavailableError("parse queue", err)
		}
		s.subs = subs
	}
	s.loaded = true
	return nil
}

// persistLocked rewrites the whole document. Caller holds s.mu.
func (s *Store) persistLocked() error {
	data, err := fsutil.MarshalJSONIndent(s.subs)
	if err != nil {
		return stagerrors.NewStorageUnavailableError("encode queue", err)
	}
	if err := fsutil.AtomicWrite(s.path, data, 0o644); err != nil {
		return stagerrors.NewStorageUnavailableError("write queue", err)
	}
	return nil
}
