// Package sqlitestore persists the submission queue in SQLite via the
// pure-Go driver (modernc.org/sqlite) — no cgo required. A monotonic seq
// column keeps FIFO order stable across restarts regardless of how rows
// are updated in place.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	stagerrors "github.com/Asgard-Solutions/ironstag-sub000/internal/errors"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/fsutil"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox"
)

// Store implements outbox.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the queue database at the given path.
func Open(path string) (*Store, error) {
	if err := fsutil.EnsureParentDir(path); err != nil {
		return nil, stagerrors.NewStorageUnavailableError("open queue", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, stagerrors.NewStorageUnavailableError("open queue", err)
	}

	// WAL keeps status reads cheap while a sync pass writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, stagerrors.NewStorageUnavailableError("open queue", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, stagerrors.NewStorageUnavailableError("migrate queue", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS submissions (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT NOT NULL UNIQUE,
			local_image_id TEXT NOT NULL,
			image_path     TEXT NOT NULL,
			notes          TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			retry_count    INTEGER NOT NULL DEFAULT 0,
			last_error     TEXT NOT NULL DEFAULT ''
		)
	`)
	return err
}

// Append persists sub at the tail of the queue.
func (s *Store) Append(ctx context.Context, sub outbox.Submission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, local_image_id, image_path, notes, created_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sub.ID, sub.LocalImageID, sub.ImagePath, sub.Notes,
		sub.CreatedAt.UTC().Format(time.RFC3339Nano), sub.RetryCount, sub.LastError)
	if err != nil {
		return stagerrors.NewStorageUnavailableError("append submission", err)
	}
	return nil
}

// List returns all pending submissions in seq order, oldest first.
func (s *Store) List(ctx context.Context) ([]outbox.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, local_image_id, image_path, notes, created_at, retry_count, last_error
		FROM submissions ORDER BY seq ASC
	`)
	if err != nil {
		return nil, stagerrors.NewStorageUnavailableError("list submissions", err)
	}
	defer rows.Close()

	var subs []outbox.Submission
	for rows.Next() {
		var sub outbox.Submission
		var createdStr string
		if err := rows.Scan(&sub.ID, &sub.LocalImageID, &sub.ImagePath, &sub.Notes,
			&createdStr, &sub.RetryCount, &sub.LastError); err != nil {
			return nil, stagerrors.NewStorageUnavailableError("scan submission", err)
		}
		sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, stagerrors.NewStorageUnavailableError("list submissions", err)
	}
	return subs, nil
}

// Update rewrites the mutable fields of the stored submission.
func (s *Store) Update(ctx context.Context, sub outbox.Submission) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET local_image_id = ?, image_path = ?, notes = ?, retry_count = ?, last_error = ?
		WHERE id = ?
	`, sub.LocalImageID, sub.ImagePath, sub.Notes, sub.RetryCount, sub.LastError, sub.ID)
	if err != nil {
		return stagerrors.NewStorageUnavailableError("update submission", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlitestore: %w: %s", outbox.ErrSubmissionNotFound, sub.ID)
	}
	return nil
}

// Remove deletes the submission with the given ID.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, id)
	if err != nil {
		return stagerrors.NewStorageUnavailableError("remove submission", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlitestore: %w: %s", outbox.ErrSubmissionNotFound, id)
	}
	return nil
}

// Len reports the number of pending submissions.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n); err != nil {
		return 0, stagerrors.NewStorageUnavailableError("count submissions", err)
	}
	return n, nil
}
