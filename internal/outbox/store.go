package outbox

import (
	"context"
	"fmt"
)

// ErrSubmissionNotFound is returned by Store implementations when the
// requested submission ID does not exist.
var ErrSubmissionNotFound = fmt.Errorf("submission not found")

// Store is the persistence port for queued submissions. Implementations
// must keep FIFO order stable across restarts.
type Store interface {
	// Append persists a new submission at the tail of the queue.
	Append(ctx context.Context, sub Submission) error
	// List returns all pending submissions, oldest first.
	List(ctx context.Context) ([]Submission, error)
	// Update rewrites the stored submission with the same ID. Returns an
	// error wrapping ErrSubmissionNotFound if it is gone.
	Update(ctx context.Context, sub Submission) error
	// Remove deletes the submission. Returns an error wrapping
	// ErrSubmissionNotFound if it is gone.
	Remove(ctx context.Context, id string) error
	// Len reports the number of pending submissions.
	Len(ctx context.Context) (int, error)
}

// Submitter delivers one submission to the analysis service and returns
// the remote identifier. Errors are classified by the taxonomy in
// internal/errors: permanent failures drop the submission, anything else
// counts against its retry budget.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) (string, error)
}

// SubmitterFunc adapts a plain function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, sub Submission) (string, error)

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, sub Submission) (string, error) {
	return f(ctx, sub)
}
