package outbox

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	stagerrors "github.com/Asgard-Solutions/ironstag-sub000/internal/errors"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/observability"
)

// Sync runs one drain pass: deliver pending submissions oldest-first until
// the queue is empty, connectivity drops, or the context is cancelled.
// Passes are mutually exclusive; a second caller gets a zero Result and no
// error while one is in flight. An offline device likewise returns a zero
// Result without touching the sync timestamps.
func (q *Queue) Sync(ctx context.Context) (Result, error) {
	if !q.syncing.CompareAndSwap(false, true) {
		return Result{}, nil
	}
	if !q.network.IsOnline() {
		q.syncing.Store(false)
		return Result{}, nil
	}

	var span trace.Span
	if q.tracer != nil {
		ctx, span = q.tracer.StartSpan(ctx, observability.SpanSyncPass)
		defer span.End()
	}

	start := time.Now()
	q.metrics.SyncStarted(ctx)
	q.markAttempt(q.now())
	q.notify()

	var res Result
	var err error
	defer func() {
		if res.Synced > 0 {
			q.markSuccess(q.now())
		}
		outcome := "completed"
		if err != nil {
			outcome = "error"
		}
		if span != nil {
			span.SetAttributes(observability.StatusAttrs(outcome)...)
		}
		q.metrics.RecordSyncPass(ctx, outcome, time.Since(start))
		q.metrics.SyncFinished(ctx)
		q.syncing.Store(false)
		q.notify()
	}()

	res, err = q.drain(ctx)
	return res, err
}

// StartAutoSync blocks until ctx is cancelled, starting a drain pass on
// every offline-to-online edge. If the agent boots online with work
// already persisted from a previous run, one pass starts immediately.
func (q *Queue) StartAutoSync(ctx context.Context) {
	states, detach := q.network.Subscribe()
	defer detach()

	if n, err := q.store.Len(ctx); err == nil && n > 0 && q.network.IsOnline() {
		q.logger.Info("Resuming sync of %d persisted submissions", n)
		go q.syncInBackground(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			if state.Online {
				go q.syncInBackground(ctx)
			}
		}
	}
}

func (q *Queue) syncInBackground(ctx context.Context) {
	if _, err := q.Sync(ctx); err != nil {
		q.logger.Warn("Automatic sync failed: %v", err)
	}
}

// drain walks the FIFO snapshot and settles each submission. Store
// mutations run on the caller's context, not the pass context, so a
// connectivity drop never loses the outcome of a request that already
// finished.
func (q *Queue) drain(ctx context.Context) (Result, error) {
	var res Result

	pending, err := q.store.List(ctx)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		q.logger.Debug("Sync pass found an empty queue")
		return res, nil
	}

	// Cancel the pass the moment connectivity drops so a dead link does
	// not burn the retry budget of everything still queued.
	passCtx, cancelPass := context.WithCancel(ctx)
	defer cancelPass()
	states, detach := q.network.Subscribe()
	defer detach()
	go func() {
		for {
			select {
			case <-passCtx.Done():
				return
			case state, ok := <-states:
				if !ok {
					return
				}
				if !state.Online {
					cancelPass()
					return
				}
			}
		}
	}()

	q.logger.Info("Sync pass starting with %d pending submissions", len(pending))

	for i, sub := range pending {
		if err := q.limiter.Wait(passCtx); err != nil {
			q.logger.Warn("Sync pass stopped, %d submissions left queued: %v", len(pending)-i, err)
			break
		}
		if !q.network.IsOnline() {
			q.logger.Warn("Connectivity lost, %d submissions left queued", len(pending)-i)
			break
		}

		remoteID, submitErr := q.submitter.Submit(passCtx, sub)
		if submitErr == nil {
			q.dequeue(ctx, sub.ID)
			res.Synced++
			q.metrics.RecordOutcome(ctx, "synced")
			q.logger.Info("Submission %s delivered, remote id %s", sub.ID, remoteID)
			q.notify()
			continue
		}

		if passCtx.Err() != nil {
			// Cancelled while the request was in flight. The attempt does
			// not count against the submission.
			q.logger.Warn("Sync pass cancelled mid-flight, %d submissions left queued", len(pending)-i)
			break
		}

		if stagerrors.IsPermanent(submitErr) {
			q.dequeue(ctx, sub.ID)
			res.Failed++
			q.metrics.RecordOutcome(ctx, "rejected")
			q.logger.Warn("Submission %s rejected permanently: %v", sub.ID, submitErr)
			q.notify()
			continue
		}

		sub.RetryCount++
		sub.LastError = submitErr.Error()
		if sub.RetryCount >= q.retryCeiling {
			q.dequeue(ctx, sub.ID)
			res.Failed++
			q.metrics.RecordOutcome(ctx, "abandoned")
			q.logger.Warn("Submission %s abandoned after %d attempts: %v", sub.ID, sub.RetryCount, submitErr)
		} else {
			if err := q.store.Update(ctx, sub); err != nil {
				q.logger.Error("Submission %s retry state not persisted: %v", sub.ID, err)
			}
			q.metrics.RecordOutcome(ctx, "retried")
			q.logger.Debug("Submission %s failed attempt %d of %d: %v", sub.ID, sub.RetryCount, q.retryCeiling, submitErr)
		}
		q.notify()
	}

	return res, nil
}

// dequeue removes a settled submission, tolerating a concurrent Cancel.
func (q *Queue) dequeue(ctx context.Context, id string) {
	if err := q.store.Remove(ctx, id); err != nil && !errors.Is(err, ErrSubmissionNotFound) {
		q.logger.Error("Submission %s settled but not dequeued: %v", id, err)
	}
}
