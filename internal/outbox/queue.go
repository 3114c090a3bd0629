package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/time/rate"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/connectivity"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/observability"
)

const (
	// DefaultRetryCeiling abandons a submission after this many failed
	// delivery attempts.
	DefaultRetryCeiling = 3
	// DefaultItemsPerSecond paces sequential delivery during a drain pass.
	DefaultItemsPerSecond = 2

	subscriberBuffer = 8
)

// Network is the slice of the connectivity monitor the queue consumes.
// *connectivity.Monitor satisfies it.
type Network interface {
	IsOnline() bool
	Subscribe() (<-chan connectivity.State, func())
}

// Queue owns the submission lifecycle: persist on enqueue, drain through
// a Submitter when online, publish status changes to subscribers.
type Queue struct {
	store        Store
	submitter    Submitter
	network      Network
	logger       logging.Logger
	metrics      *observability.MetricsCollector
	tracer       *observability.TracerProvider
	limiter      *rate.Limiter
	retryCeiling int
	now          func() time.Time

	syncing atomic.Bool

	mu          sync.Mutex
	lastAttempt *time.Time
	lastSuccess *time.Time
	subs        []chan Status
}

// QueueOption customizes a Queue.
type QueueOption func(*Queue)

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) QueueOption {
	return func(q *Queue) { q.logger = logging.OrNop(logger) }
}

// WithMetrics attaches the agent metrics collector.
func WithMetrics(metrics *observability.MetricsCollector) QueueOption {
	return func(q *Queue) {
		if metrics != nil {
			q.metrics = metrics
		}
	}
}

// WithTracer attaches a tracer; each sync pass then runs inside a span.
func WithTracer(tracer *observability.TracerProvider) QueueOption {
	return func(q *Queue) { q.tracer = tracer }
}

// WithRetryCeiling overrides the per-submission retry budget.
func WithRetryCeiling(ceiling int) QueueOption {
	return func(q *Queue) {
		if ceiling > 0 {
			q.retryCeiling = ceiling
		}
	}
}

// WithPace overrides the drain pacing in items per second.
func WithPace(itemsPerSecond float64) QueueOption {
	return func(q *Queue) {
		if itemsPerSecond > 0 {
			q.limiter = rate.NewLimiter(rate.Limit(itemsPerSecond), 1)
		}
	}
}

// WithClock overrides the time source. Tests pin timestamps with it.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewQueue wires the queue to its persistence, delivery and connectivity
// collaborators.
func NewQueue(store Store, submitter Submitter, network Network, opts ...QueueOption) *Queue {
	q := &Queue{
		store:        store,
		submitter:    submitter,
		network:      network,
		logger:       logging.Nop(),
		metrics:      &observability.MetricsCollector{},
		limiter:      rate.NewLimiter(rate.Limit(DefaultItemsPerSecond), 1),
		retryCeiling: DefaultRetryCeiling,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue persists a submission and returns it with ID and CreatedAt
// assigned. Persistence always happens first; if the device is online, a
// background drain pass starts immediately (queue-then-drain, so offline
// and online capture follow the same code path).
func (q *Queue) Enqueue(ctx context.Context, sub Submission) (Submission, error) {
	if sub.LocalImageID == "" {
		return Submission{}, fmt.Errorf("outbox: local image id is required")
	}
	if sub.ImagePath == "" {
		return Submission{}, fmt.Errorf("outbox: image path is required")
	}

	sub.ID = ksuid.New().String()
	sub.CreatedAt = q.now().UTC()
	sub.RetryCount = 0
	sub.LastError = ""

	if err := q.store.Append(ctx, sub); err != nil {
		return Submission{}, err
	}
	q.metrics.RecordEnqueue(ctx)
	q.logger.Info("Queued submission %s for asset %s", sub.ID, sub.LocalImageID)
	q.notify()

	if q.network.IsOnline() {
		go q.syncInBackground(context.Background())
	}
	return sub, nil
}

// Cancel removes a pending submission. Reports false when the ID is
// unknown, which includes the race where a sync pass settled it first.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	if err := q.store.Remove(ctx, id); err != nil {
		if errors.Is(err, ErrSubmissionNotFound) {
			return false, nil
		}
		return false, err
	}
	q.logger.Info("Cancelled submission %s", id)
	q.notify()
	return true, nil
}

// Pending returns a FIFO snapshot of the queue.
func (q *Queue) Pending(ctx context.Context) ([]Submission, error) {
	return q.store.List(ctx)
}

// Status reports the queue's current observable state.
func (q *Queue) Status() Status {
	pending, err := q.store.Len(context.Background())
	if err != nil {
		q.logger.Warn("Queue length unavailable: %v", err)
		pending = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		PendingCount:    pending,
		IsSyncing:       q.syncing.Load(),
		LastSyncAttempt: q.lastAttempt,
		LastSyncSuccess: q.lastSuccess,
	}
}

// Subscribe registers for status notifications. The returned cancel func
// detaches the subscriber and closes its channel. Sends never block; a
// subscriber that falls behind misses intermediate snapshots only.
func (q *Queue) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, subscriberBuffer)

	q.mu.Lock()
	q.subs = append(q.subs, ch)
	q.mu.Unlock()

	cancel := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, sub := range q.subs {
			if sub == ch {
				q.subs = append(q.subs[:i], q.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// notify fans the current status out to all subscribers.
func (q *Queue) notify() {
	status := q.Status()

	q.mu.Lock()
	for _, ch := range q.subs {
		select {
		case ch <- status:
		default:
		}
	}
	q.mu.Unlock()
}

func (q *Queue) markAttempt(at time.Time) {
	at = at.UTC()
	q.mu.Lock()
	q.lastAttempt = &at
	q.mu.Unlock()
}

func (q *Queue) markSuccess(at time.Time) {
	at = at.UTC()
	q.mu.Lock()
	q.lastSuccess = &at
	q.mu.Unlock()
}
