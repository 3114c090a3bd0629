// Package retention ages out local media on a schedule.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
)

const (
	// DefaultSchedule runs the sweep nightly at 03:00 local time,
	// when a field device is least likely to be capturing.
	DefaultSchedule = "0 3 * * *"
	// DefaultSweepTimeout bounds one sweep run.
	DefaultSweepTimeout = 5 * time.Minute
)

// Cleaner removes assets older than the retention policy. A nil
// maxAgeDays means "use the stored policy". *mediastore.Store
// satisfies it.
type Cleaner interface {
	Cleanup(ctx context.Context, maxAgeDays *int) (int, error)
}

// Snapshot reports the sweeper state for health endpoints.
type Snapshot struct {
	Schedule    string     `json:"schedule"`
	Running     bool       `json:"running"`
	LastSweepAt *time.Time `json:"last_sweep_at,omitempty"`
	LastDeleted int        `json:"last_deleted"`
	LastError   string     `json:"last_error,omitempty"`
}

// Sweeper runs the retention cleanup as a cron job. Overlapping runs
// are skipped rather than queued: a sweep that outlives its interval
// should not pile up behind itself.
type Sweeper struct {
	cron     *cron.Cron
	cleaner  Cleaner
	schedule string
	timeout  time.Duration
	logger   logging.Logger

	mu          sync.Mutex
	running     bool
	lastSweepAt *time.Time
	lastDeleted int
	lastErr     error

	stopped  chan struct{}
	stopOnce sync.Once
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Sweeper) { s.logger = logging.OrNop(logger) }
}

// WithTimeout bounds a single sweep run.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Sweeper) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// New builds a sweeper for the given cleaner. An empty schedule falls
// back to DefaultSchedule; the expression itself is validated in Start.
func New(cleaner Cleaner, schedule string, opts ...Option) *Sweeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Sweeper{
		cleaner:  cleaner,
		schedule: schedule,
		timeout:  DefaultSweepTimeout,
		logger:   logging.Nop(),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return s
}

// Start registers the sweep job and starts the scheduler. The sweeper
// stops itself when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Retention sweeper started (schedule=%s)", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
// Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		close(s.stopped)
		s.logger.Info("Retention sweeper stopped")
	})
}

// Done is closed once the sweeper has fully stopped.
func (s *Sweeper) Done() <-chan struct{} {
	return s.stopped
}

// RunNow performs one sweep outside the schedule, using the stored
// retention policy.
func (s *Sweeper) RunNow(ctx context.Context) (int, error) {
	return s.run(ctx)
}

// Snapshot returns the current sweeper state.
func (s *Sweeper) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Schedule:    s.schedule,
		Running:     s.running,
		LastDeleted: s.lastDeleted,
	}
	if s.lastSweepAt != nil {
		at := *s.lastSweepAt
		snap.LastSweepAt = &at
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.run(ctx); err != nil {
		s.logger.Error("Retention sweep failed: %v", err)
	}
}

func (s *Sweeper) run(ctx context.Context) (int, error) {
	start := time.Now()
	deleted, err := s.cleaner.Cleanup(ctx, nil)

	s.mu.Lock()
	at := start.UTC()
	s.lastSweepAt = &at
	s.lastDeleted = deleted
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		s.logger.Info("Retention sweep removed %d expired assets in %s",
			deleted, time.Since(start).Round(time.Millisecond))
	} else {
		s.logger.Debug("Retention sweep found nothing to remove")
	}
	return deleted, nil
}
