package retention

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockCleaner records Cleanup calls.
type mockCleaner struct {
	mu      sync.Mutex
	calls   []*int
	deleted int
	err     error
}

func (m *mockCleaner) Cleanup(_ context.Context, maxAgeDays *int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, maxAgeDays)
	if m.err != nil {
		return 0, m.err
	}
	return m.deleted, nil
}

func (m *mockCleaner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestSweeper_RunNowUsesStoredPolicy(t *testing.T) {
	cleaner := &mockCleaner{deleted: 4}
	sweeper := New(cleaner, "")

	deleted, err := sweeper.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("RunNow() = %d, want 4", deleted)
	}
	if cleaner.callCount() != 1 {
		t.Fatalf("cleaner called %d times, want 1", cleaner.callCount())
	}
	if days := cleaner.calls[0]; days != nil {
		t.Fatalf("expected nil maxAgeDays (stored policy), got %d", *days)
	}

	snap := sweeper.Snapshot()
	if snap.LastSweepAt == nil {
		t.Fatal("expected LastSweepAt to be stamped")
	}
	if snap.LastDeleted != 4 {
		t.Fatalf("LastDeleted = %d, want 4", snap.LastDeleted)
	}
	if snap.LastError != "" {
		t.Fatalf("unexpected LastError %q", snap.LastError)
	}
}

func TestSweeper_RunNowRecordsFailure(t *testing.T) {
	cleaner := &mockCleaner{err: fmt.Errorf("ledger locked")}
	sweeper := New(cleaner, "")

	if _, err := sweeper.RunNow(context.Background()); err == nil {
		t.Fatal("expected cleanup error")
	}

	snap := sweeper.Snapshot()
	if !strings.Contains(snap.LastError, "ledger locked") {
		t.Fatalf("LastError = %q, want the cleanup failure", snap.LastError)
	}
}

func TestSweeper_SnapshotBeforeFirstSweep(t *testing.T) {
	sweeper := New(&mockCleaner{}, "30 2 * * *")

	snap := sweeper.Snapshot()
	if snap.Schedule != "30 2 * * *" {
		t.Fatalf("Schedule = %q", snap.Schedule)
	}
	if snap.Running {
		t.Fatal("sweeper should not report running before Start")
	}
	if snap.LastSweepAt != nil {
		t.Fatalf("LastSweepAt = %v, want nil", snap.LastSweepAt)
	}
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	sweeper := New(&mockCleaner{}, "not a cron expression")

	err := sweeper.Start(context.Background())
	if err == nil {
		t.Fatal("expected schedule validation error")
	}
	if !strings.Contains(err.Error(), "invalid sweep schedule") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSweeper_StopsOnContextCancel(t *testing.T) {
	sweeper := New(&mockCleaner{}, "")

	ctx, cancel := context.WithCancel(context.Background())
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sweeper.Snapshot().Running {
		t.Fatal("sweeper should report running after Start")
	}

	cancel()
	select {
	case <-sweeper.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
	if sweeper.Snapshot().Running {
		t.Fatal("sweeper still reports running after stop")
	}

	// Stop is idempotent.
	sweeper.Stop()
}
