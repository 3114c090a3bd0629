package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func waitState(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case state, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return state
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connectivity notification")
	}
	return State{}
}

func TestMonitorStartsOffline(t *testing.T) {
	t.Parallel()

	m := NewMonitor(ProberFunc(func(context.Context) bool { return false }), time.Minute)
	if m.IsOnline() {
		t.Fatal("new monitor should report offline until a probe succeeds")
	}
}

func TestSetOnlineNotifiesOnEdgesOnly(t *testing.T) {
	t.Parallel()

	m := NewMonitor(ProberFunc(func(context.Context) bool { return false }), time.Minute)
	states, cancel := m.Subscribe()
	defer cancel()

	m.SetOnline(true)
	state := waitState(t, states)
	if !state.Online {
		t.Fatalf("first edge = %+v, want online", state)
	}
	if state.At.IsZero() {
		t.Fatal("edge timestamp is zero")
	}

	// Repeating the same state is not an edge.
	m.SetOnline(true)
	select {
	case state := <-states:
		t.Fatalf("unexpected notification for repeated state: %+v", state)
	case <-time.After(50 * time.Millisecond):
	}

	m.SetOnline(false)
	state = waitState(t, states)
	if state.Online {
		t.Fatalf("second edge = %+v, want offline", state)
	}
	if m.IsOnline() {
		t.Fatal("IsOnline() should report offline after the edge")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	t.Parallel()

	m := NewMonitor(ProberFunc(func(context.Context) bool { return false }), time.Minute)
	states, cancel := m.Subscribe()
	cancel()

	if _, ok := <-states; ok {
		t.Fatal("expected the channel to be closed after cancel")
	}

	// Flipping after cancel must not panic or hang.
	m.SetOnline(true)
	m.SetOnline(false)
}

func TestSlowSubscriberNeverBlocksTheMonitor(t *testing.T) {
	t.Parallel()

	m := NewMonitor(ProberFunc(func(context.Context) bool { return false }), time.Minute)
	_, cancel := m.Subscribe() // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			m.SetOnline(i%2 == 0)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor blocked on an undrained subscriber")
	}
}

func TestStartPollsAndDetectsRecovery(t *testing.T) {
	t.Parallel()

	var online atomic.Bool
	m := NewMonitor(ProberFunc(func(context.Context) bool { return online.Load() }), 10*time.Millisecond)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go m.Start(ctx)

	states, cancel := m.Subscribe()
	defer cancel()

	online.Store(true)
	state := waitState(t, states)
	if !state.Online {
		t.Fatalf("poll edge = %+v, want online", state)
	}
	if !m.IsOnline() {
		t.Fatal("IsOnline() should report online after recovery")
	}

	online.Store(false)
	state = waitState(t, states)
	if state.Online {
		t.Fatalf("poll edge = %+v, want offline", state)
	}
}

func TestHTTPProberStatusHandling(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusOK)
	var method atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	prober := NewHTTPProber(server.URL, time.Second, nil)
	ctx := context.Background()

	if !prober.Probe(ctx) {
		t.Fatal("Probe() = false for a 200 health endpoint")
	}
	if got := method.Load(); got != http.MethodHead {
		t.Fatalf("probe used method %v, want HEAD", got)
	}

	status.Store(http.StatusNoContent)
	if !prober.Probe(ctx) {
		t.Fatal("Probe() = false for 204")
	}

	status.Store(http.StatusInternalServerError)
	if prober.Probe(ctx) {
		t.Fatal("Probe() = true for 500")
	}
}

func TestHTTPProberUnreachableHostIsOffline(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	prober := NewHTTPProber(url, 500*time.Millisecond, nil)
	if prober.Probe(context.Background()) {
		t.Fatal("Probe() = true against a closed server")
	}
}
