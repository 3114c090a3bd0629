// Package connectivity tracks whether the device can reach the analysis
// backend. A Monitor polls a Prober on an interval, keeps the last known
// answer, and fans edge transitions out to subscribers. Host platforms
// with their own reachability signal can bypass polling entirely and feed
// SetOnline directly.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/observability"
)

// DefaultProbeInterval is the polling cadence when none is configured.
const DefaultProbeInterval = 15 * time.Second

// subscriberBuffer sizes each subscriber channel. Connectivity flips are
// rare; a slow consumer only ever misses intermediate states, and the
// latest one always describes reality.
const subscriberBuffer = 8

// State is one observed connectivity transition.
type State struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Monitor polls a Prober and publishes online/offline edges. The zero
// state is offline; the first successful probe produces an edge.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   logging.Logger
	metrics  *observability.MetricsCollector
	now      func() time.Time

	mu     sync.Mutex
	online bool
	subs   []chan State
}

// MonitorOption customizes a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logging.OrNop(logger) }
}

// WithMetrics attaches the agent metrics collector.
func WithMetrics(metrics *observability.MetricsCollector) MonitorOption {
	return func(m *Monitor) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithClock overrides the time source used to stamp transitions.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor builds a monitor around prober, polling at interval.
func NewMonitor(prober Prober, interval time.Duration, opts ...MonitorOption) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	m := &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logging.Nop(),
		metrics:  &observability.MetricsCollector{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the polling loop until ctx is cancelled. The first probe
// fires immediately so the agent does not sit in the offline default for
// a full interval after boot.
func (m *Monitor) Start(ctx context.Context) {
	m.apply(ctx, m.prober.Probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.apply(ctx, m.prober.Probe(ctx))
		}
	}
}

// IsOnline reports the last known connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline feeds an externally observed state, e.g. from a host platform
// reachability callback. Edge semantics match the polling path.
func (m *Monitor) SetOnline(online bool) {
	m.apply(context.Background(), online)
}

// Subscribe registers for edge notifications. The returned cancel func
// detaches the subscriber and closes its channel. Sends never block: a
// subscriber that falls behind drops intermediate states.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)

	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subs {
			if sub == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// apply records an observation and, on an edge, notifies subscribers.
// Sending under the lock is safe because sends are non-blocking, and it
// keeps cancel's close from racing an in-flight send.
func (m *Monitor) apply(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	state := State{Online: online, At: m.now().UTC()}
	for _, ch := range m.subs {
		select {
		case ch <- state:
		default:
		}
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("Connectivity restored")
	} else {
		m.logger.Warn("Connectivity lost")
	}
	m.metrics.RecordConnectivityFlip(ctx, online)
}
