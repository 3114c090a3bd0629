package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the capture agent
type MetricsCollector struct {
	meter metric.Meter

	// Media store metrics
	mediaSaves        metric.Int64Counter
	mediaBytesWritten metric.Int64Counter
	mediaDeletes      metric.Int64Counter

	// Queue metrics
	queueEnqueued metric.Int64Counter
	queueOutcomes metric.Int64Counter

	// Sync engine metrics
	syncPasses    metric.Int64Counter
	syncDuration  metric.Float64Histogram
	syncsInFlight metric.Int64UpDownCounter

	// Remote call metrics
	remoteLatency metric.Float64Histogram

	// Connectivity metrics
	connectivityFlips metric.Int64Counter

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	// Create meter provider
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("ironstag")

	mediaSaves, err := meter.Int64Counter(
		"ironstag.media.saves.total",
		metric.WithDescription("Total media save attempts by status"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create media_saves counter: %w", err)
	}

	mediaBytesWritten, err := meter.Int64Counter(
		"ironstag.media.bytes.written",
		metric.WithDescription("Total bytes written to the media store"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create media_bytes_written counter: %w", err)
	}

	mediaDeletes, err := meter.Int64Counter(
		"ironstag.media.deletes.total",
		metric.WithDescription("Total media deletions by reason"),
		metric.WithUnit("{delete}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create media_deletes counter: %w", err)
	}

	queueEnqueued, err := meter.Int64Counter(
		"ironstag.queue.enqueued.total",
		metric.WithDescription("Total submissions added to the queue"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue_enqueued counter: %w", err)
	}

	queueOutcomes, err := meter.Int64Counter(
		"ironstag.queue.outcomes.total",
		metric.WithDescription("Terminal submission outcomes by kind"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue_outcomes counter: %w", err)
	}

	syncPasses, err := meter.Int64Counter(
		"ironstag.sync.passes.total",
		metric.WithDescription("Sync passes by result"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_passes counter: %w", err)
	}

	syncDuration, err := meter.Float64Histogram(
		"ironstag.sync.duration",
		metric.WithDescription("Sync pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_duration histogram: %w", err)
	}

	syncsInFlight, err := meter.Int64UpDownCounter(
		"ironstag.sync.inflight",
		metric.WithDescription("Number of sync passes currently running"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create syncs_inflight gauge: %w", err)
	}

	remoteLatency, err := meter.Float64Histogram(
		"ironstag.remote.latency",
		metric.WithDescription("Remote analysis call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote_latency histogram: %w", err)
	}

	connectivityFlips, err := meter.Int64Counter(
		"ironstag.connectivity.flips.total",
		metric.WithDescription("Connectivity state transitions"),
		metric.WithUnit("{flip}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectivity_flips counter: %w", err)
	}

	collector := &MetricsCollector{
		meter:             meter,
		mediaSaves:        mediaSaves,
		mediaBytesWritten: mediaBytesWritten,
		mediaDeletes:      mediaDeletes,
		queueEnqueued:     queueEnqueued,
		queueOutcomes:     queueOutcomes,
		syncPasses:        syncPasses,
		syncDuration:      syncDuration,
		syncsInFlight:     syncsInFlight,
		remoteLatency:     remoteLatency,
		connectivityFlips: connectivityFlips,
	}

	// Start Prometheus HTTP server
	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordSave records a media save attempt
func (m *MetricsCollector) RecordSave(ctx context.Context, status string, bytes int64) {
	if m.mediaSaves == nil {
		return
	}

	m.mediaSaves.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if bytes > 0 {
		m.mediaBytesWritten.Add(ctx, bytes)
	}
}

// RecordDelete records media deletions
func (m *MetricsCollector) RecordDelete(ctx context.Context, reason string, count int) {
	if m.mediaDeletes == nil || count <= 0 {
		return
	}

	m.mediaDeletes.Add(ctx, int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordEnqueue records a submission entering the queue
func (m *MetricsCollector) RecordEnqueue(ctx context.Context) {
	if m.queueEnqueued == nil {
		return
	}
	m.queueEnqueued.Add(ctx, 1)
}

// RecordOutcome records a terminal submission outcome (synced, failed, abandoned, cancelled)
func (m *MetricsCollector) RecordOutcome(ctx context.Context, outcome string) {
	if m.queueOutcomes == nil {
		return
	}
	m.queueOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSyncPass records a completed (or aborted) sync pass
func (m *MetricsCollector) RecordSyncPass(ctx context.Context, result string, duration time.Duration) {
	if m.syncPasses == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("result", result))
	m.syncPasses.Add(ctx, 1, attrs)
	m.syncDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRemoteCall records a remote analysis call latency
func (m *MetricsCollector) RecordRemoteCall(ctx context.Context, status string, latency time.Duration) {
	if m.remoteLatency == nil {
		return
	}
	m.remoteLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// SyncStarted marks a sync pass as in flight
func (m *MetricsCollector) SyncStarted(ctx context.Context) {
	if m.syncsInFlight == nil {
		return
	}
	m.syncsInFlight.Add(ctx, 1)
}

// SyncFinished marks a sync pass as done
func (m *MetricsCollector) SyncFinished(ctx context.Context) {
	if m.syncsInFlight == nil {
		return
	}
	m.syncsInFlight.Add(ctx, -1)
}

// RecordConnectivityFlip records an offline/online edge
func (m *MetricsCollector) RecordConnectivityFlip(ctx context.Context, online bool) {
	if m.connectivityFlips == nil {
		return
	}
	m.connectivityFlips.Add(ctx, 1, metric.WithAttributes(attribute.Bool("online", online)))
}
