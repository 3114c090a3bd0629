// Package di wires the agent together: observability first, then the
// stores, then everything that talks to the network, then the control
// API on top. Construction order matters only for cleanup, which runs
// in reverse.
package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/analysis"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/config"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/connectivity"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/devapi"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/mediastore"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/observability"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox/filestore"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox/sqlitestore"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/retention"
)

// Container holds the wired agent components.
type Container struct {
	Config config.Config

	Logger  *observability.Logger
	Metrics *observability.MetricsCollector
	Tracer  *observability.TracerProvider

	Media    *mediastore.Store
	Monitor  *connectivity.Monitor
	Analysis *analysis.Client
	Queue    *outbox.Queue
	Sweeper  *retention.Sweeper
	Server   *devapi.Server

	cleanups []func(context.Context) error
}

// BuildContainer constructs every component from the effective config.
// Nothing starts running here: Start the monitor, sweeper, auto-sync and
// server yourself (the serve command does), so a CLI one-shot can build
// the same container without spinning up background work.
func BuildContainer(ctx context.Context, cfg config.Config) (*Container, error) {
	c := &Container{Config: cfg}

	c.Logger = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
	component := func(name string) logging.Logger {
		return logging.FromObservabilityWithComponent(c.Logger, name)
	}
	logger := component("di")

	metrics, err := observability.NewMetricsCollector(cfg.Observability.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build metrics collector: %w", err)
	}
	c.Metrics = metrics
	c.onCleanup(metrics.Shutdown)
	if cfg.Observability.Metrics.Enabled {
		if err := metrics.StartPrometheusServer(cfg.Observability.Metrics.PrometheusPort); err != nil {
			logger.Warn("Prometheus endpoint unavailable: %v", err)
		}
	}

	tracer, err := observability.NewTracerProvider(cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("build tracer: %w", err)
	}
	c.Tracer = tracer
	c.onCleanup(tracer.Shutdown)

	media, err := mediastore.New(mediastore.Config{
		MediaRoot:         cfg.Storage.MediaRoot,
		LedgerPath:        cfg.Storage.LedgerPath,
		PolicyPath:        cfg.Storage.PolicyPath,
		MaxPayloadBytes:   cfg.Storage.MaxPayloadBytes,
		CacheEntries:      cfg.Storage.CacheEntries,
		DefaultMaxAgeDays: cfg.Retention.MaxAgeDays,
	},
		mediastore.WithLogger(component("mediastore")),
		mediastore.WithMetrics(metrics),
		mediastore.WithStoreMetrics(observability.NewStoreMetrics()),
		mediastore.WithTracer(tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("open media store: %w", err)
	}
	c.Media = media

	prober := connectivity.NewHTTPProber(
		cfg.Connectivity.ProbeURL,
		cfg.Connectivity.ProbeTimeout(),
		component("connectivity"),
	)
	c.Monitor = connectivity.NewMonitor(prober, cfg.Connectivity.ProbeInterval(),
		connectivity.WithLogger(component("connectivity")),
		connectivity.WithMetrics(metrics),
	)

	queueStore, err := c.buildQueueStore(cfg.Queue)
	if err != nil {
		return nil, err
	}

	c.Analysis = analysis.NewClient(analysis.Config{
		BaseURL:          cfg.Remote.BaseURL,
		AnalyzePath:      cfg.Remote.AnalyzePath,
		Timeout:          cfg.Remote.Timeout(),
		MaxResponseBytes: cfg.Remote.MaxResponseBytes,
	}, analysis.StaticToken(cfg.Remote.Token),
		analysis.WithLogger(component("analysis")),
		analysis.WithMetrics(metrics),
		analysis.WithTracer(tracer),
	)

	c.Queue = outbox.NewQueue(queueStore, c.Analysis, c.Monitor,
		outbox.WithLogger(component("outbox")),
		outbox.WithMetrics(metrics),
		outbox.WithTracer(tracer),
		outbox.WithRetryCeiling(cfg.Queue.RetryCeiling),
		outbox.WithPace(cfg.Queue.ItemsPerSecond),
	)

	// Built even when retention is disabled so /health can say so;
	// the serve command simply never starts it then.
	c.Sweeper = retention.New(media, cfg.Retention.SweepSchedule,
		retention.WithLogger(component("retention")),
	)

	server, err := devapi.NewServer(devapi.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, devapi.Deps{
		Media:   media,
		Queue:   c.Queue,
		Network: c.Monitor,
		Sweeper: c.Sweeper,
	},
		devapi.WithLogger(component("devapi")),
		devapi.WithTracer(tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("build control API: %w", err)
	}
	c.Server = server

	logger.Info("Container built (queue backend=%s, media root=%s)",
		cfg.Queue.Backend, cfg.Storage.MediaRoot)
	return c, nil
}

func (c *Container) buildQueueStore(cfg config.QueueConfig) (outbox.Store, error) {
	switch cfg.Backend {
	case config.QueueBackendFile:
		return filestore.New(cfg.Path), nil
	case config.QueueBackendSQLite, "":
		store, err := sqlitestore.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open queue store: %w", err)
		}
		c.onCleanup(func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func (c *Container) onCleanup(fn func(context.Context) error) {
	c.cleanups = append(c.cleanups, fn)
}

// Cleanup releases container resources in reverse construction order.
func (c *Container) Cleanup(ctx context.Context) error {
	var errs []error
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		if err := c.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.cleanups = nil
	return errors.Join(errs...)
}
