package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/di"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
)

const (
	serveShutdownGrace  = 10 * time.Second
	serveCleanupTimeout = 5 * time.Second
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the capture agent until interrupted",
		Long: `Serve starts every agent component: the connectivity monitor, the
automatic queue drain, the retention sweeper (when enabled) and the
loopback control API. SIGINT or SIGTERM shuts everything down in
order, finishing in-flight requests first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, meta, err := loadAgentConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.BuildContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}
	logger := logging.FromObservabilityWithComponent(container.Logger, "serve")
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), serveCleanupTimeout)
		defer cancel()
		if err := container.Cleanup(cleanupCtx); err != nil {
			logger.Warn("Cleanup finished with errors: %v", err)
		}
	}()

	logger.Info("ironstag-agent %s starting (config loaded at %s)",
		version, meta.LoadedAt().Format(time.RFC3339))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		container.Monitor.Start(gctx)
		return nil
	})
	g.Go(func() error {
		container.Queue.StartAutoSync(gctx)
		return nil
	})

	if cfg.Retention.Enabled {
		if err := container.Sweeper.Start(gctx); err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("start retention sweeper: %w", err)
		}
	} else {
		logger.Info("Retention sweeps disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownGrace)
		defer cancel()
		return container.Server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return container.Server.Start()
	})

	fmt.Printf("%s Control API on %s %s\n",
		green("▲"), bold("http://"+container.Server.Addr()), gray("(Ctrl+C to stop)"))

	err = g.Wait()

	if cfg.Retention.Enabled {
		select {
		case <-container.Sweeper.Done():
		case <-time.After(serveShutdownGrace):
			logger.Warn("Retention sweep still running at shutdown, abandoning it")
		}
	}

	if err != nil {
		return fmt.Errorf("agent stopped: %w", err)
	}
	logger.Info("Agent stopped cleanly")
	return nil
}
