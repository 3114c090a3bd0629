package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/httpclient"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/mediastore"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/retention"
)

const statusRequestTimeout = 5 * time.Second

// agentHealth mirrors the control API health payload.
type agentHealth struct {
	Status    string              `json:"status"`
	Uptime    string              `json:"uptime"`
	Online    *bool               `json:"online,omitempty"`
	Media     *mediastore.Stats   `json:"media,omitempty"`
	Queue     outbox.Status       `json:"queue"`
	Retention *retention.Snapshot `json:"retention,omitempty"`
}

func newStatusCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Agent address (default from configuration)")
	return cmd
}

func runStatus(ctx context.Context, addr string) error {
	if addr == "" {
		cfg, _, err := loadAgentConfig()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		addr = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	health, err := fetchHealth(ctx, addr)
	if err != nil {
		return fmt.Errorf("agent unreachable at %s (is it running?): %w", addr, err)
	}

	fmt.Printf("%s at %s\n\n", bold("ironstag-agent"), cyan(addr))
	fmt.Printf("  %-10s %s %s\n", "Agent", colorStatus(health.Status), gray("(up "+health.Uptime+")"))
	fmt.Printf("  %-10s %s\n", "Network", colorOnline(health.Online))
	if health.Media != nil {
		line := fmt.Sprintf("%d assets, %s", health.Media.Count, formatBytes(health.Media.TotalBytes))
		if health.Media.OldestCreatedAt != nil {
			line += gray(" (oldest " + health.Media.OldestCreatedAt.Format("2006-01-02") + ")")
		}
		fmt.Printf("  %-10s %s\n", "Media", line)
	}
	fmt.Printf("  %-10s %s\n", "Queue", formatQueue(health.Queue))
	if health.Retention != nil {
		fmt.Printf("  %-10s %s\n", "Retention", formatRetention(*health.Retention))
	}
	return nil
}

func fetchHealth(ctx context.Context, addr string) (agentHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, statusRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health", nil)
	if err != nil {
		return agentHealth{}, err
	}
	resp, err := httpclient.New(statusRequestTimeout, logging.Nop()).Do(req)
	if err != nil {
		return agentHealth{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	// A degraded agent answers 503 with the same payload, so decode
	// whatever came back instead of gating on the status code.
	var health agentHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return agentHealth{}, fmt.Errorf("unexpected response (HTTP %d): %w", resp.StatusCode, err)
	}
	return health, nil
}

func colorStatus(status string) string {
	if status == "ok" {
		return green(status)
	}
	return red(status)
}

func colorOnline(online *bool) string {
	switch {
	case online == nil:
		return gray("unknown")
	case *online:
		return green("online")
	default:
		return yellow("offline")
	}
}

func formatQueue(status outbox.Status) string {
	line := fmt.Sprintf("%d pending", status.PendingCount)
	if status.IsSyncing {
		line += ", " + cyan("syncing now")
	}
	if status.LastSyncSuccess != nil {
		line += gray(", last success " + status.LastSyncSuccess.Format(time.Kitchen))
	} else if status.LastSyncAttempt != nil {
		line += gray(", last attempt " + status.LastSyncAttempt.Format(time.Kitchen))
	}
	return line
}

func formatRetention(snap retention.Snapshot) string {
	if !snap.Running {
		return gray("not running") + fmt.Sprintf(" (schedule %q)", snap.Schedule)
	}
	line := fmt.Sprintf("schedule %q", snap.Schedule)
	if snap.LastError != "" {
		line += ", " + red("last sweep failed: "+snap.LastError)
	} else if snap.LastSweepAt != nil {
		line += gray(fmt.Sprintf(", last sweep removed %d", snap.LastDeleted))
	}
	return line
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
