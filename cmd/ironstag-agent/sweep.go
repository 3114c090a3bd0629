package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/di"
)

func newSweepCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired media once and exit",
		Long: `Sweep deletes local media older than the retention window and
removes any queued submissions that referenced it. Without --days the
stored retention policy applies; --days overrides it for this run
without persisting anything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd.Context(), days)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Delete media older than this many days (0 = stored policy)")
	return cmd
}

func runSweep(ctx context.Context, days int) error {
	if days < 0 {
		return fmt.Errorf("--days must not be negative, got %d", days)
	}

	cfg, _, err := loadAgentConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	container, err := di.BuildContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}
	defer func() { _ = container.Cleanup(context.Background()) }()

	var deleted int
	if days > 0 {
		deleted, err = container.Media.Cleanup(ctx, &days)
	} else {
		deleted, err = container.Sweeper.RunNow(ctx)
	}
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	switch deleted {
	case 0:
		fmt.Printf("%s Nothing to remove\n", green("✓"))
	case 1:
		fmt.Printf("%s Removed 1 expired asset\n", green("✓"))
	default:
		fmt.Printf("%s Removed %d expired assets\n", green("✓"), deleted)
	}
	return nil
}
