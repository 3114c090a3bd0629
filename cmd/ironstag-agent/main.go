// Command ironstag-agent runs the on-device capture agent: local media
// storage, the offline submission queue, and the loopback control API
// that host applications talk to.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/config"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ironstag-agent",
		Short: "Offline-first capture and sync agent",
		Long: fmt.Sprintf(`%s

The agent keeps captured media on disk, queues submissions while the
device is offline, and drains the queue to the analysis backend as soon
as connectivity returns. Host applications drive it over a loopback
HTTP API with a WebSocket status stream.

%s
  ironstag-agent serve                 # Run the agent
  ironstag-agent status                # Query a running agent
  ironstag-agent sweep --days 30       # One-off retention sweep

Configuration is read from ~/.ironstag/config.yaml and IRONSTAG_*
environment variables; --config points at an alternate file.`,
			bold("ironstag-agent "+version),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to config file (default ~/.ironstag/config.yaml)")
	root.PersistentFlags().String("log-level", "", "Override log level (debug, info, warn, error)")

	viper.SetEnvPrefix("IRONSTAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newSweepCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// loadAgentConfig resolves configuration the same way for every
// subcommand: file and environment via config.Load, then the few CLI
// flags layered on top as overrides.
func loadAgentConfig() (config.Config, config.Metadata, error) {
	var opts []config.Option
	if path := viper.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	if level := viper.GetString("log-level"); level != "" {
		opts = append(opts, config.WithOverride(func(c *config.Config) {
			c.Observability.Logging.Level = level
		}))
	}
	return config.Load(opts...)
}
