// Package reveriecmder is the root reverie command.
package reveriecmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/reverie/cmd/reverie/config"
	deadlettercmder "github.com/papercomputeco/reverie/cmd/reverie/deadletter"
	reindexcmder "github.com/papercomputeco/reverie/cmd/reverie/reindex"
	rollupcmder "github.com/papercomputeco/reverie/cmd/reverie/rollup"
	searchcmder "github.com/papercomputeco/reverie/cmd/reverie/search"
	servecmder "github.com/papercomputeco/reverie/cmd/reverie/serve"
	workercmder "github.com/papercomputeco/reverie/cmd/reverie/worker"
	versioncmder "github.com/papercomputeco/reverie/cmd/version"
)

const reverieLongDesc string = `Reverie is progressive memory for conversational agents.

Conversations are tracked as sessions. When a session ends, a reflector
summarizes it into the agent's archive; session summaries roll up into daily
and weekly digests, and a compact background context is kept ready for the
next conversation.

Run services using:
  reverie serve        Run the API server and the memory pipeline
  reverie worker       Run a standalone reflection worker (kafka queue)

Inspect and operate:
  reverie search       Search an agent's summaries
  reverie rollup       Run rollups once
  reverie reindex      Backfill the vector index from the archive
  reverie deadletter   List and replay failed reflection jobs
  reverie config       Manage persistent configuration`

const reverieShortDesc string = "Reverie - Progressive Agent Memory"

func NewReverieCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "reverie",
		Short:        reverieShortDesc,
		Long:         reverieLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .reverie/ config directory")
	cmd.PersistentFlags().String("log-format", "auto", "Log format (auto, text, json, pretty)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(workercmder.NewWorkerCmd())
	cmd.AddCommand(rollupcmder.NewRollupCmd())
	cmd.AddCommand(reindexcmder.NewReindexCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(deadlettercmder.NewDeadLetterCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
