// Package deadlettercmder provides the deadletter command for inspecting and
// replaying reflection jobs that exhausted their retries.
package deadlettercmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/cmd/reverie/boot"
	"github.com/papercomputeco/reverie/pkg/config"
)

const deadLetterLongDesc string = `Inspect and replay failed reflection jobs.

A reflection job is dead-lettered when the reflector keeps failing for it,
when its summary cannot be stored, or when it cannot be submitted to the
queue at all. Queue messages that cannot be decoded or validated are kept
with their raw payload and a reason; those cannot be replayed.

Dead letters are kept by the server's storage driver and are managed
through the reverie API.

Use subcommands to list or replay dead letters:
  reverie deadletter list          List dead-lettered jobs
  reverie deadletter replay <id>   Resubmit a job and drop its dead letter`

const deadLetterShortDesc string = "Inspect and replay failed reflection jobs"

func NewDeadLetterCmd() *cobra.Command {
	var apiTarget string

	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   deadLetterShortDesc,
		Long:    deadLetterLongDesc,
	}

	cmd.PersistentFlags().StringVar(&apiTarget, config.Flags[config.FlagAPITarget].Name,
		config.NewDefaultConfig().Client.APITarget,
		config.Flags[config.FlagAPITarget].Description,
	)

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newReplayCmd())

	return cmd
}

// resolveAPITarget returns the API target from flags, env or config.toml.
func resolveAPITarget(cmd *cobra.Command) (string, error) {
	cfg, _, err := boot.Load(cmd, []string{config.FlagAPITarget})
	if err != nil {
		return "", err
	}
	return cfg.Client.APITarget, nil
}
