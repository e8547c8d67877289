package deadlettercmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/api/client"
	"github.com/papercomputeco/reverie/pkg/cliui"
)

const replayLongDesc string = `Replay a dead-lettered reflection job.

The job is resubmitted to the reflection queue unchanged. Its dead letter
is removed once the queue accepts it.

Examples:
  reverie deadletter replay 01JA5Z4Q0M3V2T8K6Y1XW9B7CD`

const replayShortDesc string = "Replay a dead-lettered reflection job"

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <id>",
		Short: replayShortDesc,
		Long:  replayLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveAPITarget(cmd)
			if err != nil {
				return err
			}
			return runReplay(cmd.Context(), target, args[0])
		},
	}

	return cmd
}

func runReplay(ctx context.Context, target, id string) error {
	cl, err := client.New(target)
	if err != nil {
		return err
	}

	res, err := cl.Replay(ctx, id)
	if err != nil {
		return fmt.Errorf("replaying %s: %w", id, err)
	}

	fmt.Printf("\n  %s Replayed %s (agent %s, session %s)\n\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(res.ID),
		cliui.ValueStyle.Render(res.Job.AgentID),
		cliui.ValueStyle.Render(res.Job.SessionID),
	)
	return nil
}
