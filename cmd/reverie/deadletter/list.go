package deadlettercmder

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/api/client"
	"github.com/papercomputeco/reverie/pkg/cliui"
	"github.com/papercomputeco/reverie/pkg/storage"
)

const listLongDesc string = `List dead-lettered reflection jobs, oldest first.

Examples:
  reverie deadletter list
  reverie deadletter list --api-target http://localhost:9000`

const listShortDesc string = "List dead-lettered reflection jobs"

// Column widths of the list table.
const (
	idWidth      = 26
	agentWidth   = 18
	sessionWidth = 26
	errorWidth   = 48
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := resolveAPITarget(cmd)
			if err != nil {
				return err
			}
			return runList(cmd.Context(), target)
		},
	}

	return cmd
}

func runList(ctx context.Context, target string) error {
	cl, err := client.New(target)
	if err != nil {
		return err
	}

	entries, err := cl.DeadLetters(ctx)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render("No dead letters."))
		return nil
	}

	fmt.Println()
	fmt.Printf("  %s\n", cliui.HeaderStyle.Render(formatRow("ID", "AGENT", "SESSION", "FAILED", "ERROR")))
	for _, dl := range entries {
		fmt.Printf("  %s\n", formatEntry(dl))
	}
	fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render(fmt.Sprintf("%d dead letter(s)", len(entries))))

	return nil
}

func formatEntry(dl storage.DeadLetter) string {
	lastErr := dl.LastError
	if dl.Reason != "" {
		lastErr = fmt.Sprintf("[%s] %s", dl.Reason, lastErr)
	}
	return formatRow(
		dl.ID,
		dl.Job.AgentID,
		dl.Job.SessionID,
		dl.FailedAt.UTC().Format(time.DateTime),
		lastErr,
	)
}

func formatRow(id, agent, session, failed, lastErr string) string {
	return fmt.Sprintf("%-*s  %-*s  %-*s  %-19s  %s",
		idWidth, cliui.Fit(id, idWidth),
		agentWidth, cliui.Fit(agent, agentWidth),
		sessionWidth, cliui.Fit(session, sessionWidth),
		failed,
		cliui.Fit(lastErr, errorWidth),
	)
}
