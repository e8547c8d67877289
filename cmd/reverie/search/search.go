// Package searchcmder provides the search command for finding summaries in
// an agent's archive.
package searchcmder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/api/client"
	"github.com/papercomputeco/reverie/cmd/reverie/boot"
	"github.com/papercomputeco/reverie/pkg/cliui"
	"github.com/papercomputeco/reverie/pkg/config"
	"github.com/papercomputeco/reverie/pkg/memory"
)

type searchCommander struct {
	query   string
	agentID string
	kind    string
	topK    int
	raw     bool

	apiTarget string
}

const searchLongDesc string = `Search an agent's summaries via the reverie API.

Returns the summaries of the given kind that best match the query, most
relevant first. With a vector store configured on the server the search is
semantic; otherwise it matches words in summary bodies, topics and entities.

Summary bodies are rendered as markdown; use --raw for plain text.

Examples:
  reverie search "tomato watering" --agent garden-bot
  reverie search "quarterly plan" --agent assistant --kind weekly --top 3
  reverie search "billing" --agent support-bot --api-target http://localhost:9000`

const searchShortDesc string = "Search an agent's summaries"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := boot.Load(cmd, []string{config.FlagAPITarget})
			if err != nil {
				return err
			}
			cmder.apiTarget = cfg.Client.APITarget
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.query = args[0]
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.agentID, "agent", "a", "", "Agent whose archive to search")
	cmd.Flags().StringVar(&cmder.kind, "kind", string(memory.KindSession), "Summary kind (session, daily, weekly, topic)")
	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 5, "Number of results to return")
	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Print summary bodies without markdown rendering")
	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}

func (c *searchCommander) run(ctx context.Context) error {
	kind, err := memory.ParseKind(c.kind)
	if err != nil {
		return err
	}

	cl, err := client.New(c.apiTarget)
	if err != nil {
		return err
	}

	output, err := cl.Search(ctx, c.agentID, c.query, kind, c.topK)
	if err != nil {
		return err
	}

	if output.Count == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("\n%s %s\n\n",
		cliui.HeaderStyle.Render(fmt.Sprintf("%s summaries for:", kind)),
		cliui.KeyStyle.Render(fmt.Sprintf("%q", c.query)),
	)

	for i, sum := range output.Summaries {
		c.printResult(i+1, sum)
	}

	return nil
}

func (c *searchCommander) printResult(rank int, sum memory.Summary) {
	fmt.Printf("  %s  %s  %s\n",
		cliui.RankStyle.Render(fmt.Sprintf("#%d", rank)),
		cliui.KeyStyle.Render(sum.ID),
		cliui.DimStyle.Render(formatPeriod(sum)),
	)

	if len(sum.Topics) > 0 {
		fmt.Printf("  %s %s\n", cliui.DimStyle.Render("topics:"), cliui.ValueStyle.Render(strings.Join(sum.Topics, ", ")))
	}
	if len(sum.Entities) > 0 {
		fmt.Printf("  %s %s\n", cliui.DimStyle.Render("entities:"), cliui.ValueStyle.Render(strings.Join(sum.Entities, ", ")))
	}

	if c.raw {
		fmt.Printf("\n%s\n\n", sum.Body)
		return
	}

	// On render failure the raw body comes back.
	rendered, _ := cliui.RenderMarkdown(sum.Body)
	fmt.Print(rendered)
}

func formatPeriod(sum memory.Summary) string {
	const layout = "2006-01-02 15:04"
	start := sum.PeriodStart.UTC()
	end := sum.PeriodEnd.UTC()

	if sum.Kind == memory.KindSession {
		return fmt.Sprintf("%s → %s UTC (%d turns)", start.Format(layout), end.Format("15:04"), sum.TurnCount)
	}
	return fmt.Sprintf("%s → %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
}
