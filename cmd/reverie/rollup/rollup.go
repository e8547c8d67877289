// Package rollupcmder provides the rollup command, which runs daily and
// weekly rollups once.
package rollupcmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/cmd/reverie/boot"
	"github.com/papercomputeco/reverie/pkg/cliui"
	"github.com/papercomputeco/reverie/pkg/config"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/pipeline"
	"github.com/papercomputeco/reverie/pkg/rollup"
)

type rollupCommander struct {
	agentID string
	kind    string

	storageDriver string
	sqlitePath    string
	postgresDSN   string
	reflProvider  string
	reflModel     string
	reflBaseURL   string

	logger *slog.Logger
}

var rollupFlags = []string{
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagReflectorProv,
	config.FlagReflectorModel,
	config.FlagReflectorURL,
}

const rollupLongDesc string = `Run rollups once.

Rolls closed UTC days of session summaries up into daily summaries, and
closed ISO weeks of daily summaries into weekly summaries. Each agent keeps a
cursor per rollup kind, so re-running is safe: windows already rolled up are
skipped.

Without --agent every agent with stored summaries or an [[agents]] table is
rolled up. Without --kind daily runs before weekly.

Examples:
  reverie rollup
  reverie rollup --agent support-bot
  reverie rollup --kind weekly --sqlite ./memory.sqlite`

const rollupShortDesc string = "Run daily and weekly rollups once"

func NewRollupCmd() *cobra.Command {
	cmder := &rollupCommander{}

	cmd := &cobra.Command{
		Use:   "rollup",
		Short: rollupShortDesc,
		Long:  rollupLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets, err := cmder.targets()
			if err != nil {
				return err
			}

			cfg, _, err := boot.Load(cmd, rollupFlags)
			if err != nil {
				return err
			}

			var closeLog func() error
			cmder.logger, closeLog, err = boot.NewLogger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			return cmder.run(cmd.Context(), cfg, targets)
		},
	}

	cmd.Flags().StringVarP(&cmder.agentID, "agent", "a", "", "Roll up a single agent")
	cmd.Flags().StringVarP(&cmder.kind, "kind", "k", "", "Rollup kind (daily, weekly); default both")
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagReflectorProv, &cmder.reflProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagReflectorModel, &cmder.reflModel)
	config.AddStringFlag(cmd, config.Flags, config.FlagReflectorURL, &cmder.reflBaseURL)

	return cmd
}

func (c *rollupCommander) targets() ([]memory.Kind, error) {
	if c.kind == "" {
		return []memory.Kind{memory.KindDaily, memory.KindWeekly}, nil
	}

	k, err := memory.ParseKind(c.kind)
	if err != nil {
		return nil, err
	}
	if _, ok := k.RollupSource(); !ok {
		return nil, fmt.Errorf("%w: %s", rollup.ErrNotRollupKind, k)
	}
	return []memory.Kind{k}, nil
}

func (c *rollupCommander) run(ctx context.Context, cfg *config.Config, targets []memory.Kind) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := pipeline.New(ctx, cfg, pipeline.Options{Logger: c.logger})
	if err != nil {
		return err
	}
	defer p.Close()

	agents := []string{c.agentID}
	if c.agentID == "" {
		agents, err = p.Scheduler.KnownAgents(ctx)
		if err != nil {
			return fmt.Errorf("listing agents: %w", err)
		}
	}

	if len(agents) == 0 {
		fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render("No agents with stored summaries."))
		return nil
	}

	fmt.Println()

	now := time.Now()
	var failed int
	for _, target := range targets {
		for _, agentID := range agents {
			var res *rollup.Result
			msg := fmt.Sprintf("%s rollup for %s", target, cliui.KeyStyle.Render(agentID))

			err := cliui.Step(os.Stdout, msg, func() error {
				var err error
				res, err = p.Scheduler.RunOnce(ctx, agentID, target, now)
				return err
			})
			if err != nil {
				failed++
				fmt.Printf("    %s\n", cliui.DimStyle.Render(err.Error()))
				continue
			}
			printResult(res)
		}
	}
	fmt.Println()

	if failed > 0 {
		return fmt.Errorf("%d rollup(s) failed", failed)
	}
	return nil
}

func printResult(res *rollup.Result) {
	for _, id := range res.Created {
		fmt.Printf("    %s %s\n", cliui.SuccessMark, cliui.ValueStyle.Render(id))
	}
	if len(res.Existing) > 0 {
		fmt.Printf("    %s\n", cliui.DimStyle.Render(fmt.Sprintf("%d already stored", len(res.Existing))))
	}
	if res.OpenWindow {
		fmt.Printf("    %s\n", cliui.DimStyle.Render("current window still open"))
	}
}
