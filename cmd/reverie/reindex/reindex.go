// Package reindexcmder provides the reindex command, which backfills the
// vector index from the summary archive.
package reindexcmder

import (
	"context"
	"errors"
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
)

// ErrNoVectorStore is returned when no vector store is configured.
var ErrNoVectorStore = errors.New("no vector store configured (set vector_store.provider)")

type reindexCommander struct {
	agentID string
	since   time.Duration

	storageDriver  string
	sqlitePath     string
	postgresDSN    string
	vectorProvider string
	vectorTarget   string
	embedProvider  string
	embedTarget    string
	embedModel     string
	embedDims      uint

	logger *slog.Logger
}

var reindexFlags = []string{
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
}

const reindexLongDesc string = `Index archived summaries missing from the vector store.

Summaries stored while the embedder or the vector store was unavailable are
kept in the archive but cannot be found by semantic search. A running server
retries them on its own; this command indexes every summary the vector store
does not hold, e.g. after a restart or a vector store migration.

Without --agent every agent with stored summaries is reindexed. --since limits
the scan to summaries that ended within that duration.

Examples:
  reverie reindex
  reverie reindex --agent support-bot --since 72h`

const reindexShortDesc string = "Backfill the vector index from the archive"

func NewReindexCmd() *cobra.Command {
	cmder := &reindexCommander{}

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: reindexShortDesc,
		Long:  reindexLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := boot.Load(cmd, reindexFlags)
			if err != nil {
				return err
			}
			if cfg.VectorStore.Provider == "" {
				return ErrNoVectorStore
			}

			var closeLog func() error
			cmder.logger, closeLog, err = boot.NewLogger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			return cmder.run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&cmder.agentID, "agent", "a", "", "Reindex a single agent")
	cmd.Flags().DurationVar(&cmder.since, "since", 0, "Only summaries that ended within this duration (0 for all)")
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &cmder.vectorProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &cmder.vectorTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &cmder.embedDims)

	return cmd
}

func (c *reindexCommander) run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := pipeline.New(ctx, cfg, pipeline.Options{Logger: c.logger})
	if err != nil {
		return err
	}
	defer p.Close()

	if p.Indexed == nil {
		return ErrNoVectorStore
	}

	agents := []string{c.agentID}
	if c.agentID == "" {
		agents, err = p.Store.Agents(ctx)
		if err != nil {
			return fmt.Errorf("listing agents: %w", err)
		}
	}
	if len(agents) == 0 {
		fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render("No agents with stored summaries."))
		return nil
	}

	since := memory.Epoch
	if c.since > 0 {
		since = time.Now().Add(-c.since)
	}

	fmt.Println()

	var failed int
	for _, agentID := range agents {
		var n int
		msg := fmt.Sprintf("reindex %s", cliui.KeyStyle.Render(agentID))

		err := cliui.Step(os.Stdout, msg, func() error {
			var err error
			n, err = p.Indexed.Backfill(ctx, agentID, since)
			return err
		})
		if err != nil {
			failed++
			fmt.Printf("    %s\n", cliui.DimStyle.Render(err.Error()))
			continue
		}
		fmt.Printf("    %s\n", cliui.DimStyle.Render(fmt.Sprintf("%d indexed", n)))
	}
	fmt.Println()

	if failed > 0 {
		return fmt.Errorf("%d agent(s) not fully reindexed", failed)
	}
	return nil
}
