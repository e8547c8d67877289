// Package workercmder provides the worker command, a standalone reflection
// worker consuming the kafka job queue.
package workercmder

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/cmd/reverie/boot"
	"github.com/papercomputeco/reverie/pkg/config"
	"github.com/papercomputeco/reverie/pkg/pipeline"
)

type workerCommander struct {
	storageDriver  string
	sqlitePath     string
	postgresDSN    string
	vectorProvider string
	vectorTarget   string
	embedProvider  string
	embedTarget    string
	embedModel     string
	embedDims      uint
	reflProvider   string
	reflModel      string
	reflBaseURL    string
	queueProvider  string
	kafkaBrokers   string

	logger *slog.Logger
}

var workerFlags = []string{
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagReflectorProv,
	config.FlagReflectorModel,
	config.FlagReflectorURL,
	config.FlagQueueProvider,
	config.FlagKafkaBrokers,
}

const workerLongDesc string = `Run a standalone reflection worker.

The worker consumes reflection jobs from the kafka queue, asks the reflector
for a summary of each session and appends it to the agent's archive. Jobs
that keep failing are dead-lettered.

Workers share the consumer group configured by queue.group_id, so any number
of them can run next to "reverie serve". The in-process local queue cannot
be drained from another process; set queue.provider = kafka.

Examples:
  reverie worker --queue-provider kafka --kafka-brokers localhost:9092
  reverie worker --storage-driver postgres --postgres-dsn postgres://localhost/reverie`

const workerShortDesc string = "Run a standalone reflection worker"

func NewWorkerCmd() *cobra.Command {
	cmder := &workerCommander{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: workerShortDesc,
		Long:  workerLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := boot.Load(cmd, workerFlags)
			if err != nil {
				return err
			}

			var closeLog func() error
			cmder.logger, closeLog, err = boot.NewLogger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			return cmder.run(cfg)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &cmder.vectorProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &cmder.vectorTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &cmder.embedDims)
	config.AddStringFlag(cmd, config.Flags, config.FlagReflectorProv, &cmder.reflProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagReflectorModel, &cmder.reflModel)
	config.AddStringFlag(cmd, config.Flags, config.FlagReflectorURL, &cmder.reflBaseURL)
	config.AddStringFlag(cmd, config.Flags, config.FlagQueueProvider, &cmder.queueProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)

	cmd.Flags().String("log-file", "", "Also append JSON logs to this file")

	return cmd
}

func (c *workerCommander) run(cfg *config.Config) error {
	if cfg.Queue.Provider != "kafka" {
		return pipeline.ErrLocalQueueWorker
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(ctx, cfg, pipeline.Options{Logger: c.logger})
	if err != nil {
		return err
	}
	defer p.Close()

	c.logger.Info("reflection worker started",
		"brokers", cfg.Queue.Brokers,
		"topic", cfg.Queue.Topic,
		"group_id", cfg.Queue.GroupID,
	)

	err = p.Consume(ctx)
	c.logger.Info("reflection worker stopped")
	return err
}
