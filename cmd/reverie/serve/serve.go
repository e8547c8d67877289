// Package servecmder provides the serve command, which runs the API server
// together with the memory pipeline.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/reverie/api"
	"github.com/papercomputeco/reverie/api/mcp"
	"github.com/papercomputeco/reverie/cmd/reverie/boot"
	"github.com/papercomputeco/reverie/pkg/config"
	"github.com/papercomputeco/reverie/pkg/pipeline"
)

type serveCommander struct {
	listen         string
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
	sessionTimeout uint
	workers        uint

	logger *slog.Logger
}

// serveFlags are the registry flags bound to viper for serve.
var serveFlags = []string{
	config.FlagListen,
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
	config.FlagSessionTimeout,
	config.FlagWorkers,
}

const serveLongDesc string = `Run the reverie API server and memory pipeline.

The API accepts session lifecycle calls from the conversational front end
and serves summary search, background context and dead-letter management.
An MCP endpoint at /mcp exposes the search_summaries and background_context
tools to agents.

In the same process the pipeline ends idle sessions, reflects ended sessions
into summaries, rolls summaries up into daily and weekly digests and keeps
every agent's background context fresh.

The [[agents]] tables of config.toml are reloaded while serving.

Examples:
  reverie serve
  reverie serve --listen :9000 --sqlite ./memory.sqlite
  reverie serve --queue-provider kafka --kafka-brokers localhost:9092
  reverie serve --vector-store-provider qdrant --vector-store-target localhost:6334`

const serveShortDesc string = "Run the API server and memory pipeline"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, v, err := boot.Load(cmd, serveFlags)
			if err != nil {
				return err
			}
			configDir, _ := cmd.Flags().GetString("config-dir")

			var closeLog func() error
			cmder.logger, closeLog, err = boot.NewLogger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			return cmder.run(cfg, v, configDir)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
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
	config.AddUintFlag(cmd, config.Flags, config.FlagSessionTimeout, &cmder.sessionTimeout)
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &cmder.workers)

	cmd.Flags().String("log-file", "", "Also append JSON logs to this file")

	return cmd
}

func (c *serveCommander) run(cfg *config.Config, v *viper.Viper, configDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(ctx, cfg, pipeline.Options{Logger: c.logger})
	if err != nil {
		return err
	}
	defer p.Close()

	mcpServer, err := mcp.NewServer(mcp.Config{
		Archive:  p.Archive,
		Contexts: p.Contexts,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	server, err := api.NewServer(api.Config{
		ListenAddr:  cfg.API.Listen,
		Tracker:     p.Tracker,
		Archive:     p.Archive,
		Contexts:    p.Contexts,
		Dispatcher:  p.Dispatcher,
		DeadLetters: p.Store,
		Agents:      p.Agents.Set(),
		MCP:         mcpServer.Handler(),
		Logger:      c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	c.watchAgents(v, configDir, p.Agents)

	served := make(chan error, 1)
	go func() {
		served <- p.Serve(ctx)
	}()

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- server.Run()
	}()

	c.logger.Info("reverie serving",
		"api_addr", cfg.API.Listen,
		"storage", cfg.Storage.Driver,
		"queue", cfg.Queue.Provider,
		"reflector", cfg.Reflector.Provider,
	)

	var runErr error
	select {
	case <-ctx.Done():
		c.logger.Info("received signal, shutting down")
	case err := <-apiErr:
		if err != nil {
			runErr = fmt.Errorf("API server error: %w", err)
		}
		stop()
	}

	// No new sessions while open ones are being reflected.
	if err := server.Shutdown(); err != nil {
		c.logger.Warn("API server shutdown failed", "error", err)
	}

	return errors.Join(runErr, <-served)
}

// watchAgents reloads the agent tables when config.toml changes.
func (c *serveCommander) watchAgents(v *viper.Viper, configDir string, agents *pipeline.Agents) {
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := config.Resolve(v, configDir)
		if err != nil {
			c.logger.Warn("config reload failed, keeping previous agents", "path", e.Name, "error", err)
			return
		}

		agents.Update(cfg.Agents)
		c.logger.Info("agents reloaded", "path", e.Name, "agents", len(cfg.Agents))
	})
	v.WatchConfig()
}
