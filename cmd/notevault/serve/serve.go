// Package servecmder provides the serve command running the API and
// MCP server, optionally with the vault watcher alongside.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/api"
	"github.com/quietvale/notevault/api/mcp"
	"github.com/quietvale/notevault/cmd/notevault/wire"
	"github.com/quietvale/notevault/pkg/config"
	"github.com/quietvale/notevault/pkg/index"
	"github.com/quietvale/notevault/pkg/logger"
	"github.com/quietvale/notevault/pkg/watch"
)

type ServeCommander struct {
	listen     string
	withWatch  bool
	debug      bool
	configPath string
	logger     *zap.Logger
}

const serveLongDesc string = `Run the Notevault API server.

Serves query, reindex, health, and debug endpoints over HTTP, and the
MCP tools at /mcp. With --watch the vault watcher runs in the same
process and triggers reindexing when notes change.`

const serveShortDesc string = "Run the Notevault API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configPath, err = cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("could not get config flag: %v", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (overrides config)")
	cmd.Flags().BoolVarP(&cmder.withWatch, "watch", "w", false, "Also watch the vault and reindex on change")

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.listen != "" {
		cfg.API.Listen = c.listen
	}

	systemPrompt, err := cfg.SystemPrompt()
	if err != nil {
		return fmt.Errorf("loading system prompt: %w", err)
	}

	embedder, err := wire.NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer embedder.Close()

	store, err := wire.NewStore(cfg, embedder, c.logger)
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	defer store.Close()

	generator, err := wire.NewGenerator(cfg)
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}

	resolver := wire.NewResolver(cfg, generator, c.logger)
	engine := wire.NewEngine(store, resolver, cfg, c.logger)
	builder := wire.NewBuilder(store, cfg, c.logger)
	jobs := index.NewJobStore()

	mcpServer, err := mcp.NewServer(mcp.Config{
		Engine:       engine,
		Generator:    generator,
		Builder:      builder,
		Jobs:         jobs,
		Timezone:     cfg.Vault.Timezone,
		TopK:         cfg.Retrieval.TopK,
		SystemPrompt: systemPrompt,
		GenOptions:   wire.GenOptions(cfg),
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	server := api.NewServer(
		api.Config{
			ListenAddr:   cfg.API.Listen,
			Timezone:     cfg.Vault.Timezone,
			TopK:         cfg.Retrieval.TopK,
			SystemPrompt: systemPrompt,
			GenOptions:   wire.GenOptions(cfg),
		},
		engine, store, generator, embedder, resolver, builder, jobs,
		mcpServer.Handler(), c.logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 2)

	if c.withWatch {
		watcher := watch.New(cfg.Vault.Path, wire.Debounce(cfg), func() {
			if _, ok := jobs.TryStart("full", nil); !ok {
				return
			}
			chunks, berr := builder.BuildAll(context.Background())
			if berr != nil {
				c.logger.Error("index build failed", zap.Error(berr))
			}
			jobs.Finish(chunks, berr)
		}, c.logger)

		go func() {
			if werr := watcher.Run(ctx); werr != nil {
				errChan <- fmt.Errorf("watcher error: %w", werr)
			}
		}()
	}

	go func() {
		if serr := server.Run(); serr != nil {
			errChan <- fmt.Errorf("API server error: %w", serr)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		return server.Shutdown()
	}
}
