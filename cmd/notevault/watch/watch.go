// Package watchcmder provides the vault watcher command, firing
// reindex requests at a running API server when notes change.
package watchcmder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/cmd/notevault/wire"
	"github.com/quietvale/notevault/pkg/config"
	"github.com/quietvale/notevault/pkg/logger"
	"github.com/quietvale/notevault/pkg/watch"
)

type watchCommander struct {
	server     string
	debug      bool
	configPath string
	logger     *zap.Logger
}

const watchLongDesc string = `Watch the vault for markdown changes.

Each burst of .md events, after the configured debounce, triggers a
POST /reindex against the API server so the index catches up.`

const watchShortDesc string = "Watch the vault and reindex on change"

func NewWatchCmd() *cobra.Command {
	cmder := &watchCommander{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: watchShortDesc,
		Long:  watchLongDesc,
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

	cmd.Flags().StringVarP(&cmder.server, "server", "s", "", "API server base URL (default derived from config)")

	return cmd
}

func (c *watchCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	reindexURL := c.reindexURL(cfg)
	client := &http.Client{Timeout: 300 * time.Second}

	watcher := watch.New(cfg.Vault.Path, wire.Debounce(cfg), func() {
		c.logger.Info("triggering reindex", zap.String("url", reindexURL))
		resp, perr := client.Post(reindexURL, "application/json", nil)
		if perr != nil {
			c.logger.Error("reindex request failed", zap.Error(perr))
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		c.logger.Info("reindex result",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
	}, c.logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if werr := watcher.Run(ctx); werr != nil {
			errChan <- fmt.Errorf("watcher error: %w", werr)
		}
	}()

	c.logger.Info("watching vault",
		zap.String("path", cfg.Vault.Path),
		zap.Duration("debounce", wire.Debounce(cfg)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		return nil
	}
}

// reindexURL derives the reindex endpoint from the --server flag or,
// failing that, from the configured listen address.
func (c *watchCommander) reindexURL(cfg *config.Config) string {
	base := c.server
	if base == "" {
		listen := cfg.API.Listen
		if strings.HasPrefix(listen, ":") {
			listen = "localhost" + listen
		}
		base = "http://" + listen
	}
	return strings.TrimRight(base, "/") + "/reindex"
}
