// Package indexcmder provides the one-shot index build command.
package indexcmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/cmd/notevault/wire"
	"github.com/quietvale/notevault/pkg/config"
	"github.com/quietvale/notevault/pkg/logger"
)

type indexCommander struct {
	debug      bool
	configPath string
	logger     *zap.Logger
}

const indexLongDesc string = `Build the vault index once and exit.

Scans the vault for markdown notes, re-chunks anything added or changed
since the last build, and removes chunks of deleted notes. Pass file
paths (relative to the vault root) to rebuild just those notes.`

const indexShortDesc string = "Build the vault index"

func NewIndexCmd() *cobra.Command {
	cmder := &indexCommander{}

	cmd := &cobra.Command{
		Use:   "index [files...]",
		Short: indexShortDesc,
		Long:  indexLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configPath, err = cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("could not get config flag: %v", err)
			}
			return cmder.run(args)
		},
	}

	return cmd
}

func (c *indexCommander) run(files []string) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
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

	builder := wire.NewBuilder(store, cfg, c.logger)

	ctx := context.Background()
	var chunks int
	if len(files) > 0 {
		chunks, err = builder.BuildFiles(ctx, files)
	} else {
		chunks, err = builder.BuildAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	fmt.Printf("Indexed %d chunks.\n", chunks)
	return nil
}
