// Package querycmder provides the one-shot query command.
package querycmder

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/api"
	"github.com/quietvale/notevault/cmd/notevault/wire"
	"github.com/quietvale/notevault/pkg/config"
	"github.com/quietvale/notevault/pkg/logger"
)

type queryCommander struct {
	topK       int
	stream     bool
	debug      bool
	configPath string
	logger     *zap.Logger
}

const queryLongDesc string = `Ask a question of your notes from the command line.

Retrieves the most relevant chunks, honoring any dates or names in the
question, generates an answer, and prints it with a sources legend.
Talks to the vector store and Ollama directly; no API server needed.`

const queryShortDesc string = "Ask a question of your notes"

func NewQueryCmd() *cobra.Command {
	cmder := &queryCommander{}

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: queryShortDesc,
		Long:  queryLongDesc,
		Args:  cobra.MinimumNArgs(1),
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
			return cmder.run(strings.Join(args, " "))
		},
	}

	cmd.Flags().IntVarP(&cmder.topK, "top-k", "k", 0, "Number of chunks to retrieve (default from config)")
	cmd.Flags().BoolVarP(&cmder.stream, "stream", "s", false, "Stream the answer as it generates")

	return cmd
}

func (c *queryCommander) run(question string) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
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

	k := c.topK
	if k <= 0 {
		k = cfg.Retrieval.TopK
	}

	ctx := context.Background()
	chunks, err := engine.Retrieve(ctx, question, k)
	if err != nil {
		return fmt.Errorf("retrieving: %w", err)
	}

	prompt := api.FinalPrompt(systemPrompt, cfg.Vault.Timezone, question, chunks)
	opts := wire.GenOptions(cfg)

	if c.stream {
		err = generator.Stream(ctx, prompt, opts, func(fragment string) error {
			_, werr := fmt.Fprint(os.Stdout, fragment)
			return werr
		})
		if err != nil {
			return fmt.Errorf("generating: %w", err)
		}
		fmt.Println()
	} else {
		answer, gerr := generator.Generate(ctx, prompt, opts)
		if gerr != nil {
			return fmt.Errorf("generating: %w", gerr)
		}
		fmt.Println(answer)
	}

	if len(chunks) > 0 {
		fmt.Println("\nSources:")
		fmt.Println(api.SourcesLegend(chunks))
	}
	return nil
}
