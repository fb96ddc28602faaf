// Package wire assembles notevault components from resolved
// configuration, shared by the serve, index, and query commands.
package wire

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/config"
	"github.com/quietvale/notevault/pkg/daterange"
	"github.com/quietvale/notevault/pkg/embeddings"
	embedollama "github.com/quietvale/notevault/pkg/embeddings/ollama"
	"github.com/quietvale/notevault/pkg/index"
	"github.com/quietvale/notevault/pkg/llm"
	llmollama "github.com/quietvale/notevault/pkg/llm/ollama"
	"github.com/quietvale/notevault/pkg/names"
	"github.com/quietvale/notevault/pkg/retrieve"
	"github.com/quietvale/notevault/pkg/vector"
	"github.com/quietvale/notevault/pkg/vector/chroma"
	"github.com/quietvale/notevault/pkg/vector/qdrant"
)

// NewEmbedder builds the Ollama embedder from config.
func NewEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	return embedollama.NewEmbedder(embedollama.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
	})
}

// NewStore builds the configured vector store backend.
func NewStore(cfg *config.Config, embedder embeddings.Embedder, logger *zap.Logger) (vector.Store, error) {
	switch cfg.Store.Provider {
	case "chroma":
		return chroma.NewStore(chroma.Config{
			URL:            cfg.Store.URL,
			CollectionName: cfg.Store.Collection,
		}, embedder, logger)
	case "qdrant":
		return qdrant.NewStore(qdrant.Config{
			URL:            cfg.Store.URL,
			APIKey:         cfg.Store.APIKey,
			CollectionName: cfg.Store.Collection,
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

// NewGenerator builds the Ollama generation client from config.
func NewGenerator(cfg *config.Config) (llm.Generator, error) {
	return llmollama.NewClient(llmollama.Config{
		BaseURL: cfg.Generator.BaseURL,
		Model:   cfg.Generator.Model,
	})
}

// GenOptions maps generator config onto per-call options.
func GenOptions(cfg *config.Config) llm.Options {
	return llm.Options{
		Temperature:   cfg.Generator.Temperature,
		MaxTokens:     cfg.Generator.MaxTokens,
		ContextWindow: cfg.Generator.ContextWindow,
		KeepAlive:     "10m",
	}
}

// NewResolver builds the date range resolver with the generator as its
// LLM fallback stage.
func NewResolver(cfg *config.Config, generator llm.Generator, logger *zap.Logger) *daterange.Resolver {
	return daterange.NewResolver(logger,
		daterange.WithGenerator(generator),
		daterange.WithContextWindow(cfg.Generator.ContextWindow),
	)
}

// NewEngine builds the retrieval engine.
func NewEngine(store vector.Store, resolver *daterange.Resolver, cfg *config.Config, logger *zap.Logger) *retrieve.Engine {
	return retrieve.NewEngine(store, resolver, retrieve.Config{
		PoolLarge: cfg.Retrieval.PoolLarge,
		PoolSmall: cfg.Retrieval.PoolSmall,
		Timezone:  cfg.Vault.Timezone,
	}, logger)
}

// NewBuilder builds the index builder with the statistical entity
// recognizer attached.
func NewBuilder(store vector.Store, cfg *config.Config, logger *zap.Logger) *index.Builder {
	extractor := names.NewExtractor(names.NewProseRecognizer(), logger)
	return index.NewBuilder(store, extractor, index.Config{
		VaultPath:    cfg.Vault.Path,
		StatePath:    cfg.Index.StatePath,
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
	}, logger)
}

// Debounce returns the configured watch debounce with a sane floor.
func Debounce(cfg *config.Config) time.Duration {
	if cfg.Watch.Debounce <= 0 {
		return 3 * time.Second
	}
	return cfg.Watch.Debounce
}
