// Package config loads notevault configuration from config.toml,
// environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved notevault configuration.
type Config struct {
	Vault     VaultConfig     `mapstructure:"vault"`
	API       APIConfig       `mapstructure:"api"`
	Store     StoreConfig     `mapstructure:"store"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Index     IndexConfig     `mapstructure:"index"`
	Watch     WatchConfig     `mapstructure:"watch"`
}

// VaultConfig locates the markdown vault.
type VaultConfig struct {
	Path     string `mapstructure:"path"`
	Timezone string `mapstructure:"timezone"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// StoreConfig selects and targets the vector store backend.
type StoreConfig struct {
	Provider   string `mapstructure:"provider"`
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// GeneratorConfig holds LLM generation settings.
type GeneratorConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	Model            string  `mapstructure:"model"`
	Temperature      float64 `mapstructure:"temperature"`
	ContextWindow    int     `mapstructure:"num_ctx"`
	MaxTokens        int     `mapstructure:"num_predict"`
	SystemPromptFile string  `mapstructure:"system_prompt_file"`
}

// RetrievalConfig tunes the retrieval engine.
type RetrievalConfig struct {
	TopK      int `mapstructure:"top_k"`
	PoolLarge int `mapstructure:"pool_large"`
	PoolSmall int `mapstructure:"pool_small"`
}

// IndexConfig tunes the chunking pipeline.
type IndexConfig struct {
	StatePath    string `mapstructure:"state_path"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
}

// WatchConfig tunes the vault watcher.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vault.path", "./vault")
	v.SetDefault("vault.timezone", "Europe/London")

	v.SetDefault("api.listen", ":8000")

	v.SetDefault("store.provider", "chroma")
	v.SetDefault("store.url", "http://localhost:8001")
	v.SetDefault("store.collection", "notes")

	v.SetDefault("embedding.base_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")

	v.SetDefault("generator.base_url", "http://localhost:11434")
	v.SetDefault("generator.model", "ibm/granite4:tiny-h")
	v.SetDefault("generator.temperature", 0.0)
	v.SetDefault("generator.num_ctx", 8192)
	v.SetDefault("generator.num_predict", 256)
	v.SetDefault("generator.system_prompt_file", "")

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.pool_large", 400)
	v.SetDefault("retrieval.pool_small", 50)

	v.SetDefault("index.state_path", "")
	v.SetDefault("index.chunk_size", 900)
	v.SetDefault("index.chunk_overlap", 150)

	v.SetDefault("watch.debounce", 3*time.Second)
}

// Load resolves configuration with precedence: environment variables
// (NOTEVAULT_ prefix), then config.toml, then defaults. configPath may
// name a file or a directory holding config.toml; empty means search
// the working directory and ~/.notevault.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	switch {
	case configPath == "":
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".notevault"))
		}
	case isDir(configPath):
		v.AddConfigPath(configPath)
	default:
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("NOTEVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.Index.StatePath == "" {
		cfg.Index.StatePath = filepath.Join(cfg.Vault.Path, ".notevault", "index_state.json")
	}
	return &cfg, nil
}

// SystemPrompt reads the configured system prompt file, falling back
// to a built-in prompt when none is configured.
func (c *Config) SystemPrompt() (string, error) {
	if c.Generator.SystemPromptFile == "" {
		return defaultSystemPrompt, nil
	}
	raw, err := os.ReadFile(c.Generator.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("reading system prompt: %w", err)
	}
	return string(raw), nil
}

const defaultSystemPrompt = `You are a careful assistant answering questions from the user's personal notes.
Ground every claim in the provided context. When the context does not contain
the answer, say so instead of guessing. Cite sources using their bracketed
numbers, like [1] or [2], where relevant.`

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
