// Package api exposes the notevault HTTP surface: querying, reindex
// control, health, and debug endpoints, plus the MCP mount.
package api

import (
	"net/http"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/daterange"
	"github.com/quietvale/notevault/pkg/embeddings"
	"github.com/quietvale/notevault/pkg/index"
	"github.com/quietvale/notevault/pkg/llm"
	"github.com/quietvale/notevault/pkg/retrieve"
	"github.com/quietvale/notevault/pkg/vector"
)

// Config holds server settings.
type Config struct {
	ListenAddr   string
	Timezone     string
	TopK         int
	SystemPrompt string
	GenOptions   llm.Options
}

// Server is the notevault API server.
type Server struct {
	config    Config
	engine    *retrieve.Engine
	store     vector.Store
	generator llm.Generator
	embedder  embeddings.Embedder
	resolver  *daterange.Resolver
	builder   *index.Builder
	jobs      *index.JobStore
	logger    *zap.Logger
	app       *fiber.App
}

// NewServer wires the handlers. mcpHandler is optional; when non-nil
// it is mounted at /mcp.
func NewServer(
	config Config,
	engine *retrieve.Engine,
	store vector.Store,
	generator llm.Generator,
	embedder embeddings.Embedder,
	resolver *daterange.Resolver,
	builder *index.Builder,
	jobs *index.JobStore,
	mcpHandler http.Handler,
	logger *zap.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:    config,
		engine:    engine,
		store:     store,
		generator: generator,
		embedder:  embedder,
		resolver:  resolver,
		builder:   builder,
		jobs:      jobs,
		logger:    logger,
		app:       app,
	}

	app.Post("/query", s.handleQuery)
	app.Post("/query/stream", s.handleQueryStream)
	app.Post("/reindex", s.handleReindex)
	app.Post("/reindex/files", s.handleReindexFiles)
	app.Get("/reindex/status", s.handleReindexStatus)
	app.Get("/health", s.handleHealth)
	app.Get("/debug/parse-dates", s.handleParseDates)
	app.Get("/debug/retrieve", s.handleDebugRetrieve)
	app.Get("/debug/retrieve-dated", s.handleDebugRetrieveDated)
	app.Post("/debug/split-by-date", s.handleSplitByDate)

	if mcpHandler != nil {
		app.All("/mcp", adaptor.HTTPHandler(mcpHandler))
		app.All("/mcp/*", adaptor.HTTPHandler(mcpHandler))
	}

	return s
}

// Run starts the server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
