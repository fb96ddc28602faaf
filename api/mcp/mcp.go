// Package mcp provides an MCP (Model Context Protocol) server over the
// note vault: a query tool that answers questions with citations and a
// reindex tool that triggers a rebuild.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/index"
	"github.com/quietvale/notevault/pkg/llm"
	"github.com/quietvale/notevault/pkg/retrieve"
	"github.com/quietvale/notevault/pkg/utils"
)

type Config struct {
	// Engine runs date and name aware retrieval over the vault index
	Engine *retrieve.Engine

	// Generator produces answers from the assembled prompt
	Generator llm.Generator

	// Builder rebuilds the vault index for the reindex tool
	Builder *index.Builder

	// Jobs serializes index builds with the HTTP reindex endpoints
	Jobs *index.JobStore

	// Timezone of the vault, used for the prompt's current-time header
	Timezone string

	// TopK is the default number of chunks to retrieve
	TopK int

	// SystemPrompt prefixes every generation
	SystemPrompt string

	// GenOptions tune generation calls
	GenOptions llm.Options

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the query and reindex tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "notevault",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if c.Noop {
		// return the empty MCP server with no tools configured
		// if the noop flag is set (i.e., MCP capabilities are disabled)
		s.mcpServer = mcpServer
		return s, nil
	}

	if c.Engine == nil {
		return nil, errors.New("retrieval engine is required")
	}
	if c.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if c.Builder == nil {
		return nil, errors.New("index builder is required")
	}
	if c.Jobs == nil {
		return nil, errors.New("job store is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        queryToolName,
		Description: queryDescription,
	}, s.handleQuery)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        reindexToolName,
		Description: reindexDescription,
	}, s.handleReindex)

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
