package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/index"
)

var (
	reindexToolName    = "reindex_notes"
	reindexDescription = "Rebuild the note index. Scans the vault for added, changed, or removed markdown files and updates the vector store. Returns immediately; poll with this tool's status field or the HTTP status endpoint."
)

// ReindexInput represents the input arguments for the reindex tool.
type ReindexInput struct {
	Files []string `json:"files,omitempty" jsonschema:"optional vault-relative paths to reindex; omit to rebuild everything that changed"`
}

// ReindexOutput represents the output of the reindex tool.
type ReindexOutput struct {
	Status string           `json:"status"`
	JobID  string           `json:"job_id,omitempty"`
	Last   *index.JobStatus `json:"last,omitempty"`
}

// handleReindex triggers an index build, mirroring POST /reindex.
func (s *Server) handleReindex(ctx context.Context, req *mcp.CallToolRequest, input ReindexInput) (*mcp.CallToolResult, ReindexOutput, error) {
	logger := s.config.Logger

	mode := "full"
	if len(input.Files) > 0 {
		mode = "files"
	}

	id, ok := s.config.Jobs.TryStart(mode, input.Files)
	if !ok {
		last := s.config.Jobs.Status()
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "A reindex is already running."},
			},
		}, ReindexOutput{Status: "running", Last: &last}, nil
	}

	files := input.Files
	go func() {
		// Detached from the tool call so the build outlives it.
		buildCtx := context.Background()
		var (
			chunks int
			err    error
		)
		if len(files) > 0 {
			chunks, err = s.config.Builder.BuildFiles(buildCtx, files)
		} else {
			chunks, err = s.config.Builder.BuildAll(buildCtx)
		}
		if err != nil {
			logger.Error("index build failed", zap.Error(err))
		}
		s.config.Jobs.Finish(chunks, err)
	}()

	logger.Info("MCP reindex started",
		zap.String("job_id", id),
		zap.String("mode", mode),
		zap.Int("files", len(files)),
	)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Reindex started."},
		},
	}, ReindexOutput{Status: "started", JobID: id}, nil
}
