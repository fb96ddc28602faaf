package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/api"
)

var (
	queryToolName    = "query_notes"
	queryDescription = "Answer a question from the user's markdown notes. Retrieves the most relevant note chunks, honoring any date ranges or person names in the question, and generates a cited answer."
)

// QueryInput represents the input arguments for the query tool.
type QueryInput struct {
	Question string `json:"question" jsonschema:"the question to answer from the notes"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"number of note chunks to retrieve (default: 5)"`
}

// QuerySource identifies one chunk that informed the answer.
type QuerySource struct {
	Source    string `json:"source"`
	Title     string `json:"title,omitempty"`
	EntryDate string `json:"entry_date,omitempty"`
}

// QueryOutput represents the output of the query tool.
type QueryOutput struct {
	Answer  string        `json:"answer"`
	Sources []QuerySource `json:"sources"`
}

// handleQuery retrieves, prompts, and generates, mirroring POST /query.
func (s *Server) handleQuery(ctx context.Context, req *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
	logger := s.config.Logger

	topK := input.TopK
	if topK <= 0 {
		topK = s.config.TopK
	}
	if topK <= 0 {
		topK = 5
	}

	logger.Debug("MCP query request",
		zap.String("question", input.Question),
		zap.Int("topK", topK),
	)

	chunks, err := s.config.Engine.Retrieve(ctx, input.Question, topK)
	if err != nil {
		logger.Error("failed to retrieve chunks", zap.Error(err))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to retrieve notes: %v", err)},
			},
		}, QueryOutput{}, nil
	}

	prompt := api.FinalPrompt(s.config.SystemPrompt, s.config.Timezone, input.Question, chunks)
	answer, err := s.config.Generator.Generate(ctx, prompt, s.config.GenOptions)
	if err != nil {
		logger.Error("failed to generate answer", zap.Error(err))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to generate answer: %v", err)},
			},
		}, QueryOutput{}, nil
	}

	sources := make([]QuerySource, 0, len(chunks))
	for _, ch := range chunks {
		sources = append(sources, QuerySource{
			Source:    ch.Metadata.Source,
			Title:     ch.Metadata.Title,
			EntryDate: ch.Metadata.EntryDate,
		})
	}

	output := QueryOutput{
		Answer:  answer,
		Sources: sources,
	}

	// Serialize the structured output as JSON for the text field
	// Per MCP spec: tools returning structured content should also return
	// serialized JSON in a TextContent block for backwards compatibility
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal query output", zap.Error(err))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to serialize answer: %v", err)},
			},
		}, QueryOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
