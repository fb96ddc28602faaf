// Package ollama implements pkg/llm's Generator client for Ollama's
// generate API, in both buffered and line-streamed forms.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quietvale/notevault/pkg/llm"
)

const (
	// DefaultModel is the default generation model.
	DefaultModel = "granite4:tiny-h"

	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"
)

// Client wraps Ollama's /api/generate endpoint.
type Client struct {
	baseURL      string
	model        string
	httpClient   *http.Client
	streamClient *http.Client
}

// Config holds configuration for the Ollama generator.
type Config struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Model is the generation model to use. Defaults to DefaultModel if empty.
	Model string

	// Timeout bounds a buffered Generate call. Defaults to 120s.
	Timeout time.Duration

	// StreamTimeout bounds an entire streaming call. Defaults to 600s.
	StreamTimeout time.Duration
}

// generateRequest is the request body for Ollama's generate API.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Options generateOptions `json:"options"`
	Stream  bool            `json:"stream"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	KeepAlive   string  `json:"keep_alive,omitempty"`
}

// generateResponse is one response object from Ollama's generate API.
// In streaming mode one of these arrives per line.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type versionResponse struct {
	Version string `json:"version"`
}

// NewClient creates a generator backed by Ollama's generate API.
func NewClient(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	streamTimeout := cfg.StreamTimeout
	if streamTimeout == 0 {
		streamTimeout = 600 * time.Second
	}

	return &Client{
		baseURL:      baseURL,
		model:        model,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{Timeout: streamTimeout},
	}, nil
}

// Generate returns the full completion for prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	resp, err := c.post(ctx, c.httpClient, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding generate response: %w", err)
	}

	return genResp.Response, nil
}

// Stream invokes fn with each incremental text fragment. Ollama streams one
// JSON object per line; non-JSON lines are passed through verbatim.
func (c *Client) Stream(ctx context.Context, prompt string, opts llm.Options, fn func(fragment string) error) error {
	resp, err := c.post(ctx, c.streamClient, prompt, opts, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var genResp generateResponse
		if err := json.Unmarshal(line, &genResp); err != nil {
			if err := fn(string(line)); err != nil {
				return err
			}
			continue
		}

		if genResp.Response != "" {
			if err := fn(genResp.Response); err != nil {
				return err
			}
		}
		if genResp.Done {
			break
		}
	}

	return scanner.Err()
}

// Version reports the Ollama server version. Used by health checks.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/version", nil)
	if err != nil {
		return "", fmt.Errorf("creating version request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending version request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var verResp versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&verResp); err != nil {
		return "", fmt.Errorf("decoding version response: %w", err)
	}

	return verResp.Version, nil
}

func (c *Client) post(ctx context.Context, client *http.Client, prompt string, opts llm.Options, stream bool) (*http.Response, error) {
	reqBody := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Options: generateOptions{
			Temperature: opts.Temperature,
			NumCtx:      opts.ContextWindow,
			NumPredict:  opts.MaxTokens,
			KeepAlive:   opts.KeepAlive,
		},
		Stream: stream,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending generate request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

var _ llm.Generator = (*Client)(nil)
