// Package qdrant provides a Qdrant-backed vector.Store over its REST API.
// It assumes cosine distance and creates the collection on first write.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/embeddings"
	"github.com/quietvale/notevault/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for indexed notes.
	DefaultCollectionName = "notes"
)

// Store implements vector.Store against Qdrant's REST API.
type Store struct {
	baseURL    string
	apiKey     string
	collection string
	embedder   embeddings.Embedder
	httpClient *http.Client
	logger     *zap.Logger

	initOnce sync.Once
	initErr  error
}

// Config holds configuration for the Qdrant store.
type Config struct {
	// URL is the Qdrant server URL (e.g., "http://localhost:6333").
	URL string

	// APIKey is an optional api-key header value.
	APIKey string

	// CollectionName is the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// Timeout bounds a single REST call. Defaults to 60s.
	Timeout time.Duration
}

// NewStore creates a Qdrant-backed store.
func NewStore(c Config, embedder embeddings.Embedder, logger *zap.Logger) (*Store, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("qdrant URL is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	collection := c.CollectionName
	if collection == "" {
		collection = DefaultCollectionName
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Store{
		baseURL:    c.URL,
		apiKey:     c.APIKey,
		collection: collection,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Search embeds the query and returns up to k chunks ranked by similarity.
func (s *Store) Search(ctx context.Context, query string, k int, filter *vector.Filter) ([]vector.Chunk, error) {
	if k <= 0 {
		k = 10
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	reqBody := map[string]any{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
	}
	if qf := buildFilter(filter); qf != nil {
		reqBody["filter"] = qf
	}

	var searchResp struct {
		Result []struct {
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", s.baseURL, s.collection)
	if err := s.postJSON(ctx, url, reqBody, &searchResp); err != nil {
		return nil, err
	}

	results := make([]vector.Chunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		chunk := vector.Chunk{Score: r.Score}
		if id, ok := r.Payload["id"].(string); ok {
			chunk.ID = id
		}
		if content, ok := r.Payload["content"].(string); ok {
			chunk.Content = content
		}
		if meta, ok := r.Payload["metadata"].(map[string]any); ok {
			chunk.Metadata = vector.MetadataFromMap(meta)
		}
		results = append(results, chunk)
	}

	s.logger.Debug("queried qdrant",
		zap.Int("results", len(results)),
		zap.Bool("filtered", filter != nil),
	)

	return results, nil
}

// Add upserts chunks, embedding their content client-side. The collection
// is created on the first write using the embedding dimension observed.
func (s *Store) Add(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		embedding, err := s.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return fmt.Errorf("embedding chunk %s: %w", chunk.ID, err)
		}

		s.initOnce.Do(func() {
			s.initErr = s.ensureCollection(ctx, len(embedding))
		})
		if s.initErr != nil {
			return s.initErr
		}

		points = append(points, map[string]any{
			"id":     chunk.ID,
			"vector": embedding,
			"payload": map[string]any{
				"id":       chunk.ID,
				"content":  chunk.Content,
				"metadata": vector.MetadataToMap(chunk.Metadata),
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.baseURL, s.collection)
	if err := s.putJSON(ctx, url, map[string]any{"points": points}); err != nil {
		return err
	}

	s.logger.Debug("added chunks to qdrant",
		zap.Int("count", len(points)),
	)

	return nil
}

// Delete removes chunks by their IDs.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.baseURL, s.collection)
	return s.postJSON(ctx, url, map[string]any{"points": ids}, nil)
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) ensureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	// Qdrant returns 200 if the collection already exists with the same schema.
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s", s.baseURL, s.collection), body)
}

// buildFilter translates a vector.Filter into Qdrant's must-clause shape.
func buildFilter(filter *vector.Filter) map[string]any {
	if filter == nil {
		return nil
	}

	var must []map[string]any
	for _, r := range filter.Ranges {
		rng := map[string]any{}
		if r.GTE != nil {
			rng["gte"] = *r.GTE
		}
		if r.LTE != nil {
			rng["lte"] = *r.LTE
		}
		if len(rng) == 0 {
			continue
		}
		must = append(must, map[string]any{
			"key":   "metadata." + r.Field,
			"range": rng,
		})
	}
	for field, value := range filter.Equal {
		must = append(must, map[string]any{
			"key":   "metadata." + field,
			"match": map[string]any{"value": value},
		})
	}

	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (s *Store) putJSON(ctx context.Context, url string, body any) error {
	return s.doJSON(ctx, http.MethodPut, url, body, nil)
}

func (s *Store) postJSON(ctx context.Context, url string, body any, out any) error {
	return s.doJSON(ctx, http.MethodPost, url, body, out)
}

func (s *Store) doJSON(ctx context.Context, method, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant %s %s failed: status %d: %s", method, url, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

var _ vector.Store = (*Store)(nil)
