// Package chroma provides a Chroma-backed vector.Store using Chroma's REST API.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/embeddings"
	"github.com/quietvale/notevault/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for indexed notes.
	DefaultCollectionName = "notes"
)

// Store implements vector.Store against Chroma's REST API. Query text and
// added chunks are embedded client-side with the configured Embedder.
type Store struct {
	baseURL        string
	collectionName string
	collectionID   string
	embedder       embeddings.Embedder
	httpClient     *http.Client
	logger         *zap.Logger
}

// Config holds configuration for the Chroma store.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName is the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string
}

// NewStore creates a Chroma-backed store and ensures its collection exists.
func NewStore(c Config, embedder embeddings.Embedder, logger *zap.Logger) (*Store, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}

	s := &Store{
		baseURL:        c.URL,
		collectionName: collectionName,
		embedder:       embedder,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}

	collectionID, err := s.getOrCreateCollection(context.Background())
	if err != nil {
		return nil, fmt.Errorf("getting or creating collection %q: %w", collectionName, err)
	}
	s.collectionID = collectionID

	logger.Info("connected to Chroma",
		zap.String("url", c.URL),
		zap.String("collection", collectionName),
		zap.String("collection_id", collectionID),
	)

	return s, nil
}

// getOrCreateCollection gets an existing collection or creates a new one.
func (s *Store) getOrCreateCollection(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s", s.baseURL, s.collectionName)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("creating get request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var collection chromaCollection
		if err := json.NewDecoder(resp.Body).Decode(&collection); err != nil {
			return "", fmt.Errorf("decoding collection response: %w", err)
		}
		return collection.ID, nil
	}

	createURL := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections", s.baseURL)
	createBody := map[string]string{"name": s.collectionName}
	jsonBody, err := json.Marshal(createBody)
	if err != nil {
		return "", fmt.Errorf("marshaling create request: %w", err)
	}

	req, err = http.NewRequestWithContext(ctx, "POST", createURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("creating create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err = s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to create collection: status %d: %s", resp.StatusCode, string(body))
	}

	var collection chromaCollection
	if err := json.NewDecoder(resp.Body).Decode(&collection); err != nil {
		return "", fmt.Errorf("decoding create response: %w", err)
	}

	return collection.ID, nil
}

// Search embeds the query and returns up to k chunks ranked by similarity,
// optionally restricted by a metadata filter translated to a Chroma where
// clause.
func (s *Store) Search(ctx context.Context, query string, k int, filter *vector.Filter) ([]vector.Chunk, error) {
	if k <= 0 {
		k = 10
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	reqBody := chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        k,
		Include:         []string{"metadatas", "distances", "documents"},
		Where:           buildWhere(filter),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling query request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s/query", s.baseURL, s.collectionID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if filter != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("%w: status %d: %s", vector.ErrFilterUnsupported, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("failed to query: status %d: %s", resp.StatusCode, string(body))
	}

	var queryResp chromaQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decoding query response: %w", err)
	}

	var results []vector.Chunk

	// Only one query embedding is sent, so only the first group matters.
	if len(queryResp.IDs) == 0 || len(queryResp.IDs[0]) == 0 {
		return results, nil
	}

	ids := queryResp.IDs[0]

	var distances []float32
	if len(queryResp.Distances) > 0 {
		distances = queryResp.Distances[0]
	}

	var metadatas []map[string]any
	if len(queryResp.Metadatas) > 0 {
		metadatas = queryResp.Metadatas[0]
	}

	var documents []string
	if len(queryResp.Documents) > 0 {
		documents = queryResp.Documents[0]
	}

	for i, id := range ids {
		chunk := vector.Chunk{ID: id}

		if i < len(documents) {
			chunk.Content = documents[i]
		}
		if i < len(metadatas) && metadatas[i] != nil {
			chunk.Metadata = vector.MetadataFromMap(metadatas[i])
		}
		// Lower distance = higher similarity.
		if i < len(distances) {
			chunk.Score = 1.0 / (1.0 + distances[i])
		}

		results = append(results, chunk)
	}

	s.logger.Debug("queried chroma",
		zap.Int("results", len(results)),
		zap.Bool("filtered", filter != nil),
	)

	return results, nil
}

// Add upserts chunks, embedding their content client-side.
func (s *Store) Add(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeds := make([][]float32, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	documents := make([]string, len(chunks))

	for i, chunk := range chunks {
		embedding, err := s.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return fmt.Errorf("embedding chunk %s: %w", chunk.ID, err)
		}
		ids[i] = chunk.ID
		embeds[i] = embedding
		metadatas[i] = vector.MetadataToMap(chunk.Metadata)
		documents[i] = chunk.Content
	}

	reqBody := chromaAddRequest{
		IDs:        ids,
		Embeddings: embeds,
		Metadatas:  metadatas,
		Documents:  documents,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling add request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s/upsert", s.baseURL, s.collectionID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating add request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add chunks: status %d: %s", resp.StatusCode, string(body))
	}

	s.logger.Debug("added chunks to chroma",
		zap.Int("count", len(chunks)),
	)

	return nil
}

// Delete removes chunks by their IDs.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	reqBody := chromaDeleteRequest{IDs: ids}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling delete request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s/delete", s.baseURL, s.collectionID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to delete chunks: status %d: %s", resp.StatusCode, string(body))
	}

	s.logger.Debug("deleted chunks from chroma",
		zap.Int("count", len(ids)),
	)

	return nil
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}

// buildWhere translates a vector.Filter into Chroma's where-clause shape.
// Single conditions collapse to a bare predicate; multiple conditions are
// wrapped in $and.
func buildWhere(filter *vector.Filter) map[string]any {
	if filter == nil {
		return nil
	}

	var conds []map[string]any
	for _, r := range filter.Ranges {
		if r.GTE != nil {
			conds = append(conds, map[string]any{r.Field: map[string]any{"$gte": *r.GTE}})
		}
		if r.LTE != nil {
			conds = append(conds, map[string]any{r.Field: map[string]any{"$lte": *r.LTE}})
		}
	}
	for field, value := range filter.Equal {
		conds = append(conds, map[string]any{field: value})
	}

	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return map[string]any{"$and": conds}
	}
}

var _ vector.Store = (*Store)(nil)
