// Package retrieval fetches knowledge chunks to ground delegate answers.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Chunk is one retrieved passage.
type Chunk struct {
	Text     string  `json:"text"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// Retriever answers a query with up to k chunks, best first.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]Chunk, error)
}

// HTTPRetriever talks to a retrieval service over JSON.
type HTTPRetriever struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRetriever creates a retriever against the given base endpoint.
func NewHTTPRetriever(endpoint string) *HTTPRetriever {
	return &HTTPRetriever{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type queryResponse struct {
	Chunks []Chunk `json:"chunks"`
}

func (r *HTTPRetriever) Query(ctx context.Context, text string, k int) ([]Chunk, error) {
	if k <= 0 {
		k = 4
	}

	body, err := json.Marshal(queryRequest{Query: text, TopK: k})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("retrieval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("retrieval query: status %d: %s", resp.StatusCode, data)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("retrieval query: decode: %w", err)
	}
	if len(out.Chunks) > k {
		out.Chunks = out.Chunks[:k]
	}
	return out.Chunks, nil
}

// StaticRetriever returns a fixed chunk list; used in tests and as the
// offline fallback when no retrieval endpoint is configured.
type StaticRetriever struct {
	Chunks  []Chunk
	Err     error
	Queries []string
}

func (s *StaticRetriever) Query(ctx context.Context, text string, k int) ([]Chunk, error) {
	s.Queries = append(s.Queries, text)
	if s.Err != nil {
		return nil, s.Err
	}
	if k > 0 && len(s.Chunks) > k {
		return s.Chunks[:k], nil
	}
	return s.Chunks, nil
}
