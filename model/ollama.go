package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// OllamaEmbedder creates embeddings through the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	apiURL    string
	model     string
	dimension int
}

type OllamaEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type OllamaEmbeddingResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaEmbedder probes the model once to pin the embedding dimension.
func NewOllamaEmbedder(ctx context.Context, apiURL, model string) (*OllamaEmbedder, error) {
	e := &OllamaEmbedder{
		apiURL: apiURL,
		model:  model,
	}

	probe, err := e.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, fmt.Errorf("failed to probe embedding dimension: %w", err)
	}
	if len(probe) == 0 || len(probe[0]) == 0 {
		return nil, fmt.Errorf("embedding model %s returned an empty vector", model)
	}

	e.dimension = len(probe[0])
	return e, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := OllamaEmbeddingRequest{
		Model: e.model,
		Input: texts,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.apiURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var ollamaResp OllamaEmbeddingResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(ollamaResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(ollamaResp.Embeddings), len(texts))
	}

	embeddings := make([][]float32, len(ollamaResp.Embeddings))
	for i, vec := range ollamaResp.Embeddings {
		if e.dimension != 0 && len(vec) != e.dimension {
			return nil, fmt.Errorf("embedding dimension changed: want %d, got %d", e.dimension, len(vec))
		}
		norm := normalize64(vec)
		row := make([]float32, len(norm))
		for j, v := range norm {
			row[j] = float32(v)
		}
		embeddings[i] = row
	}

	return embeddings, nil
}

// normalize64 scales the vector to unit length.
func normalize64(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}

	for i, x := range vec {
		vec[i] = x / norm
	}
	return vec
}
