package model

import (
	"context"
	"log/slog"
	"os"
)

// EmbedderInterface maps batches of text to fixed-dimension vectors.
// Dimension is fixed at construction and constant for the lifetime of
// the embedder.
type EmbedderInterface interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// NewEmbedder builds the configured embedder (only Ollama for now) from
// environment variables.
func NewEmbedder(ctx context.Context) (EmbedderInterface, error) {
	url := os.Getenv("OLLAMA_EMBEDDING_URL")
	model := os.Getenv("OLLAMA_EMBEDDING_MODEL")

	embedder, err := NewOllamaEmbedder(ctx, url, model)
	if err != nil {
		return nil, err
	}

	slog.Info("using local Ollama for embeddings", "model", model, "dimension", embedder.Dimension())
	return embedder, nil
}
