package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"rag/chunker"
	"rag/model"
	"rag/types"
)

// ErrEmptyDocument is returned by Index when chunking yields nothing to
// store, e.g. for an empty or whitespace-only document.
var ErrEmptyDocument = errors.New("no valid chunks created from document")

// VectorStorer is the retrieval engine: it chunks and indexes documents and
// answers nearest-neighbour queries over their embeddings.
type VectorStorer interface {
	Index(ctx context.Context, text string, metadata types.Metadata) (int, error)
	Search(ctx context.Context, query string, k int, threshold float64) ([]types.SearchResult, error)
	Clear(ctx context.Context) error
	Size() int
}

// MemoryStore keeps embeddings, chunk texts and chunk metadata in three
// positionally aligned slices guarded by one lock, so they only ever
// advance in lockstep. State is mirrored to disk after every mutation.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	documents []string
	metadata  []types.Metadata

	chunker  *chunker.Chunker
	embedder model.EmbedderInterface
	persist  *FilePersister
	logger   *slog.Logger
}

// NewMemoryStore restores prior state from the persister when a consistent
// snapshot exists, otherwise starts empty. A missing or corrupt snapshot is
// never fatal.
func NewMemoryStore(ch *chunker.Chunker, embedder model.EmbedderInterface, persist *FilePersister) *MemoryStore {
	s := &MemoryStore{
		dimension: embedder.Dimension(),
		chunker:   ch,
		embedder:  embedder,
		persist:   persist,
		logger:    slog.Default(),
	}

	if persist != nil {
		snap, err := persist.Load()
		switch {
		case err != nil:
			s.logger.Warn("could not load existing index, starting empty", "error", err)
		case snap != nil:
			if snap.Dimension != s.dimension {
				s.logger.Warn("stored index dimension does not match embedder, starting empty",
					"stored", snap.Dimension, "embedder", s.dimension)
				break
			}
			s.vectors = snap.Vectors
			s.documents = snap.Documents
			s.metadata = snap.Metadata
			s.logger.Info("loaded documents from disk", "chunks", len(s.documents))
		}
	}

	return s
}

// Index splits the text into chunks, embeds them in one batched call and
// appends embedding, text and metadata for each chunk as one unit. The
// updated state is written to disk before returning; a failed write is
// logged but does not undo the in-memory append.
func (s *MemoryStore) Index(ctx context.Context, text string, metadata types.Metadata) (int, error) {
	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, ErrEmptyDocument
	}

	embeddings, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}
	for _, vec := range embeddings {
		if len(vec) != s.dimension {
			return 0, fmt.Errorf("embedding dimension mismatch: want %d, got %d", s.dimension, len(vec))
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, chunk := range chunks {
		chunkMeta := metadata.Clone()
		chunkMeta["chunk_id"] = len(s.documents)
		chunkMeta["chunk_index"] = i
		chunkMeta["timestamp"] = now
		chunkMeta["length"] = len(chunk)

		s.vectors = append(s.vectors, embeddings[i])
		s.documents = append(s.documents, chunk)
		s.metadata = append(s.metadata, chunkMeta)
	}

	s.logger.Info("added chunks to vector store", "chunks", len(chunks), "total", len(s.documents))
	s.saveLocked()

	return len(chunks), nil
}

// Search returns up to k chunks ordered by ascending squared L2 distance to
// the query embedding, ties broken by insertion order. Embedder failures are
// logged and degrade to an empty result so the surrounding request can still
// be answered without retrieved context.
func (s *MemoryStore) Search(ctx context.Context, query string, k int, threshold float64) ([]types.SearchResult, error) {
	if s.Size() == 0 {
		s.logger.Warn("vector store is empty")
		return nil, nil
	}

	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(embeddings) == 0 {
		s.logger.Error("query embedding failed", "error", err)
		return nil, nil
	}
	queryVec := embeddings[0]

	s.mu.RLock()
	defer s.mu.RUnlock()

	if k > len(s.documents) {
		k = len(s.documents)
	}
	if k <= 0 {
		return nil, nil
	}

	order := make([]int, len(s.vectors))
	dists := make([]float64, len(s.vectors))
	for i, vec := range s.vectors {
		order[i] = i
		dists[i] = squaredL2(queryVec, vec)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dists[order[a]] < dists[order[b]]
	})

	results := make([]types.SearchResult, 0, k)
	for _, idx := range order[:k] {
		if threshold >= 0 && dists[idx] > threshold {
			continue
		}
		results = append(results, types.SearchResult{
			Text:     s.documents[idx],
			Distance: dists[idx],
			Metadata: s.metadata[idx].Clone(),
		})
	}

	s.logger.Info("found relevant documents for query", "count", len(results))
	return results, nil
}

// Clear drops all chunks and persists the empty state.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vectors = nil
	s.documents = nil
	s.metadata = nil
	s.saveLocked()

	s.logger.Info("vector store cleared")
	return nil
}

// Size reports the current chunk count.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// saveLocked writes the current state through the persister. Callers must
// hold the write lock. Durability is best effort: a failed write leaves the
// in-memory state authoritative.
func (s *MemoryStore) saveLocked() {
	if s.persist == nil {
		return
	}
	snap := &Snapshot{
		Dimension: s.dimension,
		Vectors:   s.vectors,
		Documents: s.documents,
		Metadata:  s.metadata,
	}
	if err := s.persist.Save(snap); err != nil {
		s.logger.Error("failed to save index", "error", err)
	}
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
