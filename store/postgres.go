package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rag/chunker"
	"rag/model"
	"rag/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore implements VectorStorer on top of Postgres with the pgvector
// extension. Lockstep appends are guaranteed by inserting all chunks of a
// document in one transaction.
type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
	chunker   *chunker.Chunker
	embedder  model.EmbedderInterface
	logger    *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, ch *chunker.Chunker, embedder model.EmbedderInterface) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{
		pool:      pool,
		dimension: embedder.Dimension(),
		chunker:   ch,
		embedder:  embedder,
		logger:    slog.Default(),
	}

	if err := s.createTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error to create tables: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	query := fmt.Sprintf(`
    CREATE EXTENSION IF NOT EXISTS vector;

    CREATE TABLE IF NOT EXISTS chunks (
        id BIGSERIAL PRIMARY KEY,
        chunk_index INT NOT NULL,
        content TEXT NOT NULL,
        metadata JSONB NOT NULL DEFAULT '{}',
        embedding vector(%d) NOT NULL
    );

	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_l2_ops)
	WITH (lists = 100);
    `, s.dimension)
	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) Index(ctx context.Context, text string, metadata types.Metadata) (int, error) {
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

	now := time.Now().UTC().Format(time.RFC3339)

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var base int
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM chunks").Scan(&base); err != nil {
			return err
		}

		for i, chunk := range chunks {
			chunkMeta := metadata.Clone()
			chunkMeta["chunk_id"] = base + i
			chunkMeta["chunk_index"] = i
			chunkMeta["timestamp"] = now
			chunkMeta["length"] = len(chunk)

			_, err := tx.Exec(ctx,
				`INSERT INTO chunks (chunk_index, content, metadata, embedding) VALUES ($1, $2, $3, $4)`,
				i, chunk, chunkMeta, pgvector.NewVector(embeddings[i]),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save chunks: %w", err)
	}

	s.logger.Info("added chunks to vector store", "chunks", len(chunks))
	return len(chunks), nil
}

func (s *PostgresStore) Search(ctx context.Context, query string, k int, threshold float64) ([]types.SearchResult, error) {
	if s.Size() == 0 {
		s.logger.Warn("vector store is empty")
		return nil, nil
	}

	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(embeddings) == 0 {
		s.logger.Error("query embedding failed", "error", err)
		return nil, nil
	}
	vector := pgvector.NewVector(embeddings[0])

	rows, err := s.pool.Query(ctx, `
		SELECT content, metadata, embedding <-> $1 AS distance
		FROM chunks
		ORDER BY embedding <-> $1, id
		LIMIT $2
	`, vector, k)
	if err != nil {
		s.logger.Error("search query failed", "error", err)
		return nil, nil
	}
	defer rows.Close()

	var results []types.SearchResult
	for rows.Next() {
		var res types.SearchResult
		var distance float64
		if err := rows.Scan(&res.Text, &res.Metadata, &distance); err != nil {
			s.logger.Error("search scan failed", "error", err)
			return nil, nil
		}
		// pgvector's <-> is plain euclidean distance; square it to match
		// the squared L2 contract of the in-memory backend.
		res.Distance = distance * distance
		if threshold >= 0 && res.Distance > threshold {
			continue
		}
		results = append(results, res)
	}
	if rows.Err() != nil {
		s.logger.Error("search rows failed", "error", rows.Err())
		return nil, nil
	}

	s.logger.Info("found relevant documents for query", "count", len(results))
	return results, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE chunks"); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	s.logger.Info("vector store cleared")
	return nil
}

func (s *PostgresStore) Size() int {
	var count int
	if err := s.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM chunks").Scan(&count); err != nil {
		s.logger.Error("failed to count chunks", "error", err)
		return 0
	}
	return count
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("postgres connection pool is closed")
	}
	return nil
}
