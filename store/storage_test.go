package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"rag/chunker"
	"rag/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps every text to a deterministic 2D vector derived from
// its first byte, so distances in tests are predictable.
type fakeEmbedder struct {
	fail bool
	vecs map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := f.vecs[text]; ok {
			out[i] = vec
			continue
		}
		var first float32
		if len(text) > 0 {
			first = float32(text[0])
		}
		out[i] = []float32{first, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }

func newTestStore(t *testing.T, embedder *fakeEmbedder) *MemoryStore {
	t.Helper()
	ch, err := chunker.New(1000, 200)
	require.NoError(t, err)
	return NewMemoryStore(ch, embedder, nil)
}

func (s *MemoryStore) requireAligned(t *testing.T) {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()
	require.Equal(t, len(s.vectors), len(s.documents))
	require.Equal(t, len(s.vectors), len(s.metadata))
}

func TestIndexEmptyDocument(t *testing.T) {
	s := newTestStore(t, &fakeEmbedder{})

	_, err := s.Index(context.Background(), "   \n ", nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
	assert.Equal(t, 0, s.Size())
}

func TestIndexAppendsInLockstep(t *testing.T) {
	s := newTestStore(t, &fakeEmbedder{})

	n, err := s.Index(context.Background(), "alpha", types.Metadata{"filename": "a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Size())
	s.requireAligned(t)

	n, err = s.Index(context.Background(), "bravo", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, s.Size())
	s.requireAligned(t)
}

func TestIndexEmbedderFailureLeavesStoreUntouched(t *testing.T) {
	embedder := &fakeEmbedder{}
	s := newTestStore(t, embedder)

	_, err := s.Index(context.Background(), "alpha", nil)
	require.NoError(t, err)

	embedder.fail = true
	_, err = s.Index(context.Background(), "bravo", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, s.Size())
	s.requireAligned(t)
}

func TestIndexWritesMetadataFields(t *testing.T) {
	s := newTestStore(t, &fakeEmbedder{})

	_, err := s.Index(context.Background(), "alpha", types.Metadata{"filename": "a.pdf"})
	require.NoError(t, err)
	_, err = s.Index(context.Background(), "bravo", nil)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "alpha", 2, -1)
	require.NoError(t, err)
	require.Len(t, results, 2)

	meta := results[0].Metadata
	assert.Equal(t, "a.pdf", meta["filename"])
	assert.Equal(t, 0, meta["chunk_id"])
	assert.Equal(t, 0, meta["chunk_index"])
	assert.Equal(t, len("alpha"), meta["length"])
	assert.NotEmpty(t, meta["timestamp"])

	// Second document's first chunk continues the global numbering.
	assert.Equal(t, 1, results[1].Metadata["chunk_id"])
	assert.Equal(t, 0, results[1].Metadata["chunk_index"])
}

func TestSearchEmptyStore(t *testing.T) {
	s := newTestStore(t, &fakeEmbedder{})

	results, err := s.Search(context.Background(), "anything", 5, -1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchOrderingAndClamp(t *testing.T) {
	s := newTestStore(t, &fakeEmbedder{})
	ctx := context.Background()

	for _, doc := range []string{"charlie", "alpha", "bravo"} {
		_, err := s.Index(ctx, doc, nil)
		require.NoError(t, err)
	}

	// Query vector is [0,0]; distances are the squared first bytes, so
	// alphabetical order here.
	results, err := s.Search(ctx, "\x00", 1000, -1)
	require.NoError(t, err)
	require.Len(t, results, 3, "k must clamp to the store size")

	assert.Equal(t, "alpha", results[0].Text)
	assert.Equal(t, "bravo", results[1].Text)
	assert.Equal(t, "charlie", results[2].Text)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
	assert.LessOrEqual(t, results[1].Distance, results[2].Distance)

	results, err = s.Search(ctx, "\x00", 2, -1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Text)
}

func TestSearchTieBreakByInsertionOrder(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{
		"twin one": {5, 0},
		"twin two": {5, 0},
	}}
	s := newTestStore(t, embedder)
	ctx := context.Background()

	_, err := s.Index(ctx, "twin one", nil)
	require.NoError(t, err)
	_, err = s.Index(ctx, "twin two", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "\x00", 2, -1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Distance, results[1].Distance)
	assert.Equal(t, "twin one", results[0].Text)
	assert.Equal(t, "twin two", results[1].Text)
}

func TestSearchThreshold(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float32{
		"near": {1, 0},
		"far":  {10, 0},
	}}
	s := newTestStore(t, embedder)
	ctx := context.Background()

	_, err := s.Index(ctx, "near", nil)
	require.NoError(t, err)
	_, err = s.Index(ctx, "far", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "\x00", 5, 2.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].Text)

	results, err = s.Search(ctx, "\x00", 5, 0.5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchEmbedderFailureDegradesToEmpty(t *testing.T) {
	embedder := &fakeEmbedder{}
	s := newTestStore(t, embedder)

	_, err := s.Index(context.Background(), "alpha", nil)
	require.NoError(t, err)

	embedder.fail = true
	results, err := s.Search(context.Background(), "alpha", 3, -1)
	assert.NoError(t, err, "search failures are swallowed, not propagated")
	assert.Empty(t, results)
}

func TestSearchReturnsMetadataCopies(t *testing.T) {
	s := newTestStore(t, &fakeEmbedder{})
	ctx := context.Background()

	_, err := s.Index(ctx, "alpha", types.Metadata{"filename": "a.pdf"})
	require.NoError(t, err)

	results, err := s.Search(ctx, "alpha", 1, -1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	results[0].Metadata["filename"] = "tampered"

	again, err := s.Search(ctx, "alpha", 1, -1)
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", again[0].Metadata["filename"])
}

func TestClear(t *testing.T) {
	s := newTestStore(t, &fakeEmbedder{})
	ctx := context.Background()

	_, err := s.Index(ctx, "alpha", nil)
	require.NoError(t, err)
	require.Equal(t, 1, s.Size())

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Size())
	s.requireAligned(t)

	results, err := s.Search(ctx, "alpha", 5, -1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestConcurrentIndexKeepsAlignment(t *testing.T) {
	s := newTestStore(t, &fakeEmbedder{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Index(ctx, fmt.Sprintf("document %d", i), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, s.Size())
	s.requireAligned(t)
}
