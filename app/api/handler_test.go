package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rag/chunker"
	"rag/memory"
	"rag/store"
	"rag/types"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		var first float32
		if len(text) > 0 {
			first = float32(text[0])
		}
		out[i] = []float32{first, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimension() int { return 2 }

type fakeAnswerer struct {
	answer string
	err    error

	gotQuery    string
	gotContexts []string
	gotHistory  []types.Turn
}

func (f *fakeAnswerer) GenerateAnswer(_ context.Context, query string, contexts []string, history []types.Turn) (*types.Answer, error) {
	f.gotQuery = query
	f.gotContexts = contexts
	f.gotHistory = history
	if f.err != nil {
		return nil, f.err
	}
	return &types.Answer{Text: f.answer, Model: "fake-model", TokensUsed: 7}, nil
}

type testEnv struct {
	app      *fiber.App
	store    *store.MemoryStore
	memory   *memory.ConversationMemory
	answerer *fakeAnswerer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ch, err := chunker.New(1000, 200)
	require.NoError(t, err)

	contextStore := store.NewMemoryStore(ch, fakeEmbedder{}, nil)
	mem := memory.New(10, time.Hour)
	answerer := &fakeAnswerer{answer: "the answer"}
	cfg := types.Config{DefaultTopK: 3, MaxHistoryLength: 10}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	checkHandler := NewCheckHandler(contextStore, mem)
	requestHandler := NewRequestHandler(contextStore, mem, answerer, cfg)

	app.Get("/check/healthy", checkHandler.HandleHealthy)
	app.Post("/api/v1/ask", requestHandler.HandleAsk)
	app.Get("/api/v1/session/:id", requestHandler.HandleSessionInfo)
	app.Delete("/api/v1/session/:id", requestHandler.HandleClearSession)
	app.Delete("/api/v1/vectorstore", requestHandler.HandleClearStore)

	return &testEnv{app: app, store: contextStore, memory: mem, answerer: answerer}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandleAsk(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.Index(context.Background(), "alpha", nil)
	require.NoError(t, err)

	resp := env.request(t, "POST", "/api/v1/ask", types.AskParams{
		Query:     "alpha question",
		SessionID: "s1",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeJSON[types.AskResponse](t, resp)
	assert.Equal(t, "the answer", body.Answer)
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, 1, body.SourcesCount)
	assert.Equal(t, []string{"alpha"}, env.answerer.gotContexts)

	history := env.memory.GetHistory("s1", 0)
	require.Len(t, history, 1)
	assert.Equal(t, "alpha question", history[0].User)
	assert.Equal(t, "the answer", history[0].Assistant)
}

func TestHandleAskGeneratesSessionID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "POST", "/api/v1/ask", types.AskParams{Query: "anything"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeJSON[types.AskResponse](t, resp)
	assert.NotEmpty(t, body.SessionID)
	assert.Equal(t, 0, body.SourcesCount, "empty store yields an answer without context")
}

func TestHandleAskContextualizesFollowUp(t *testing.T) {
	env := newTestEnv(t)
	env.memory.AddTurn("s1", "tell me about alpha", "alpha is first", nil)

	resp := env.request(t, "POST", "/api/v1/ask", types.AskParams{
		Query:     "and bravo?",
		SessionID: "s1",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// The answerer still receives the raw query; only retrieval uses the
	// rewritten one.
	assert.Equal(t, "and bravo?", env.answerer.gotQuery)
	require.Len(t, env.answerer.gotHistory, 1)
}

func TestHandleAskValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "POST", "/api/v1/ask", types.AskParams{Query: ""})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHandleAskAnswererFailure(t *testing.T) {
	env := newTestEnv(t)
	env.answerer.err = errors.New("LLM down")

	resp := env.request(t, "POST", "/api/v1/ask", types.AskParams{Query: "anything"})
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 0, env.memory.ActiveSessionCount(), "failed answers must not be recorded")
}

func TestHandleSessionInfo(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "GET", "/api/v1/session/unknown", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	env.memory.AddTurn("s1", "hi", "hello", nil)
	resp = env.request(t, "GET", "/api/v1/session/s1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	summary := decodeJSON[types.SessionSummary](t, resp)
	assert.Equal(t, "s1", summary.SessionID)
	assert.Equal(t, 1, summary.TurnCount)
}

func TestHandleClearSession(t *testing.T) {
	env := newTestEnv(t)
	env.memory.AddTurn("s1", "hi", "hello", nil)

	resp := env.request(t, "DELETE", "/api/v1/session/s1", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, env.memory.GetHistory("s1", 0))
}

func TestHandleClearStoreAndHealth(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.Index(context.Background(), "alpha", nil)
	require.NoError(t, err)

	resp := env.request(t, "DELETE", "/api/v1/vectorstore", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.store.Size())

	resp = env.request(t, "GET", "/check/healthy", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	health := decodeJSON[types.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 0, health.VectorStoreSize)
}
