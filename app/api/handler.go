package api

import (
	"context"
	"log/slog"
	"time"

	"rag/app/agent"
	"rag/memory"
	"rag/store"
	"rag/types"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Answerer generates the final answer from the query, the retrieved context
// and the conversation history.
type Answerer interface {
	GenerateAnswer(ctx context.Context, query string, contexts []string, history []types.Turn) (*types.Answer, error)
}

type RequestHandler struct {
	contextStore store.VectorStorer
	memory       *memory.ConversationMemory
	agent        Answerer
	cfg          types.Config
	logger       *slog.Logger
}

func NewRequestHandler(contextStore store.VectorStorer, mem *memory.ConversationMemory, ag Answerer, cfg types.Config) *RequestHandler {
	return &RequestHandler{
		contextStore: contextStore,
		memory:       mem,
		agent:        ag,
		cfg:          cfg,
		logger:       slog.Default(),
	}
}

// HandleAsk answers a question with session-scoped memory and retrieved
// context.
func (h *RequestHandler) HandleAsk(c *fiber.Ctx) error {
	start := time.Now()

	var params types.AskParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	history := h.memory.GetHistory(sessionID, 0)
	contextualized := agent.ContextualizeQuery(params.Query, history)

	k := h.cfg.DefaultTopK
	if params.MaxContextItems > 0 && params.MaxContextItems < k {
		k = params.MaxContextItems
	}

	results, err := h.contextStore.Search(c.Context(), contextualized, k, -1)
	if err != nil {
		return err
	}
	contexts := make([]string, len(results))
	for i, res := range results {
		contexts[i] = res.Text
	}
	if len(contexts) == 0 {
		h.logger.Warn("no contexts found in vector store")
	}

	answer, err := h.agent.GenerateAnswer(c.Context(), params.Query, contexts, history)
	if err != nil {
		return err
	}

	h.memory.AddTurn(sessionID, params.Query, answer.Text, types.Metadata{
		"contexts_used":   len(contexts),
		"tokens_used":     answer.TokensUsed,
		"processing_time": answer.ProcessingTime,
	})

	elapsed := time.Since(start)
	h.logger.Info("query processed",
		"duration", elapsed, "contexts", len(contexts), "session", sessionID)

	return c.JSON(types.AskResponse{
		Answer:         answer.Text,
		SessionID:      sessionID,
		SourcesCount:   len(contexts),
		ProcessingTime: elapsed.Seconds(),
		Metadata: types.Metadata{
			"tokens_used": answer.TokensUsed,
			"model":       answer.Model,
			"turn_count":  len(history) + 1,
		},
	})
}

// HandleSessionInfo returns statistics for one session. A zero turn count
// means the session does not exist.
func (h *RequestHandler) HandleSessionInfo(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	summary := h.memory.Summary(sessionID)
	if summary.TurnCount == 0 {
		return ErrNotFound(sessionID, "session")
	}
	return c.JSON(summary)
}

func (h *RequestHandler) HandleClearSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	h.memory.ClearSession(sessionID)
	return c.JSON(fiber.Map{"message": "session cleared"})
}

func (h *RequestHandler) HandleClearStore(c *fiber.Ctx) error {
	if err := h.contextStore.Clear(c.Context()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "vector store cleared"})
}
