package api

import (
	"time"

	"rag/memory"
	"rag/store"
	"rag/types"

	"github.com/gofiber/fiber/v2"
)

type CheckHandler struct {
	contextStore store.VectorStorer
	memory       *memory.ConversationMemory
}

func NewCheckHandler(contextStore store.VectorStorer, mem *memory.ConversationMemory) *CheckHandler {
	return &CheckHandler{
		contextStore: contextStore,
		memory:       mem,
	}
}

func (h *CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(types.HealthResponse{
		Status:          "healthy",
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		VectorStoreSize: h.contextStore.Size(),
		ActiveSessions:  h.memory.ActiveSessionCount(),
	})
}
