// Package memory holds per-session conversation history with bounded
// length and idle-timeout eviction. Eviction is lazy: expired sessions are
// swept on access, not by a background timer.
package memory

import (
	"log/slog"
	"sync"
	"time"

	"rag/types"
)

type ConversationMemory struct {
	mu         sync.Mutex
	maxHistory int
	timeout    time.Duration

	sessions   map[string][]types.Turn
	lastAccess map[string]time.Time
	metadata   map[string]types.Metadata

	now    func() time.Time
	logger *slog.Logger
}

func New(maxHistory int, timeout time.Duration) *ConversationMemory {
	return &ConversationMemory{
		maxHistory: maxHistory,
		timeout:    timeout,
		sessions:   make(map[string][]types.Turn),
		lastAccess: make(map[string]time.Time),
		metadata:   make(map[string]types.Metadata),
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// GetHistory returns up to maxTurns most recent turns in chronological
// order. maxTurns <= 0 falls back to the configured maximum. An unknown
// session yields an empty history, and the call sweeps expired sessions as
// a side effect.
func (m *ConversationMemory) GetHistory(sessionID string, maxTurns int) []types.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; ok {
		m.lastAccess[sessionID] = m.now()
	}
	m.cleanupLocked()

	history := m.sessions[sessionID]
	if maxTurns <= 0 {
		maxTurns = m.maxHistory
	}
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}

	out := make([]types.Turn, len(history))
	for i, turn := range history {
		turn.Metadata = turn.Metadata.Clone()
		out[i] = turn
	}
	return out
}

// AddTurn appends one exchange to the session, creating it on first use.
// When the session grows past twice the configured maximum it is compacted
// down to the maximum, dropping the oldest turns.
func (m *ConversationMemory) AddTurn(sessionID, userMsg, assistantMsg string, metadata types.Metadata) {
	turn := types.Turn{
		User:      userMsg,
		Assistant: assistantMsg,
		Timestamp: m.now().UTC(),
		Metadata:  metadata.Clone(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sessionID] = append(m.sessions[sessionID], turn)
	m.lastAccess[sessionID] = m.now()

	if len(m.sessions[sessionID]) > m.maxHistory*2 {
		history := m.sessions[sessionID]
		m.sessions[sessionID] = append([]types.Turn(nil), history[len(history)-m.maxHistory:]...)
	}

	m.logger.Debug("added turn to session", "session", shortID(sessionID))
}

// Summary reports statistics for a session. TurnCount == 0 signals that the
// session does not exist.
func (m *ConversationMemory) Summary(sessionID string) types.SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.sessions[sessionID]
	summary := types.SessionSummary{
		SessionID:    sessionID,
		TurnCount:    len(history),
		LastActivity: m.lastAccess[sessionID],
		Metadata:     m.metadata[sessionID].Clone(),
	}
	if len(history) > 0 {
		summary.CreatedAt = history[0].Timestamp
	}
	return summary
}

// ActiveSessionCount sweeps expired sessions, then counts the rest.
func (m *ConversationMemory) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupLocked()
	return len(m.sessions)
}

// ClearSession removes the session's turns, access record and metadata.
// Clearing an unknown session is a no-op.
func (m *ConversationMemory) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(sessionID)
}

func (m *ConversationMemory) SetSessionMetadata(sessionID string, metadata types.Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[sessionID] = metadata.Clone()
}

func (m *ConversationMemory) GetSessionMetadata(sessionID string) types.Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadata[sessionID].Clone()
}

func (m *ConversationMemory) clearLocked(sessionID string) {
	if _, ok := m.sessions[sessionID]; !ok {
		return
	}
	delete(m.sessions, sessionID)
	delete(m.lastAccess, sessionID)
	delete(m.metadata, sessionID)
	m.logger.Info("cleared session", "session", shortID(sessionID))
}

func (m *ConversationMemory) cleanupLocked() {
	now := m.now()
	for sid, last := range m.lastAccess {
		if now.Sub(last) > m.timeout {
			m.clearLocked(sid)
			m.logger.Info("cleaned up expired session", "session", shortID(sid))
		}
	}
}

func shortID(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}
