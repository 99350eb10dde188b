package types

import (
	"time"
)

// Metadata carries per-chunk or per-turn key/value fields. Well-known keys
// written by the store are "chunk_id", "chunk_index", "timestamp" and
// "length"; everything else is caller-supplied.
type Metadata map[string]any

// Clone returns a shallow copy so callers cannot mutate stored state.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SearchResult is one retrieved chunk with its squared L2 distance to the
// query embedding. Smaller distance means more similar.
type SearchResult struct {
	Text     string   `json:"text"`
	Distance float64  `json:"distance"`
	Metadata Metadata `json:"metadata"`
}

// Turn is one question/answer exchange within a session. Immutable once
// appended.
type Turn struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

// SessionSummary reports statistics for one conversation session.
// TurnCount == 0 means the session does not exist.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	TurnCount    int       `json:"turn_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Metadata     Metadata  `json:"metadata"`
}

// Answer is the result of one LLM generation call.
type Answer struct {
	Text           string  `json:"answer"`
	Model          string  `json:"model"`
	TokensUsed     int     `json:"tokens_used"`
	ProcessingTime float64 `json:"processing_time"`
}
