package agent

import (
	"fmt"
	"strings"

	"rag/types"
)

const historyTurnsInPrompt = 5

// BuildPrompt assembles the final LLM prompt from the retrieved context,
// the recent conversation history and the current question.
func BuildPrompt(context, query string, history []types.Turn) string {
	historyText := formatChatHistory(history, historyTurnsInPrompt)
	if historyText == "" {
		historyText = "This is the start of the conversation."
	}
	if context == "" {
		context = "No specific context available for this query."
	}

	return fmt.Sprintf(`You are an intelligent AI assistant with access to a knowledge base. Your role is to provide accurate, helpful, and contextual responses.

## Conversation History
%s

## Retrieved Context
%s

## Current Question
%s

## Instructions
- Answer based on the provided context and conversation history
- If the context contains relevant information, use it to provide a detailed answer
- If the context doesn't contain the answer, clearly state: "I don't have enough information in the knowledge base to answer this question."
- Maintain conversation continuity by referring to previous messages when relevant
- Be concise but thorough
- Do not make up information or hallucinate facts

## Your Response:`, historyText, context, query)
}

// SystemPrompt is the standing instruction sent with every generation call.
func SystemPrompt() string {
	return `You are a helpful AI assistant with access to a knowledge base.
Your primary goal is to provide accurate, contextual, and helpful responses.
Always prioritize accuracy over speculation, and clearly indicate when you don't have sufficient information.`
}

// ContextualizeQuery rewrites short follow-up questions by prefixing the
// previous turn's user message, so that elliptical queries like "what about
// the second one?" still retrieve something useful. Longer queries pass
// through unchanged.
func ContextualizeQuery(query string, history []types.Turn) string {
	if len(history) == 0 {
		return query
	}
	if len(strings.Fields(query)) >= 5 {
		return query
	}

	last := history[len(history)-1]
	return last.User + " " + query
}

func formatChatHistory(history []types.Turn, maxTurns int) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}

	var sb strings.Builder
	for i, turn := range history {
		fmt.Fprintf(&sb, "[Turn %d]\n", i+1)
		fmt.Fprintf(&sb, "User: %s\n", turn.User)
		fmt.Fprintf(&sb, "Assistant: %s\n\n", turn.Assistant)
	}
	return strings.TrimRight(sb.String(), "\n")
}
