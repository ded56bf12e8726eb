// Package storage persists chat history per session so the HTTP surface can
// resume conversations across requests. Two backends are provided: an
// in-memory map for tests and ephemeral runs, and SQLite for durability.
package storage

import (
	"context"

	"github.com/weichinwang/marketagent/llm"
)

// ConversationStore persists per-session chat history.
type ConversationStore interface {
	// Save replaces the stored history for a session.
	Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error

	// Load returns the stored history for a session. A session that was
	// never saved yields an empty slice, not an error.
	Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error)

	// Delete removes a session and its history.
	Delete(ctx context.Context, sessionID string) error

	// ListSessions returns the known session IDs.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists reports whether a session has been saved.
	Exists(ctx context.Context, sessionID string) (bool, error)
}
