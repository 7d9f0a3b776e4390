package types

import (
	"time"

	"github.com/google/uuid"
)

// TurnRequest is the unit of work scheduled on the turn queue. SessionID
// binds the request to the document/conversation instance it was issued
// against; a request whose session is no longer loaded is discarded
// without side effects.
type TurnRequest struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
}

// Session is one document/conversation instance. The persistence layer
// owns the durable record with last-write-wins semantics; the orchestrator
// holds a working copy keyed by the currently loaded session id.
type Session struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	DocumentContent string             `json:"document_content"`
	Conversation    []ConversationTurn `json:"conversation"`
	ActiveAgentIDs  Roster             `json:"active_agent_ids"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// NewSession creates an empty session with a fresh id.
func NewSession(title string) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Title:     title,
		UpdatedAt: time.Now(),
	}
}

// DocumentVersion is one snapshot in a session's document history,
// recorded on every successful mutation for later browsing/restore.
type DocumentVersion struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	EditedBy  string    `json:"edited_by"`
	Action    string    `json:"action"` // append, diff, user_edit
	CreatedAt time.Time `json:"created_at"`
}
