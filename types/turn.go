package types

import (
	"time"

	"github.com/google/uuid"
)

// TokenUsage represents token consumption statistics for one model call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Add adds another TokenUsage to this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ConversationTurn is one entry in the conversation log.
//
// The log is append-only except for two operations: removal or in-place
// replacement of a Provisional entry, and summarization splicing. A turn
// created while an agent's reply is being generated is marked Provisional
// and must never survive alongside the final entry it stands in for.
type ConversationTurn struct {
	ID            string          `json:"id"`
	SpeakerID     string          `json:"speaker_id"` // SpeakerUser, SpeakerSystem, or an agent id
	Message       string          `json:"message"`
	TargetAgentID string          `json:"target_agent_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Provisional   bool            `json:"provisional,omitempty"`
	Action        *DocumentAction `json:"document_action,omitempty"`
	Usage         *TokenUsage     `json:"token_usage,omitempty"`

	// Summary bookkeeping. A summary turn replaces SummarizedCount raw
	// entries; zero for ordinary turns.
	SummarizedCount int `json:"summarized_count,omitempty"`
}

// IsSummary reports whether the turn is a synthesized summary entry.
func (t ConversationTurn) IsSummary() bool { return t.SummarizedCount > 0 }

// NewTurn creates a conversation turn with a fresh id and timestamp.
func NewTurn(speakerID, message string) ConversationTurn {
	return ConversationTurn{
		ID:        uuid.New().String(),
		SpeakerID: speakerID,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// NewUserTurn creates a turn spoken by the human user.
func NewUserTurn(message string) ConversationTurn {
	return NewTurn(SpeakerUser, message)
}

// NewSystemTurn creates a system note turn.
func NewSystemTurn(message string) ConversationTurn {
	return NewTurn(SpeakerSystem, message)
}

// NewProvisionalTurn creates the placeholder entry shown while agentID's
// reply is in flight.
func NewProvisionalTurn(agentID string) ConversationTurn {
	t := NewTurn(agentID, "")
	t.Provisional = true
	return t
}
