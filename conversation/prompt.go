package conversation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/tokoroten/noveldrive/llm"
	"github.com/tokoroten/noveldrive/types"
)

// ReplyToolName is the function every agent turn is forced to call.
const ReplyToolName = "reply"

const fallbackEncoding = "o200k_base"

// PromptBuilder assembles the message list for one agent turn and keeps it
// within the configured token budget by dropping the oldest history
// entries first. The system message and the most recent entry are never
// dropped.
type PromptBuilder struct {
	maxTokens int
	enc       *tiktoken.Tiktoken
	logger    *zap.Logger
}

// NewPromptBuilder builds a prompt builder using the tokenizer for model.
// When no tokenizer is available for the model (or at all, e.g. offline
// with no cached encoding) token counts fall back to a rune-based
// estimate.
func NewPromptBuilder(model string, maxTokens int, logger *zap.Logger) *PromptBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "prompt_builder"))

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		logger.Warn("no tokenizer available, using rune estimate",
			zap.String("model", model), zap.Error(err))
		enc = nil
	}
	return &PromptBuilder{maxTokens: maxTokens, enc: enc, logger: logger}
}

// CountTokens measures text against the active tokenizer.
func (b *PromptBuilder) CountTokens(text string) int {
	if b.enc == nil {
		// Rough average of 4 characters per token.
		return (len([]rune(text)) + 3) / 4
	}
	return len(b.enc.Encode(text, nil, nil))
}

// Build produces the chat messages for agentID's turn: a system message
// carrying the persona, the participant list and the full document, then
// the conversation history as alternating user/assistant messages.
// Provisional entries are excluded.
func (b *PromptBuilder) Build(agent types.Agent, participants []types.Agent, doc string, conv []types.ConversationTurn) []llm.Message {
	system := b.systemMessage(agent, participants, doc)
	budget := b.maxTokens - b.CountTokens(system)

	// Newest-first selection so trimming always discards the oldest turns.
	var history []llm.Message
	for i := len(conv) - 1; i >= 0; i-- {
		t := conv[i]
		if t.Provisional {
			continue
		}
		msg := historyMessage(agent.ID, t)
		cost := b.CountTokens(msg.Content)
		if len(history) > 0 && budget-cost < 0 {
			break
		}
		budget -= cost
		history = append(history, msg)
	}

	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: system})
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
	}
	return out
}

func (b *PromptBuilder) systemMessage(agent types.Agent, participants []types.Agent, doc string) string {
	var sb strings.Builder
	sb.WriteString(agent.SystemPrompt)
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "You are %s (id: %s)", agent.DisplayName, agent.ID)
	if agent.Title != "" {
		fmt.Fprintf(&sb, ", %s", agent.Title)
	}
	sb.WriteString(", in a round-table conversation about a shared manuscript.\n")
	sb.WriteString("Participants:\n")
	for _, p := range participants {
		fmt.Fprintf(&sb, "- %s (id: %s)", p.DisplayName, p.ID)
		if p.Title != "" {
			fmt.Fprintf(&sb, " (%s)", p.Title)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("- the human user (id: user)\n\n")

	if agent.CanEditDocument {
		sb.WriteString("You may edit the manuscript with a document_action: append new paragraphs, or apply diff edits replacing existing text. Quote old_text exactly as it appears.\n")
	} else {
		sb.WriteString("You cannot edit the manuscript yourself. To get it changed, use a request_edit action addressed to a participant who can.\n")
	}
	sb.WriteString("Always answer by calling the reply function. Choose next_speaker deliberately: hand the turn to whoever should naturally react, or to the user when their input is needed.\n\n")

	sb.WriteString("Current manuscript:\n---\n")
	if strings.TrimSpace(doc) == "" {
		sb.WriteString("(empty)")
	} else {
		sb.WriteString(doc)
	}
	sb.WriteString("\n---")
	return sb.String()
}

func historyMessage(selfID string, t types.ConversationTurn) llm.Message {
	if t.SpeakerID == selfID {
		return llm.Message{Role: llm.RoleAssistant, Content: t.Message}
	}
	content := t.Message
	switch {
	case t.IsSummary():
		content = fmt.Sprintf("[summary of %d earlier turns] %s", t.SummarizedCount, t.Message)
	case t.SpeakerID == types.SpeakerSystem:
		content = fmt.Sprintf("[system] %s", t.Message)
	default:
		content = fmt.Sprintf("%s: %s", t.SpeakerID, t.Message)
	}
	return llm.Message{Role: llm.RoleUser, Content: content}
}

// ReplyToolSchema builds the function schema for structured replies. The
// next-speaker agent enum is restricted to the current roster so the model
// cannot address an id that does not exist at all.
func ReplyToolSchema(speakerID string, roster types.Roster) llm.ToolSchema {
	agentEnum := make([]any, 0, len(roster)+1)
	for _, id := range roster {
		agentEnum = append(agentEnum, id)
	}
	agentEnum = append(agentEnum, nil)

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"speaker": map[string]any{"type": "string", "const": speakerID},
			"message": map[string]any{"type": "string"},
			"next_speaker": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":  map[string]any{"type": "string", "enum": []any{"specific", "random", "user"}},
					"agent": map[string]any{"type": []any{"string", "null"}, "enum": agentEnum},
				},
				"required":             []any{"type", "agent"},
				"additionalProperties": false,
			},
			"document_action": map[string]any{
				"type": []any{"object", "null"},
				"properties": map[string]any{
					"type":     map[string]any{"type": "string", "enum": []any{"append", "diff", "request_edit"}},
					"contents": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"diffs": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"old_text": map[string]any{"type": "string"},
								"new_text": map[string]any{"type": "string"},
							},
							"required":             []any{"old_text", "new_text"},
							"additionalProperties": false,
						},
					},
					"content":      map[string]any{"type": []any{"string", "null"}},
					"target_agent": map[string]any{"type": []any{"string", "null"}},
				},
				"required":             []any{"type", "contents", "diffs", "content", "target_agent"},
				"additionalProperties": false,
			},
		},
		"required":             []any{"speaker", "message", "next_speaker", "document_action"},
		"additionalProperties": false,
	}
	raw, _ := json.Marshal(params)
	return llm.ToolSchema{
		Name:        ReplyToolName,
		Description: "Deliver your turn: your message, who speaks next, and an optional document action.",
		Parameters:  raw,
	}
}
