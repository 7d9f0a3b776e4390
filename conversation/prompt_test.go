package conversation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tokoroten/noveldrive/llm"
	"github.com/tokoroten/noveldrive/types"
)

var promptAgents = []types.Agent{
	{ID: "alice", DisplayName: "Alice", Title: "editor", CanEditDocument: true, SystemPrompt: "You are a meticulous editor."},
	{ID: "bob", DisplayName: "Bob", CanEditDocument: false, SystemPrompt: "You are a critic."},
}

func TestBuild_SystemMessageCarriesPersonaAndDocument(t *testing.T) {
	b := NewPromptBuilder("gpt-4o", 100000, zap.NewNop())
	msgs := b.Build(promptAgents[0], promptAgents, "Chapter one begins.", nil)

	require.Len(t, msgs, 1)
	require.Equal(t, llm.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "You are a meticulous editor.")
	require.Contains(t, msgs[0].Content, "Alice (id: alice)")
	require.Contains(t, msgs[0].Content, "Bob (id: bob)")
	require.Contains(t, msgs[0].Content, "Chapter one begins.")
	require.Contains(t, msgs[0].Content, "You may edit the manuscript")
}

func TestBuild_NoEditPermissionChangesInstructions(t *testing.T) {
	b := NewPromptBuilder("gpt-4o", 100000, zap.NewNop())
	msgs := b.Build(promptAgents[1], promptAgents, "", nil)

	require.Contains(t, msgs[0].Content, "You cannot edit the manuscript")
	require.Contains(t, msgs[0].Content, "(empty)")
}

func TestBuild_HistoryRoles(t *testing.T) {
	b := NewPromptBuilder("gpt-4o", 100000, zap.NewNop())

	sum := types.NewSystemTurn("they met in act one")
	sum.SummarizedCount = 4
	conv := []types.ConversationTurn{
		sum,
		types.NewUserTurn("please review the draft"),
		types.NewTurn("alice", "I tightened the opening."),
		types.NewTurn("bob", "Too slow for my taste."),
		types.NewSystemTurn("bob left the conversation"),
	}

	msgs := b.Build(promptAgents[0], promptAgents, "doc", conv)
	require.Len(t, msgs, 6)
	require.Equal(t, llm.RoleUser, msgs[1].Role)
	require.Equal(t, "[summary of 4 earlier turns] they met in act one", msgs[1].Content)
	require.Equal(t, "user: please review the draft", msgs[2].Content)
	require.Equal(t, llm.RoleAssistant, msgs[3].Role)
	require.Equal(t, "I tightened the opening.", msgs[3].Content)
	require.Equal(t, "bob: Too slow for my taste.", msgs[4].Content)
	require.Equal(t, "[system] bob left the conversation", msgs[5].Content)
}

func TestBuild_SkipsProvisionalEntries(t *testing.T) {
	b := NewPromptBuilder("gpt-4o", 100000, zap.NewNop())
	conv := []types.ConversationTurn{
		types.NewUserTurn("hello"),
		types.NewProvisionalTurn("alice"),
	}
	msgs := b.Build(promptAgents[0], promptAgents, "doc", conv)
	require.Len(t, msgs, 2)
	require.Equal(t, "user: hello", msgs[1].Content)
}

func TestBuild_TightBudgetKeepsNewestTurn(t *testing.T) {
	b := NewPromptBuilder("gpt-4o", 10, zap.NewNop())

	long := strings.Repeat("word ", 120)
	conv := []types.ConversationTurn{
		types.NewTurn("bob", long+"oldest"),
		types.NewTurn("bob", long+"middle"),
		types.NewTurn("bob", long+"newest"),
	}
	msgs := b.Build(promptAgents[0], promptAgents, "doc", conv)

	// The budget cannot even cover the system message, so only the most
	// recent history entry survives.
	require.Len(t, msgs, 2)
	require.Contains(t, msgs[1].Content, "newest")
}

func TestCountTokens_Positive(t *testing.T) {
	b := NewPromptBuilder("gpt-4o", 1000, zap.NewNop())
	require.Greater(t, b.CountTokens("a handful of plain words"), 0)
}

func TestReplyToolSchema_EnumMatchesRoster(t *testing.T) {
	schema := ReplyToolSchema("alice", types.Roster{"alice", "bob"})
	require.Equal(t, ReplyToolName, schema.Name)

	var params struct {
		Required   []string `json:"required"`
		Properties struct {
			NextSpeaker struct {
				Properties struct {
					Agent struct {
						Enum []any `json:"enum"`
					} `json:"agent"`
				} `json:"properties"`
			} `json:"next_speaker"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(schema.Parameters, &params))
	require.ElementsMatch(t, []string{"speaker", "message", "next_speaker", "document_action"}, params.Required)
	require.ElementsMatch(t, []any{"alice", "bob", nil}, params.Properties.NextSpeaker.Properties.Agent.Enum)
}
