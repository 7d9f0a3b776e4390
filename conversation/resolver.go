package conversation

import (
	"fmt"
	"math/rand/v2"

	"github.com/tokoroten/noveldrive/types"
)

// Resolution is the outcome of next-speaker resolution: either a concrete
// agent to schedule, or a wait for user input. Notes carry system entries
// (invalid-target corrections) that the caller appends to the conversation.
type Resolution struct {
	NextAgentID string
	WaitForUser bool
	Notes       []types.ConversationTurn
}

// SpeakerResolver turns an agent's declared next-speaker choice into a
// concrete scheduling decision against the current roster.
type SpeakerResolver struct {
	// randIndex returns a uniform value in [0, n). Replaceable in tests.
	randIndex func(n int) int
}

func NewSpeakerResolver() *SpeakerResolver {
	return &SpeakerResolver{randIndex: rand.IntN}
}

// Resolve applies the resolution rules for the choice declared by
// actingAgentID. observerMode keeps the conversation self-driving: an
// invalid specific target lets the acting agent continue instead of
// yielding to the user.
func (r *SpeakerResolver) Resolve(choice types.NextSpeaker, roster types.Roster, actingAgentID string, observerMode bool) Resolution {
	switch choice.Type {
	case types.NextUser:
		return Resolution{WaitForUser: true}

	case types.NextSpecific:
		if roster.Contains(choice.AgentID) {
			return Resolution{NextAgentID: choice.AgentID}
		}
		note := types.NewSystemTurn(fmt.Sprintf(
			"%s tried to hand the turn to %q, who is not in this conversation.",
			actingAgentID, choice.AgentID))
		if observerMode {
			next := actingAgentID
			if !roster.Contains(next) {
				next = r.PickRandom(roster, "")
			}
			if next == "" {
				return Resolution{WaitForUser: true, Notes: []types.ConversationTurn{note}}
			}
			return Resolution{NextAgentID: next, Notes: []types.ConversationTurn{note}}
		}
		return Resolution{WaitForUser: true, Notes: []types.ConversationTurn{note}}

	default:
		// Random, plus anything malformed that normalized to it.
		next := r.PickRandom(roster, "")
		if next == "" {
			return Resolution{WaitForUser: true}
		}
		return Resolution{NextAgentID: next}
	}
}

// PickRandom selects a uniformly random roster member. exclude is skipped
// when the roster has an alternative; with a single-member roster the
// excluded agent is still returned rather than stalling the conversation.
// Returns "" for an empty roster.
func (r *SpeakerResolver) PickRandom(roster types.Roster, exclude string) string {
	candidates := make([]string, 0, len(roster))
	for _, id := range roster {
		if id == exclude && len(roster) > 1 {
			continue
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[r.randIndex(len(candidates))]
}
