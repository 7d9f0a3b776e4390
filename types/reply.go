package types

// NextSpeakerType discriminates an agent's choice of the next actor.
type NextSpeakerType string

const (
	NextSpecific NextSpeakerType = "specific"
	NextRandom   NextSpeakerType = "random"
	NextUser     NextSpeakerType = "user"
)

// NextSpeaker is an agent's declaration of who should act after it.
// AgentID is meaningful only when Type is NextSpecific.
type NextSpeaker struct {
	Type    NextSpeakerType `json:"type"`
	AgentID string          `json:"agent_id,omitempty"`
}

// Reply is the parsed structured output of one agent turn: a message, a
// next-speaker choice, and an optional document mutation.
type Reply struct {
	Message     string          `json:"message"`
	NextSpeaker NextSpeaker     `json:"next_speaker"`
	Action      *DocumentAction `json:"document_action,omitempty"`
}

// FallbackReply builds the reply substituted when model output is missing
// or unparseable: the raw text becomes the message, the next speaker is
// chosen at random, and no document action is taken. The conversation must
// never stall silently on a parse failure.
func FallbackReply(rawText string) *Reply {
	return &Reply{
		Message:     rawText,
		NextSpeaker: NextSpeaker{Type: NextRandom},
	}
}
