package types

// Reserved speaker ids that are never agent ids.
const (
	SpeakerUser   = "user"
	SpeakerSystem = "system"
)

// Agent is the immutable configuration of one conversational persona.
// Agents are identified by ID; display fields are presentation-only.
type Agent struct {
	ID              string `json:"id" yaml:"id"`
	DisplayName     string `json:"display_name" yaml:"display_name"`
	Title           string `json:"title,omitempty" yaml:"title,omitempty"`
	AvatarGlyph     string `json:"avatar_glyph,omitempty" yaml:"avatar_glyph,omitempty"`
	CanEditDocument bool   `json:"can_edit_document" yaml:"can_edit_document"`
	SystemPrompt    string `json:"system_prompt" yaml:"system_prompt"`
}

// Roster is the ordered set of active agent ids eligible to take a turn.
// A valid roster always has at least one member.
type Roster []string

// Contains reports whether id is an active member.
func (r Roster) Contains(id string) bool {
	for _, member := range r {
		if member == id {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the roster.
func (r Roster) Clone() Roster {
	if r == nil {
		return nil
	}
	out := make(Roster, len(r))
	copy(out, r)
	return out
}
