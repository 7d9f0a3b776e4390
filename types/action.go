package types

// ActionKind discriminates the DocumentAction tagged union.
type ActionKind string

const (
	ActionAppend      ActionKind = "append"
	ActionDiffSet     ActionKind = "diff"
	ActionRequestEdit ActionKind = "request_edit"
)

// DiffEdit is one old/new text replacement inside a DiffSet action.
// An empty NewText deletes the matched span.
type DiffEdit struct {
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

// DocumentAction is the tagged mutation instruction attached to a turn.
// Exactly the fields belonging to Kind are populated:
//
//   - ActionAppend:      Paragraphs
//   - ActionDiffSet:     Edits
//   - ActionRequestEdit: TargetAgentID, Instructions
type DocumentAction struct {
	Kind          ActionKind `json:"kind"`
	Paragraphs    []string   `json:"paragraphs,omitempty"`
	Edits         []DiffEdit `json:"edits,omitempty"`
	TargetAgentID string     `json:"target_agent_id,omitempty"`
	Instructions  string     `json:"instructions,omitempty"`
}

// Mutates reports whether the action can change the document. RequestEdit
// never mutates regardless of permission.
func (a *DocumentAction) Mutates() bool {
	if a == nil {
		return false
	}
	return a.Kind == ActionAppend || a.Kind == ActionDiffSet
}

// DiffApplicationResult reports the outcome of one DiffEdit (or of an
// Append, where OldText is empty). One result is produced per edit even on
// failure so that callers can always observe what happened.
type DiffApplicationResult struct {
	OldText     string  `json:"old_text"`
	NewText     string  `json:"new_text"`
	Applied     bool    `json:"applied"`
	Authorized  bool    `json:"authorized"`
	Similarity  float64 `json:"similarity,omitempty"` // in [0,1]; 1.0 for exact matches
	MatchedSpan string  `json:"matched_span,omitempty"`
	Error       string  `json:"error,omitempty"`
}
