package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The wire schema is the flat JSON shape agents emit through tool calling.
// Strict schema validation on the model side requires every field to be
// present even when unused, so the wire types keep nullable pointers where
// the internal model uses a tagged union. Nothing outside this file should
// touch the wire shape.

type wireReply struct {
	Speaker        string       `json:"speaker"`
	Message        string       `json:"message"`
	NextSpeaker    *wireSpeaker `json:"next_speaker"`
	DocumentAction *wireAction  `json:"document_action"`
}

type wireSpeaker struct {
	Type  string  `json:"type"`
	Agent *string `json:"agent"`
}

type wireAction struct {
	Type        string     `json:"type"`
	Contents    []string   `json:"contents"`
	Diffs       []wireDiff `json:"diffs"`
	Content     *string    `json:"content"`
	TargetAgent *string    `json:"target_agent"`
}

type wireDiff struct {
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

const (
	wireActionAppend      = "append"
	wireActionDiff        = "diff"
	wireActionRequestEdit = "request_edit"
)

// ParseStructuredReply decodes the wire-format tool-call arguments into the
// internal Reply representation.
//
// Only malformed JSON is an error; semantic oddities are normalized instead
// of rejected, because a recoverable reply is always preferable to a stalled
// conversation: a missing or unknown next_speaker degrades to random, and
// an unknown or empty document action degrades to no action.
func ParseStructuredReply(raw []byte) (*Reply, error) {
	var w wireReply
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode structured reply: %w", err)
	}

	r := &Reply{
		Message:     w.Message,
		NextSpeaker: parseNextSpeaker(w.NextSpeaker),
		Action:      parseAction(w.DocumentAction),
	}
	return r, nil
}

func parseNextSpeaker(w *wireSpeaker) NextSpeaker {
	if w == nil {
		return NextSpeaker{Type: NextRandom}
	}
	switch NextSpeakerType(strings.ToLower(w.Type)) {
	case NextUser:
		return NextSpeaker{Type: NextUser}
	case NextSpecific:
		if w.Agent == nil || *w.Agent == "" {
			return NextSpeaker{Type: NextRandom}
		}
		return NextSpeaker{Type: NextSpecific, AgentID: *w.Agent}
	default:
		return NextSpeaker{Type: NextRandom}
	}
}

func parseAction(w *wireAction) *DocumentAction {
	if w == nil {
		return nil
	}
	switch strings.ToLower(w.Type) {
	case wireActionAppend:
		if len(w.Contents) == 0 {
			return nil
		}
		return &DocumentAction{Kind: ActionAppend, Paragraphs: w.Contents}
	case wireActionDiff:
		if len(w.Diffs) == 0 {
			return nil
		}
		edits := make([]DiffEdit, 0, len(w.Diffs))
		for _, d := range w.Diffs {
			if d.OldText == "" {
				continue
			}
			edits = append(edits, DiffEdit{OldText: d.OldText, NewText: d.NewText})
		}
		if len(edits) == 0 {
			return nil
		}
		return &DocumentAction{Kind: ActionDiffSet, Edits: edits}
	case wireActionRequestEdit:
		target := ""
		if w.TargetAgent != nil {
			target = *w.TargetAgent
		}
		instructions := ""
		if w.Content != nil {
			instructions = *w.Content
		}
		if target == "" && instructions == "" {
			return nil
		}
		return &DocumentAction{Kind: ActionRequestEdit, TargetAgentID: target, Instructions: instructions}
	default:
		return nil
	}
}

// MarshalStructuredReply encodes a Reply back into the wire format, filling
// every field so the payload round-trips through strict validation.
func MarshalStructuredReply(speakerID string, r *Reply) ([]byte, error) {
	w := wireReply{
		Speaker:     speakerID,
		Message:     r.Message,
		NextSpeaker: &wireSpeaker{Type: string(r.NextSpeaker.Type)},
	}
	if r.NextSpeaker.Type == NextSpecific {
		agent := r.NextSpeaker.AgentID
		w.NextSpeaker.Agent = &agent
	}
	if r.Action != nil {
		wa := &wireAction{Contents: []string{}, Diffs: []wireDiff{}}
		switch r.Action.Kind {
		case ActionAppend:
			wa.Type = wireActionAppend
			wa.Contents = r.Action.Paragraphs
		case ActionDiffSet:
			wa.Type = wireActionDiff
			for _, e := range r.Action.Edits {
				wa.Diffs = append(wa.Diffs, wireDiff{OldText: e.OldText, NewText: e.NewText})
			}
		case ActionRequestEdit:
			wa.Type = wireActionRequestEdit
			target := r.Action.TargetAgentID
			content := r.Action.Instructions
			wa.TargetAgent = &target
			wa.Content = &content
		default:
			return nil, fmt.Errorf("unknown action kind %q", r.Action.Kind)
		}
		w.DocumentAction = wa
	}
	return json.Marshal(w)
}
