package types

import (
	"encoding/json"
	"testing"
)

func TestParseStructuredReply_DiffAction(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"speaker": "editor",
		"message": "tightened the opening",
		"next_speaker": {"type": "specific", "agent": "critic"},
		"document_action": {
			"type": "diff",
			"contents": [],
			"diffs": [{"old_text": "She walked in.", "new_text": "She walked in, soaked from the rain."}],
			"content": null,
			"target_agent": null
		}
	}`)

	r, err := ParseStructuredReply(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Message != "tightened the opening" {
		t.Fatalf("unexpected message: %q", r.Message)
	}
	if r.NextSpeaker.Type != NextSpecific || r.NextSpeaker.AgentID != "critic" {
		t.Fatalf("unexpected next speaker: %+v", r.NextSpeaker)
	}
	if r.Action == nil || r.Action.Kind != ActionDiffSet {
		t.Fatalf("expected diff action, got %+v", r.Action)
	}
	if len(r.Action.Edits) != 1 || r.Action.Edits[0].NewText != "She walked in, soaked from the rain." {
		t.Fatalf("unexpected edits: %+v", r.Action.Edits)
	}
}

func TestParseStructuredReply_MalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := ParseStructuredReply([]byte(`{"message": `)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParseStructuredReply_Normalization(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want NextSpeaker
	}{
		{"missing next_speaker", `{"speaker":"a","message":"m","next_speaker":null,"document_action":null}`, NextSpeaker{Type: NextRandom}},
		{"unknown type", `{"speaker":"a","message":"m","next_speaker":{"type":"moderator","agent":null},"document_action":null}`, NextSpeaker{Type: NextRandom}},
		{"specific without agent", `{"speaker":"a","message":"m","next_speaker":{"type":"specific","agent":null},"document_action":null}`, NextSpeaker{Type: NextRandom}},
		{"user", `{"speaker":"a","message":"m","next_speaker":{"type":"user","agent":null},"document_action":null}`, NextSpeaker{Type: NextUser}},
	}
	for _, tc := range cases {
		r, err := ParseStructuredReply([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if r.NextSpeaker != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.name, r.NextSpeaker, tc.want)
		}
	}
}

func TestParseStructuredReply_EmptyActionsDegradeToNone(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{"speaker":"a","message":"m","next_speaker":{"type":"user","agent":null},"document_action":{"type":"append","contents":[],"diffs":[],"content":null,"target_agent":null}}`,
		`{"speaker":"a","message":"m","next_speaker":{"type":"user","agent":null},"document_action":{"type":"diff","contents":[],"diffs":[],"content":null,"target_agent":null}}`,
		`{"speaker":"a","message":"m","next_speaker":{"type":"user","agent":null},"document_action":{"type":"teleport","contents":[],"diffs":[],"content":null,"target_agent":null}}`,
	}
	for i, raw := range cases {
		r, err := ParseStructuredReply([]byte(raw))
		if err != nil {
			t.Fatalf("case %d: unexpected error: %v", i, err)
		}
		if r.Action != nil {
			t.Fatalf("case %d: expected no action, got %+v", i, r.Action)
		}
	}
}

func TestMarshalStructuredReply_RoundTrip(t *testing.T) {
	t.Parallel()

	in := &Reply{
		Message:     "adding a scene",
		NextSpeaker: NextSpeaker{Type: NextSpecific, AgentID: "muse"},
		Action:      &DocumentAction{Kind: ActionAppend, Paragraphs: []string{"A new dawn.", "It rained."}},
	}

	raw, err := MarshalStructuredReply("writer", in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// All wire fields must be present even when unused.
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		t.Fatalf("unmarshal flat: %v", err)
	}
	for _, key := range []string{"speaker", "message", "next_speaker", "document_action"} {
		if _, ok := flat[key]; !ok {
			t.Fatalf("wire payload missing %q", key)
		}
	}

	out, err := ParseStructuredReply(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Message != in.Message || out.NextSpeaker != in.NextSpeaker {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if out.Action == nil || out.Action.Kind != ActionAppend || len(out.Action.Paragraphs) != 2 {
		t.Fatalf("round trip action mismatch: %+v", out.Action)
	}
}

func TestMarshalStructuredReply_RequestEdit(t *testing.T) {
	t.Parallel()

	in := &Reply{
		Message:     "over to you",
		NextSpeaker: NextSpeaker{Type: NextUser},
		Action:      &DocumentAction{Kind: ActionRequestEdit, TargetAgentID: "editor", Instructions: "trim chapter two"},
	}
	raw, err := MarshalStructuredReply("critic", in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := ParseStructuredReply(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Action == nil || out.Action.Kind != ActionRequestEdit {
		t.Fatalf("unexpected action: %+v", out.Action)
	}
	if out.Action.TargetAgentID != "editor" || out.Action.Instructions != "trim chapter two" {
		t.Fatalf("unexpected request edit fields: %+v", out.Action)
	}
}
