package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tokoroten/noveldrive/llm"
	"github.com/tokoroten/noveldrive/types"
)

// SummaryResult is a completed summarization: the synthesized entry and the
// ids of the raw turns it replaces. Splicing is id-based so entries
// appended while the model call was in flight survive untouched.
type SummaryResult struct {
	Summary     types.ConversationTurn
	ReplacedIDs []string
	Usage       llm.ChatUsage
}

// Summarizer condenses old conversation turns into summary entries so the
// prompt context stays bounded on long sessions. At most one summarization
// per session runs at a time; triggers while one is in flight are dropped.
type Summarizer struct {
	provider   llm.Provider
	model      string
	threshold  int
	keepRecent int
	logger     *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewSummarizer builds a summarizer. threshold is the unsummarized-turn
// count that arms a new summarization; keepRecent is the tail of raw turns
// always kept verbatim.
func NewSummarizer(provider llm.Provider, model string, threshold, keepRecent int, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{
		provider:   provider,
		model:      model,
		threshold:  threshold,
		keepRecent: keepRecent,
		logger:     logger.With(zap.String("component", "summarizer")),
		inFlight:   make(map[string]bool),
	}
}

// lastSummaryPos returns the index just past the most recent summary
// entry, 0 when the conversation has never been summarized.
func lastSummaryPos(conv []types.ConversationTurn) int {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].IsSummary() {
			return i + 1
		}
	}
	return 0
}

// ShouldSummarize reports whether the session has accumulated enough
// unsummarized turns and no summarization is already running for it.
func (s *Summarizer) ShouldSummarize(sessionID string, conv []types.ConversationTurn) bool {
	s.mu.Lock()
	busy := s.inFlight[sessionID]
	s.mu.Unlock()
	if busy {
		return false
	}
	return len(conv)-lastSummaryPos(conv) >= s.threshold
}

// Start launches an asynchronous summarization over a snapshot of conv and
// reports whether one was actually started. onDone is invoked exactly once
// from a background goroutine, with either the result or the model error.
func (s *Summarizer) Start(ctx context.Context, sessionID string, conv []types.ConversationTurn, onDone func(*SummaryResult, error)) bool {
	s.mu.Lock()
	if s.inFlight[sessionID] {
		s.mu.Unlock()
		return false
	}
	s.inFlight[sessionID] = true
	s.mu.Unlock()

	snapshot := make([]types.ConversationTurn, len(conv))
	copy(snapshot, conv)

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, sessionID)
			s.mu.Unlock()
		}()
		res, err := s.Summarize(ctx, snapshot)
		if err != nil {
			s.logger.Warn("summarization failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
		onDone(res, err)
	}()
	return true
}

// Summarize condenses the eligible range of conv synchronously. The range
// is every turn after the last summary entry, excluding the keepRecent
// tail. Returns (nil, nil) when the range is empty.
func (s *Summarizer) Summarize(ctx context.Context, conv []types.ConversationTurn) (*SummaryResult, error) {
	start := lastSummaryPos(conv)
	end := len(conv) - s.keepRecent
	if end <= start {
		return nil, nil
	}
	target := conv[start:end]

	resp, err := s.provider.Completion(ctx, &llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summaryInstructions},
			{Role: llm.RoleUser, Content: renderForSummary(target)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("summarize %d turns: %w", len(target), err)
	}
	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return nil, fmt.Errorf("summarize %d turns: model returned empty summary", len(target))
	}

	entry := types.NewSystemTurn(text)
	entry.SummarizedCount = len(target)
	ids := make([]string, len(target))
	for i, t := range target {
		ids[i] = t.ID
	}
	return &SummaryResult{Summary: entry, ReplacedIDs: ids, Usage: resp.Usage}, nil
}

// SpliceSummary replaces the summarized range in conv with the summary
// entry, matching by turn id. If none of the replaced turns are present
// anymore the conversation is returned unchanged and the result is
// discarded.
func SpliceSummary(conv []types.ConversationTurn, res *SummaryResult) []types.ConversationTurn {
	replaced := make(map[string]bool, len(res.ReplacedIDs))
	for _, id := range res.ReplacedIDs {
		replaced[id] = true
	}
	out := make([]types.ConversationTurn, 0, len(conv))
	inserted := false
	for _, t := range conv {
		if replaced[t.ID] {
			if !inserted {
				out = append(out, res.Summary)
				inserted = true
			}
			continue
		}
		out = append(out, t)
	}
	if !inserted {
		return conv
	}
	return out
}

const summaryInstructions = `You condense the transcript of a collaborative writing session. Write a compact third-person summary that preserves: decisions made about the manuscript, concrete edits and who made them, unresolved disagreements, and anything a participant promised to do next. Do not invent details. Output only the summary text.`

func renderForSummary(turns []types.ConversationTurn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.IsSummary() {
			fmt.Fprintf(&b, "[earlier summary of %d turns] %s\n", t.SummarizedCount, t.Message)
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", t.SpeakerID, t.Message)
	}
	return b.String()
}
