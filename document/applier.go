package document

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tokoroten/noveldrive/types"
)

// ApplyResult is the outcome of routing one DocumentAction through the
// applier. Document always holds the post-action text (identical to the
// input when nothing applied). AppliedAction carries the subset of the
// action that actually took effect, for version-history labeling.
// Annotation, when non-empty, is text the caller should fold into the
// acting agent's message (permission downgrades and edit requests).
type ApplyResult struct {
	Document      string
	AppliedAction *types.DocumentAction
	Diagnostics   []types.DiffApplicationResult
	Annotation    string
}

// Applier enforces edit permission and applies document actions.
type Applier struct {
	matcher *Matcher
	logger  *zap.Logger
}

// NewApplier creates an applier backed by the given matcher.
func NewApplier(matcher *Matcher, logger *zap.Logger) *Applier {
	return &Applier{
		matcher: matcher,
		logger:  logger.With(zap.String("component", "mutation_applier")),
	}
}

// Apply routes action against doc on behalf of agent.
//
// Append and DiffSet require agent.CanEditDocument; without it the action
// is downgraded to a no-op whose diagnostics carry Authorized: false, and
// the document is never touched. RequestEdit never mutates regardless of
// permission. DiffSet edits apply in order against the evolving document,
// with per-edit partial success; a similarity-search timeout is a total
// failure for the batch and restores the original document.
func (a *Applier) Apply(ctx context.Context, doc string, action *types.DocumentAction, agent types.Agent) ApplyResult {
	if action == nil {
		return ApplyResult{Document: doc}
	}

	if action.Mutates() && !agent.CanEditDocument {
		a.logger.Info("edit action downgraded, agent lacks permission",
			zap.String("agent_id", agent.ID),
			zap.String("kind", string(action.Kind)))
		return ApplyResult{
			Document:    doc,
			Diagnostics: unauthorizedDiagnostics(action),
			Annotation:  fmt.Sprintf("[%s cannot edit the document; the %s action was not applied]", agent.DisplayName, action.Kind),
		}
	}

	switch action.Kind {
	case types.ActionAppend:
		return a.applyAppend(doc, action)
	case types.ActionDiffSet:
		return a.applyDiffSet(ctx, doc, action)
	case types.ActionRequestEdit:
		return ApplyResult{
			Document:   doc,
			Annotation: fmt.Sprintf("[edit request for @%s: %s]", action.TargetAgentID, action.Instructions),
		}
	default:
		return ApplyResult{Document: doc}
	}
}

func (a *Applier) applyAppend(doc string, action *types.DocumentAction) ApplyResult {
	text := strings.Join(action.Paragraphs, "\n\n")
	if text == "" {
		return ApplyResult{Document: doc}
	}

	out := doc
	if out != "" {
		out = strings.TrimRight(out, "\n") + "\n\n"
	}
	out += text

	return ApplyResult{
		Document:      out,
		AppliedAction: action,
		Diagnostics: []types.DiffApplicationResult{{
			NewText:    text,
			Applied:    true,
			Authorized: true,
			Similarity: 1.0,
		}},
	}
}

func (a *Applier) applyDiffSet(ctx context.Context, doc string, action *types.DocumentAction) ApplyResult {
	batchCtx, cancel := context.WithTimeout(ctx, a.matcher.Timeout())
	defer cancel()

	original := doc
	current := doc
	diagnostics := make([]types.DiffApplicationResult, 0, len(action.Edits))
	applied := make([]types.DiffEdit, 0, len(action.Edits))

	for i, edit := range action.Edits {
		next, res := a.matcher.FindAndReplace(batchCtx, current, edit.OldText, edit.NewText, a.matcher.MinSimilarity())

		if batchCtx.Err() != nil {
			// Timeout mid-batch: total failure, nothing sticks.
			a.logger.Warn("diff batch timed out, document left unmodified",
				zap.Int("edits_done", i),
				zap.Int("edits_total", len(action.Edits)))
			return ApplyResult{
				Document:    original,
				Diagnostics: timeoutDiagnostics(action, i, diagnostics),
			}
		}

		diagnostics = append(diagnostics, res)
		if res.Applied {
			current = next
			applied = append(applied, edit)
		}
	}

	result := ApplyResult{Document: current, Diagnostics: diagnostics}
	if len(applied) > 0 {
		result.AppliedAction = &types.DocumentAction{Kind: types.ActionDiffSet, Edits: applied}
	}
	return result
}

func unauthorizedDiagnostics(action *types.DocumentAction) []types.DiffApplicationResult {
	if action.Kind == types.ActionAppend {
		return []types.DiffApplicationResult{{
			NewText: strings.Join(action.Paragraphs, "\n\n"),
			Error:   "agent is not authorized to edit the document",
		}}
	}
	out := make([]types.DiffApplicationResult, 0, len(action.Edits))
	for _, e := range action.Edits {
		out = append(out, types.DiffApplicationResult{
			OldText: e.OldText,
			NewText: e.NewText,
			Error:   "agent is not authorized to edit the document",
		})
	}
	return out
}

// timeoutDiagnostics marks every edit of a timed-out batch as failed,
// keeping whatever per-edit detail was collected before the deadline.
func timeoutDiagnostics(action *types.DocumentAction, done int, collected []types.DiffApplicationResult) []types.DiffApplicationResult {
	out := make([]types.DiffApplicationResult, 0, len(action.Edits))
	for i, e := range action.Edits {
		res := types.DiffApplicationResult{
			OldText:    e.OldText,
			NewText:    e.NewText,
			Authorized: true,
			Error:      "similarity search timed out; batch abandoned",
		}
		if i < done && i < len(collected) {
			res.Similarity = collected[i].Similarity
		}
		res.Applied = false
		out = append(out, res)
	}
	return out
}
