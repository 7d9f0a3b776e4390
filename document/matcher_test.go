package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m := NewMatcher(DefaultMatcherConfig(), zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	doc := "Ch1\n\nShe walked in."
	out, res := m.FindAndReplace(context.Background(), doc, "She walked in.", "She walked in, soaked from the rain.", 0.8)

	require.True(t, res.Applied)
	assert.Equal(t, 1.0, res.Similarity)
	assert.Equal(t, "She walked in.", res.MatchedSpan)
	assert.Equal(t, "Ch1\n\nShe walked in, soaked from the rain.", out)
}

func TestMatcher_ExactMatchPriority(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	// A near-identical decoy precedes the exact occurrence; exact must win
	// and must never fall through to fuzzy search.
	doc := "She walked in!\n\nShe walked in."
	out, res := m.FindAndReplace(context.Background(), doc, "She walked in.", "REPLACED", 0.8)

	require.True(t, res.Applied)
	assert.Equal(t, 1.0, res.Similarity)
	assert.Equal(t, "She walked in!\n\nREPLACED", out)
}

func TestMatcher_FuzzyWhitespaceDrift(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	doc := "The rain hammered the tin roof\nwhile the kettle screamed below."
	// Model-authored oldText with line break folded to a space.
	old := "The rain hammered the tin roof while the kettle screamed below."
	out, res := m.FindAndReplace(context.Background(), doc, old, "Silence.", 0.8)

	require.True(t, res.Applied, "error: %s", res.Error)
	assert.GreaterOrEqual(t, res.Similarity, 0.8)
	assert.Contains(t, out, "Silence.")
	assert.NotContains(t, out, "kettle")
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	doc := "A quiet morning in the village."
	out, res := m.FindAndReplace(context.Background(), doc, "The dragon erupted from the sea.", "X", 0.8)

	assert.False(t, res.Applied)
	assert.Equal(t, ErrNoMatch.Error(), res.Error)
	assert.Equal(t, doc, out, "failed match must leave the document untouched")
}

func TestMatcher_EmptyOldText(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	doc := "content"
	out, res := m.FindAndReplace(context.Background(), doc, "", "X", 0.8)
	assert.False(t, res.Applied)
	assert.Equal(t, doc, out)
	assert.NotEmpty(t, res.Error)
}

func TestMatcher_DeletionEdit(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	doc := "keep this. drop this. keep that."
	out, res := m.FindAndReplace(context.Background(), doc, " drop this.", "", 0.8)
	require.True(t, res.Applied)
	assert.Equal(t, "keep this. keep that.", out)
}

func TestMatcher_MultiByteContent(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	doc := "第一章\n\n彼女は部屋に入った。雨が降っていた。"
	out, res := m.FindAndReplace(context.Background(), doc, "彼女は部屋に入った。", "彼女は静かに部屋に入った。", 0.8)
	require.True(t, res.Applied)
	assert.Equal(t, "第一章\n\n彼女は静かに部屋に入った。雨が降っていた。", out)
}

func TestMatcher_CanceledContext(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc := "Some document that would need a fuzzy scan to resolve."
	out, res := m.FindAndReplace(ctx, doc, "a fuzy scan to reslove", "X", 0.8)
	// No exact occurrence exists, and the canceled context must fail the
	// fuzzy pass without modifying anything.
	assert.False(t, res.Applied)
	assert.Equal(t, doc, out)
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, similarity("abc", "abc"))
	assert.Equal(t, 0.0, similarity("", "abc"))
	assert.Equal(t, 0.0, similarity("abc", ""))
	assert.InDelta(t, 0.75, similarity("abcd", "abxd"), 0.001)
	assert.Greater(t, similarity("hello world", "hello wurld"), 0.8)
}
