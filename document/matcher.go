package document

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/tokoroten/noveldrive/internal/pool"
	"github.com/tokoroten/noveldrive/types"
)

// DefaultMinSimilarity is the threshold below which a fuzzy match is
// rejected. It balances tolerance for whitespace drift in model-authored
// oldText against the risk of corrupting unrelated text.
const DefaultMinSimilarity = 0.8

// DefaultMatchTimeout bounds one edit batch's similarity search.
const DefaultMatchTimeout = 30 * time.Second

// ErrNoMatch is reported when no span clears the similarity threshold.
var ErrNoMatch = errors.New("no sufficiently similar span found")

// MatcherConfig configures the approximate matcher.
type MatcherConfig struct {
	MinSimilarity float64       `yaml:"min_similarity" json:"min_similarity"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	Workers       int           `yaml:"workers" json:"workers"`
}

// DefaultMatcherConfig returns the defaults used when a field is zero.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		MinSimilarity: DefaultMinSimilarity,
		Timeout:       DefaultMatchTimeout,
		Workers:       2,
	}
}

// Matcher locates and replaces text spans, exactly when possible and by
// normalized edit similarity otherwise. Fuzzy scoring runs on a worker
// pool so the caller's goroutine only blocks, never computes.
type Matcher struct {
	cfg    MatcherConfig
	pool   *pool.WorkerPool
	logger *zap.Logger
}

// NewMatcher creates a matcher and starts its workers.
func NewMatcher(cfg MatcherConfig, logger *zap.Logger) *Matcher {
	def := DefaultMatcherConfig()
	if cfg.MinSimilarity <= 0 || cfg.MinSimilarity > 1 {
		cfg.MinSimilarity = def.MinSimilarity
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Matcher{
		cfg:    cfg,
		pool:   pool.New(cfg.Workers, cfg.Workers*2),
		logger: logger.With(zap.String("component", "diff_matcher")),
	}
}

// Close stops the matcher's workers.
func (m *Matcher) Close() { m.pool.Close() }

// MinSimilarity returns the configured default threshold.
func (m *Matcher) MinSimilarity() float64 { return m.cfg.MinSimilarity }

// Timeout returns the configured batch timeout.
func (m *Matcher) Timeout() time.Duration { return m.cfg.Timeout }

// FindAndReplace locates oldText in doc and replaces it with newText.
// Exact literal occurrence wins with similarity 1.0 and never falls
// through to fuzzy search. Otherwise the contiguous span with the highest
// normalized edit similarity is replaced, provided it clears minSimilarity.
// The returned document equals doc whenever Applied is false.
func (m *Matcher) FindAndReplace(ctx context.Context, doc, oldText, newText string, minSimilarity float64) (string, types.DiffApplicationResult) {
	result := types.DiffApplicationResult{OldText: oldText, NewText: newText, Authorized: true}

	if oldText == "" {
		result.Error = "empty old text"
		return doc, result
	}

	if idx := strings.Index(doc, oldText); idx >= 0 {
		result.Applied = true
		result.Similarity = 1.0
		result.MatchedSpan = oldText
		return doc[:idx] + newText + doc[idx+len(oldText):], result
	}

	if minSimilarity <= 0 || minSimilarity > 1 {
		minSimilarity = m.cfg.MinSimilarity
	}

	var span matchSpan
	err := m.pool.Submit(ctx, func(ctx context.Context) error {
		var err error
		span, err = bestSpan(ctx, doc, oldText)
		return err
	})
	if err != nil {
		result.Error = err.Error()
		return doc, result
	}

	if span.score < minSimilarity {
		m.logger.Debug("fuzzy match below threshold",
			zap.Float64("best", span.score),
			zap.Float64("threshold", minSimilarity))
		result.Similarity = span.score
		result.Error = ErrNoMatch.Error()
		return doc, result
	}

	matched := doc[span.start:span.end]
	result.Applied = true
	result.Similarity = span.score
	result.MatchedSpan = matched
	return doc[:span.start] + newText + doc[span.end:], result
}

type matchSpan struct {
	start, end int // byte offsets into the document
	score      float64
}

// cancellation is checked every checkEvery candidate windows.
const checkEvery = 64

// bestSpan finds the contiguous document span most similar to target.
// It scans windows of the target's rune length at a coarse stride, refines
// the winner at stride one, then probes nearby window lengths to absorb
// insertions and deletions.
func bestSpan(ctx context.Context, doc, target string) (matchSpan, error) {
	runes := []rune(doc)
	targetLen := len([]rune(target))
	normTarget := normalizeSpace(target)

	if len(runes) == 0 {
		return matchSpan{}, nil
	}
	if targetLen >= len(runes) {
		// The document itself is the only candidate span.
		return matchSpan{start: 0, end: len(doc), score: similarity(normalizeSpace(doc), normTarget)}, nil
	}

	stride := targetLen / 4
	if stride < 1 {
		stride = 1
	}

	best := matchSpan{score: -1}
	var checked int
	scan := func(start, length int) error {
		checked++
		if checked%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		end := start + length
		if end > len(runes) {
			end = len(runes)
		}
		score := similarity(normalizeSpace(string(runes[start:end])), normTarget)
		if score > best.score {
			best = matchSpan{start: start, end: end, score: score}
		}
		return nil
	}

	// Coarse pass.
	for start := 0; start+targetLen <= len(runes); start += stride {
		if err := scan(start, targetLen); err != nil {
			return matchSpan{}, err
		}
	}

	// Fine pass around the coarse winner.
	coarse := best
	for start := maxInt(0, coarse.start-stride); start <= minInt(len(runes)-targetLen, coarse.start+stride); start++ {
		if err := scan(start, targetLen); err != nil {
			return matchSpan{}, err
		}
	}

	// Length refinement: the true span may be up to ~20% shorter or longer
	// than the target when the model dropped or invented words.
	anchor := best.start
	lenStride := targetLen / 20
	if lenStride < 1 {
		lenStride = 1
	}
	for length := targetLen * 8 / 10; length <= targetLen*12/10; length += lenStride {
		if length < 1 || anchor+length > len(runes) {
			continue
		}
		if err := scan(anchor, length); err != nil {
			return matchSpan{}, err
		}
	}

	// Scanning tracked rune offsets; convert to byte offsets so the caller
	// can slice the original string safely for multi-byte content.
	byteStart := len(string(runes[:best.start]))
	byteEnd := len(string(runes[:best.end]))
	return matchSpan{start: byteStart, end: byteEnd, score: best.score}, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// similarity is the normalized edit similarity of two strings in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	if dist >= longest {
		return 0
	}
	return 1 - float64(dist)/float64(longest)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
