package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector("noveldrive", reg)

	c.TurnCompleted(OutcomeCompleted, 2*time.Second)
	c.TurnCompleted(OutcomeFailed, time.Second)
	c.TokensUsed(100, 40)
	c.QueueDepth(3)
	c.DiffEdit("exact")
	c.DiffEdit("failed")
	c.Summarization("ok")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.turnsTotal.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.turnsTotal.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, float64(100), testutil.ToFloat64(c.llmTokens.WithLabelValues("prompt")))
	assert.Equal(t, float64(40), testutil.ToFloat64(c.llmTokens.WithLabelValues("completion")))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.diffResults.WithLabelValues("exact")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.summarizations.WithLabelValues("ok")))

	// A second collector on a fresh registry must not collide.
	require.NotPanics(t, func() { NewCollector("noveldrive", prometheus.NewRegistry()) })
}
