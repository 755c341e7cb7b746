package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridrealty/propsearch/pkg/domain"
)

func TestRRFCombinesAcrossStrategies(t *testing.T) {
	strategies := []domain.StrategyResults{
		{Strategy: "bm25", Results: []domain.RankedResult{{ZPID: "a", Rank: 1}, {ZPID: "b", Rank: 2}}},
		{Strategy: "knn_text", Results: []domain.RankedResult{{ZPID: "b", Rank: 1}, {ZPID: "a", Rank: 2}}},
	}
	out := RRF(strategies, domain.DefaultRRFWeights())

	require.Len(t, out, 2)
	// a: 1/61 + 1/62; b: 1/62 + 1/61 -- tied, so ascending id breaks the tie.
	assert.Equal(t, "a", out[0].ZPID)
	assert.Equal(t, "b", out[1].ZPID)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, 2, out[1].Rank)
}

func TestRRFIgnoresTimedOutStrategies(t *testing.T) {
	strategies := []domain.StrategyResults{
		{Strategy: "bm25", TimedOut: true, Results: []domain.RankedResult{{ZPID: "a", Rank: 1}}},
		{Strategy: "knn_text", Results: []domain.RankedResult{{ZPID: "b", Rank: 1}}},
	}
	out := RRF(strategies, domain.DefaultRRFWeights())

	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ZPID)
}

func TestRRFIsDeterministicAcrossRuns(t *testing.T) {
	strategies := []domain.StrategyResults{
		{Strategy: "bm25", Results: []domain.RankedResult{{ZPID: "x", Rank: 1}, {ZPID: "y", Rank: 2}, {ZPID: "z", Rank: 3}}},
	}
	weights := domain.DefaultRRFWeights()

	first := RRF(strategies, weights)
	second := RRF(strategies, weights)
	assert.Equal(t, first, second)
}

func TestRRFScoresAreBounded(t *testing.T) {
	strategies := []domain.StrategyResults{
		{Strategy: "bm25", Results: []domain.RankedResult{{ZPID: "a", Rank: 1}}},
		{Strategy: "knn_text", Results: []domain.RankedResult{{ZPID: "a", Rank: 1}}},
		{Strategy: "knn_image", Results: []domain.RankedResult{{ZPID: "a", Rank: 1}}},
	}
	out := RRF(strategies, domain.DefaultRRFWeights())

	require.Len(t, out, 1)
	maxPossible := 1.0/61 + 1.0/61 + 1.0/61
	assert.InDelta(t, maxPossible, out[0].Score, 1e-9)
}

func TestTagBoostFullMatch(t *testing.T) {
	mustHave := map[string]struct{}{"pool": {}, "garage": {}}
	matched := map[string]struct{}{"pool": {}, "garage": {}, "deck": {}}

	boost, tags := TagBoost(matched, mustHave)
	assert.Equal(t, 2.0, boost)
	assert.ElementsMatch(t, []string{"pool", "garage"}, tags)
}

func TestTagBoostPartialTiers(t *testing.T) {
	mustHave := map[string]struct{}{"a": {}, "b": {}, "c": {}, "d": {}}

	boost3of4, _ := TagBoost(map[string]struct{}{"a": {}, "b": {}, "c": {}}, mustHave)
	assert.Equal(t, 1.5, boost3of4)

	boost2of4, _ := TagBoost(map[string]struct{}{"a": {}, "b": {}}, mustHave)
	assert.Equal(t, 1.25, boost2of4)

	boost1of4, _ := TagBoost(map[string]struct{}{"a": {}}, mustHave)
	assert.Equal(t, 1.0, boost1of4)
}

func TestTagBoostNeverBelowOneOrAboveTwo(t *testing.T) {
	mustHave := map[string]struct{}{"a": {}}
	for _, matched := range []map[string]struct{}{
		{}, {"a": {}}, {"a": {}, "b": {}},
	} {
		boost, _ := TagBoost(matched, mustHave)
		assert.GreaterOrEqual(t, boost, 1.0)
		assert.LessOrEqual(t, boost, 2.0)
	}
}

func TestTagBoostEmptyMustHaveIsNeutral(t *testing.T) {
	boost, tags := TagBoost(map[string]struct{}{"a": {}}, map[string]struct{}{})
	assert.Equal(t, 1.0, boost)
	assert.Nil(t, tags)
}
