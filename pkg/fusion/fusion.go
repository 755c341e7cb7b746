// Package fusion implements Fusion + Boosting (C10, §4.10): combining
// the three retrieval strategies' ranked lists with Reciprocal Rank
// Fusion, then applying a multiplicative tag-match boost.
//
// The RRF loop is grounded on the teacher's HybridSearch fused-scores
// accumulation (pkg/core/advanced_search.go): walk each strategy's
// result list once, add 1/(k+rank) into a running map keyed by
// document id, then sort.
package fusion

import (
	"sort"

	"github.com/hybridrealty/propsearch/pkg/domain"
)

// RRF fuses zero or more strategy result lists into per-document
// scores. Strategies that did not return a document simply don't
// contribute a term for it (§4.10, I11). Ties are broken by ascending
// document id so results are deterministic (I11, P1).
func RRF(strategies []domain.StrategyResults, weights domain.RRFWeights) []domain.RankedResult {
	scores := make(map[string]float64)
	order := make([]string, 0)

	add := func(zpid string, k, rank float64) {
		if _, seen := scores[zpid]; !seen {
			order = append(order, zpid)
		}
		scores[zpid] += 1.0 / (k + rank)
	}

	for _, sr := range strategies {
		if sr.TimedOut {
			continue
		}
		k := kFor(sr.Strategy, weights)
		for _, r := range sr.Results {
			add(r.ZPID, k, float64(r.Rank))
		}
	}

	out := make([]domain.RankedResult, 0, len(order))
	for _, zpid := range order {
		out = append(out, domain.RankedResult{ZPID: zpid, Score: scores[zpid]})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ZPID < out[j].ZPID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func kFor(strategy string, w domain.RRFWeights) float64 {
	switch strategy {
	case "bm25":
		return w.BM25K
	case "knn_text":
		return w.TextK
	case "knn_image":
		return w.ImageK
	default:
		return 60
	}
}

// TagBoost computes the multiplicative boost of §4.10 / I12: the ratio
// r of matched must_have tags to total must_have tags determines a
// step function in [1.0, 2.0]. An empty must_have set never boosts:
// r is undefined, so the result is 1.0 with no matched tags.
func TagBoost(matched, mustHave map[string]struct{}) (boost float64, matchedTags []string) {
	if len(mustHave) == 0 {
		return 1.0, nil
	}

	var hit int
	for tag := range mustHave {
		if _, ok := matched[tag]; ok {
			hit++
			matchedTags = append(matchedTags, tag)
		}
	}
	r := float64(hit) / float64(len(mustHave))

	switch {
	case r == 1.0:
		boost = 2.0
	case r >= 0.75:
		boost = 1.5
	case r >= 0.5:
		boost = 1.25
	default:
		boost = 1.0
	}
	return boost, matchedTags
}
