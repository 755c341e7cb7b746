// Package weighting implements Adaptive Weighting (C9, §4.9): a pure
// function that nudges the default Reciprocal Rank Fusion k-values
// toward whichever retrieval strategy best serves the classified query
// type, before fusion ever runs.
package weighting

import "github.com/hybridrealty/propsearch/pkg/domain"

// Resolve applies the five ordered rules of §4.9 on top of the §4.9
// baseline (60, 60, 60). Only the fields named by a matching rule are
// overridden; unmentioned fields keep the default. Rules are checked
// in order and the first match wins — a query only carries one
// QueryType, so there is no rule-stacking to resolve.
func Resolve(queryType domain.QueryType) domain.RRFWeights {
	w := domain.DefaultRRFWeights()

	switch queryType {
	case domain.QueryColor:
		// Color is matched exactly by tags (BM25) and poorly by image
		// embeddings, so BM25 gains weight and images lose it.
		w.BM25K = 30
		w.ImageK = 120
	case domain.QueryMaterial:
		// Materials show up in both description text and keyword tags.
		w.BM25K = 42
		w.TextK = 45
	case domain.QueryVisualStyle:
		// Style is read off the photos more reliably than the text.
		w.TextK = 45
		w.ImageK = 40
	case domain.QuerySpecificFeature, domain.QueryGeneral, domain.QueryProximity:
		// Baseline applies as-is.
	}

	return w
}
